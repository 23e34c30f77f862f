// Package sqlstore implements store.Store on top of database/sql for engines
// reached through a database/sql driver (SQLite, SQL Server). Everything
// engine-specific is delegated to a Dialect: placeholders, the
// insert-ignore and insert-returning statement shapes, and bulk loading.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"baseloader/internal/schema"
	"baseloader/internal/store"
)

// Dialect captures the SQL differences between database/sql engines.
type Dialect interface {
	schema.Dialect
	// Name is used as an error prefix, e.g. "sqlite".
	Name() string
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// InsertIgnoreSQL inserts one row of cols unless a row with the same
	// keyCols values exists. Bind parameters follow cols order.
	InsertIgnoreSQL(table string, cols, keyCols []string) string
	// InsertReturningSQL inserts one row of cols and yields its idCol.
	InsertReturningSQL(table, idCol string, cols []string) string
	// BulkInsert appends rows inside tx using the engine's fastest path.
	BulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error)
}

// Store is a database/sql backed store.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

// New wraps an open *sql.DB.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

// DB exposes the underlying handle (tests, diagnostics).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Begin starts the run transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", s.d.Name(), err)
	}
	return &Tx{tx: tx, d: s.d}, nil
}

// EnsureSchema creates missing tables in order and inserts missing seeds,
// all in one transaction.
func (s *Store) EnsureSchema(ctx context.Context, sc schema.Schema) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin schema: %w", s.d.Name(), err)
	}
	for _, t := range sc.Tables {
		ddl, err := schema.CreateTableSQL(t, s.d)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: create %s: %w", s.d.Name(), t.Name, err)
		}
	}
	w := &Tx{tx: tx, d: s.d}
	for _, seed := range sc.Seeds {
		if _, err := w.InsertIgnore(ctx, store.SeedTable(seed), store.SeedRows(seed.Values)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed %s: %w", seed.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit schema: %w", s.d.Name(), err)
	}
	return nil
}

// Tx is the database/sql run transaction.
type Tx struct {
	tx *sql.Tx
	d  Dialect
}

func (t *Tx) q(id string) string { return t.d.QuoteIdent(id) }

func (t *Tx) Keys(ctx context.Context, rt store.RefTable) ([]store.KeyID, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", t.q(rt.IDColumn), t.q(rt.KeyColumn), t.q(rt.Name))
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", t.d.Name(), rt.Name, err)
	}
	defer rows.Close()

	var out []store.KeyID
	for rows.Next() {
		var k store.KeyID
		var key sql.NullString
		if err := rows.Scan(&k.ID, &key); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", t.d.Name(), rt.Name, err)
		}
		k.Key = key.String
		out = append(out, k)
	}
	return out, rows.Err()
}

func (t *Tx) InsertIgnore(ctx context.Context, rt store.RefTable, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := append([]string{rt.KeyColumn}, rt.Extras...)
	return t.insertIgnore(ctx, rt.Name, cols, []string{rt.KeyColumn}, rows)
}

func (t *Tx) insertIgnore(ctx context.Context, table string, cols, keyCols []string, rows [][]any) (int64, error) {
	stmt, err := t.tx.PrepareContext(ctx, t.d.InsertIgnoreSQL(table, cols, keyCols))
	if err != nil {
		return 0, fmt.Errorf("%s: prepare insert %s: %w", t.d.Name(), table, err)
	}
	defer stmt.Close()

	var inserted int64
	for i, r := range rows {
		if len(r) != len(cols) {
			return inserted, fmt.Errorf("%s: insert %s: row %d has %d values, want %d", t.d.Name(), table, i, len(r), len(cols))
		}
		res, err := stmt.ExecContext(ctx, r...)
		if err != nil {
			return inserted, fmt.Errorf("%s: insert %s row %d: %w", t.d.Name(), table, i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

func (t *Tx) FindPeriod(ctx context.Context, k store.PeriodKey) (int64, bool, error) {
	cols := store.PeriodColumns()
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = t.q(c) + " = " + t.d.Placeholder(i+1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		t.q(schema.PeriodID), t.q(schema.PeriodTable), strings.Join(conds, " AND "))

	var id int64
	err := t.tx.QueryRowContext(ctx, query, k.YearID, k.MonthID, k.Label, k.Source).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: find period: %w", t.d.Name(), err)
	}
	return id, true, nil
}

func (t *Tx) InsertPeriod(ctx context.Context, k store.PeriodKey) error {
	cols := store.PeriodColumns()
	_, err := t.insertIgnore(ctx, schema.PeriodTable, cols, cols,
		[][]any{{k.YearID, k.MonthID, k.Label, k.Source}})
	return err
}

func (t *Tx) Customers(ctx context.Context, table, idColumn string) ([]store.CustomerKey, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s",
		t.q(idColumn), t.q(schema.CustomerIdentification), t.q(schema.CustomerPhone), t.q(table), t.q(idColumn))
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: read customers: %w", t.d.Name(), err)
	}
	defer rows.Close()

	var out []store.CustomerKey
	for rows.Next() {
		var c store.CustomerKey
		var ident, phone sql.NullString
		if err := rows.Scan(&c.ID, &ident, &phone); err != nil {
			return nil, fmt.Errorf("%s: scan customer: %w", t.d.Name(), err)
		}
		c.Identification, c.Phone = ident.String, phone.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *Tx) InsertReturning(ctx context.Context, table, idColumn string, columns []string, rows [][]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.d.InsertReturningSQL(table, idColumn, columns))
	if err != nil {
		return nil, fmt.Errorf("%s: prepare insert %s: %w", t.d.Name(), table, err)
	}
	defer stmt.Close()

	ids := make([]int64, len(rows))
	for i, r := range rows {
		if err := stmt.QueryRowContext(ctx, r...).Scan(&ids[i]); err != nil {
			return nil, fmt.Errorf("%s: insert %s row %d: %w", t.d.Name(), table, i, err)
		}
	}
	return ids, nil
}

func (t *Tx) Pairs(ctx context.Context, table, customerColumn, periodColumn string) ([]store.Pair, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", t.q(customerColumn), t.q(periodColumn), t.q(table))
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", t.d.Name(), table, err)
	}
	defer rows.Close()

	var out []store.Pair
	for rows.Next() {
		var p store.Pair
		if err := rows.Scan(&p.Customer, &p.Period); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", t.d.Name(), table, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: copy %s: columns must not be empty", t.d.Name(), table)
	}
	return t.d.BulkInsert(ctx, t.tx, table, columns, rows)
}

func (t *Tx) PeriodExtract(ctx context.Context, spec store.ExtractSpec, periodID int64) ([]store.ConsolidatedRow, error) {
	query := fmt.Sprintf(`SELECT c.%[1]s, c.%[2]s, c.%[3]s, p.%[4]s
FROM %[5]s c
JOIN %[6]s f ON c.%[7]s = f.%[7]s
JOIN %[8]s p ON f.%[9]s = p.%[9]s
WHERE f.%[9]s = %[10]s
ORDER BY c.%[7]s`,
		t.q(schema.CustomerPhone), t.q(schema.CustomerIdentification), t.q(schema.CustomerName), t.q(schema.PeriodLabel),
		t.q(spec.CustomerTable), t.q(spec.FactTable), t.q(spec.CustomerID),
		t.q(schema.PeriodTable), t.q(schema.PeriodID), t.d.Placeholder(1))

	rows, err := t.tx.QueryContext(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("%s: extract period %d: %w", t.d.Name(), periodID, err)
	}
	defer rows.Close()

	var out []store.ConsolidatedRow
	for rows.Next() {
		var phone, ident, name, label sql.NullString
		if err := rows.Scan(&phone, &ident, &name, &label); err != nil {
			return nil, fmt.Errorf("%s: scan extract: %w", t.d.Name(), err)
		}
		out = append(out, store.ConsolidatedRow{
			Phone:          strings.TrimSpace(phone.String),
			Identification: strings.TrimSpace(ident.String),
			FullName:       strings.TrimSpace(name.String),
			Label:          strings.TrimSpace(label.String),
		})
	}
	return out, rows.Err()
}

func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.d.Name(), err)
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("%s: rollback: %w", t.d.Name(), err)
	}
	return nil
}

// ColumnList quotes and joins column names.
func ColumnList(d schema.Dialect, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}

// Placeholders renders n bind parameters starting at 1.
func Placeholders(d Dialect, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(i + 1)
	}
	return strings.Join(out, ", ")
}

// PreparedInsert appends rows with one prepared INSERT executed per row. It
// is the bulk path for engines without a native copy protocol.
func PreparedInsert(ctx context.Context, d Dialect, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error) {
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdent(table), ColumnList(d, cols), Placeholders(d, len(cols)))
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare insert %s: %w", d.Name(), table, err)
	}
	defer stmt.Close()

	var inserted int64
	for i, row := range rows {
		if len(row) != len(cols) {
			return inserted, fmt.Errorf("%s: insert %s: row %d length %d != columns length %d", d.Name(), table, i, len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("%s: insert %s row %d: %w", d.Name(), table, i, err)
		}
		inserted++
	}
	return inserted, nil
}
