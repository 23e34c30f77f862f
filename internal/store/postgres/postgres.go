// Package postgres registers the "postgres" store backend on pgx/v5.
//
// Reference and customer inserts are pipelined with pgx batches so that one
// round trip carries a whole key set; fact rows use COPY. Every run
// transaction takes a transaction-scoped advisory lock so that two loaders
// pointed at the same database serialize their reference-table writes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/xxh3"

	"baseloader/internal/schema"
	"baseloader/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, dsn string) (store.Store, error) {
		return Open(ctx, dsn)
	})
}

// lockKey identifies the advisory lock shared by every loader run.
var lockKey = int64(xxh3.HashString("baseloader/reference-writes"))

// poolLike is the subset of *pgxpool.Pool the store needs.
type poolLike interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store is the pgx-backed store.Store.
type Store struct {
	pool poolLike
}

// Open creates a connection pool and pings it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", describe(err))
	}
	return &Store{pool: pool}, nil
}

func newStoreFromPool(p poolLike) *Store { return &Store{pool: p} }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Begin starts the run transaction and takes the advisory lock.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", describe(err))
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("postgres: advisory lock: %w", describe(err))
	}
	return &Tx{tx: tx}, nil
}

// EnsureSchema creates missing tables and seeds lookups in one transaction.
func (s *Store) EnsureSchema(ctx context.Context, sc schema.Schema) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin schema: %w", describe(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range sc.Tables {
		ddl, err := schema.CreateTableSQL(t, Dialect{})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create %s: %w", t.Name, describe(err))
		}
	}
	w := &Tx{tx: tx}
	for _, seed := range sc.Seeds {
		if _, err := w.InsertIgnore(ctx, store.SeedTable(seed), store.SeedRows(seed.Values)); err != nil {
			return fmt.Errorf("seed %s: %w", seed.Table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit schema: %w", describe(err))
	}
	return nil
}

// Tx wraps a pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Keys(ctx context.Context, rt store.RefTable) ([]store.KeyID, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s", pgIdent(rt.IDColumn), pgIdent(rt.KeyColumn), pgIdent(rt.Name))
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", rt.Name, describe(err))
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.KeyID, error) {
		var k store.KeyID
		var key *string
		if err := r.Scan(&k.ID, &key); err != nil {
			return k, err
		}
		if key != nil {
			k.Key = *key
		}
		return k, nil
	})
}

func (t *Tx) InsertIgnore(ctx context.Context, rt store.RefTable, rows [][]any) (int64, error) {
	cols := append([]string{rt.KeyColumn}, rt.Extras...)
	return t.execBatch(ctx, rt.Name, insertIgnoreSQL(rt.Name, cols), len(cols), rows)
}

func (t *Tx) FindPeriod(ctx context.Context, k store.PeriodKey) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, findPeriodSQL(), k.YearID, k.MonthID, k.Label, k.Source).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: find period: %w", describe(err))
	}
	return id, true, nil
}

func (t *Tx) InsertPeriod(ctx context.Context, k store.PeriodKey) error {
	cols := store.PeriodColumns()
	_, err := t.execBatch(ctx, schema.PeriodTable, insertIgnoreSQL(schema.PeriodTable, cols), len(cols),
		[][]any{{k.YearID, k.MonthID, k.Label, k.Source}})
	return err
}

func (t *Tx) Customers(ctx context.Context, table, idColumn string) ([]store.CustomerKey, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s",
		pgIdent(idColumn), pgIdent(schema.CustomerIdentification), pgIdent(schema.CustomerPhone), pgIdent(table), pgIdent(idColumn))
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: read customers: %w", describe(err))
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.CustomerKey, error) {
		var c store.CustomerKey
		var ident, phone *string
		if err := r.Scan(&c.ID, &ident, &phone); err != nil {
			return c, err
		}
		c.Identification, c.Phone = deref(ident), deref(phone)
		return c, nil
	})
}

func (t *Tx) InsertReturning(ctx context.Context, table, idColumn string, columns []string, rows [][]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	q := insertReturningSQL(table, idColumn, columns)
	b := &pgx.Batch{}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("postgres: insert %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
		b.Queue(q, r...)
	}
	br := t.tx.SendBatch(ctx, b)
	ids := make([]int64, len(rows))
	for i := range rows {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("postgres: insert %s row %d: %w", table, i, describe(err))
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("postgres: insert %s: %w", table, describe(err))
	}
	return ids, nil
}

func (t *Tx) Pairs(ctx context.Context, table, customerColumn, periodColumn string) ([]store.Pair, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s", pgIdent(customerColumn), pgIdent(periodColumn), pgIdent(table))
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", table, describe(err))
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.Pair, error) {
		var p store.Pair
		err := r.Scan(&p.Customer, &p.Period)
		return p, err
	})
}

// CopyRows appends rows with COPY FROM STDIN.
func (t *Tx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy %s: %w", table, describe(err))
	}
	return n, nil
}

func (t *Tx) PeriodExtract(ctx context.Context, spec store.ExtractSpec, periodID int64) ([]store.ConsolidatedRow, error) {
	rows, err := t.tx.Query(ctx, periodExtractSQL(spec), periodID)
	if err != nil {
		return nil, fmt.Errorf("postgres: extract period %d: %w", periodID, describe(err))
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.ConsolidatedRow, error) {
		var phone, ident, name, label *string
		if err := r.Scan(&phone, &ident, &name, &label); err != nil {
			return store.ConsolidatedRow{}, err
		}
		return store.ConsolidatedRow{
			Phone:          strings.TrimSpace(deref(phone)),
			Identification: strings.TrimSpace(deref(ident)),
			FullName:       strings.TrimSpace(deref(name)),
			Label:          strings.TrimSpace(deref(label)),
		}, nil
	})
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", describe(err))
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// execBatch queues one statement per row and sums the affected rows.
func (t *Tx) execBatch(ctx context.Context, table, q string, width int, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for i, r := range rows {
		if len(r) != width {
			return 0, fmt.Errorf("postgres: insert %s: row %d has %d values, want %d", table, i, len(r), width)
		}
		b.Queue(q, r...)
	}
	br := t.tx.SendBatch(ctx, b)
	var inserted int64
	for i := range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return inserted, fmt.Errorf("postgres: insert %s row %d: %w", table, i, describe(err))
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return inserted, fmt.Errorf("postgres: insert %s: %w", table, describe(err))
	}
	return inserted, nil
}

// describe appends SQLSTATE and detail of a server error.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := "sqlstate=" + pgErr.Code
		if pgErr.Detail != "" {
			msg += " detail=" + pgErr.Detail
		}
		return fmt.Errorf("%w (%s)", err, msg)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
