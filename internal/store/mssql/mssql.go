// Package mssql registers the "mssql" store backend for SQL Server using
// go-mssqldb. Fact rows are appended with the driver's bulk copy API;
// generated ids come back through OUTPUT INSERTED.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"baseloader/internal/schema"
	"baseloader/internal/store"
	"baseloader/internal/store/sqlstore"
)

func init() {
	store.Register("mssql", func(ctx context.Context, dsn string) (store.Store, error) {
		return Open(ctx, dsn)
	})
}

// Open validates the DSN, connects and pings.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqlstore.New(db, Dialect{}), nil
}

// Dialect is the SQL Server flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string                { return "mssql" }
func (Dialect) Placeholder(n int) string    { return fmt.Sprintf("@p%d", n) }
func (Dialect) QuoteIdent(id string) string { return schema.QuoteBracket(id) }

func (Dialect) CreateTable(name, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s);",
		strings.ReplaceAll(name, "'", "''"), name, body)
}

// ColumnType maps logical types onto SQL Server types. Indexed text is
// bounded so UNIQUE constraints stay within the index key size limit.
func (Dialect) ColumnType(c schema.Column) string {
	switch c.Type {
	case schema.TypeIdentity:
		return "BIGINT IDENTITY(1,1) PRIMARY KEY"
	case schema.TypeRef, schema.TypeInt:
		return "BIGINT"
	case schema.TypeNumeric:
		return "DECIMAL(18, 4)"
	case schema.TypeKey:
		return "NVARCHAR(200)"
	default:
		return "NVARCHAR(MAX)"
	}
}

// InsertIgnoreSQL guards the insert with NOT EXISTS under UPDLOCK/HOLDLOCK
// so concurrent loaders cannot both insert the same key.
func (d Dialect) InsertIgnoreSQL(table string, cols, keyCols []string) string {
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		pos[c] = i + 1
	}
	conds := make([]string, 0, len(keyCols))
	for _, k := range keyCols {
		conds = append(conds, fmt.Sprintf("%s = %s", d.QuoteIdent(k), d.Placeholder(pos[k])))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s)",
		d.QuoteIdent(table), sqlstore.ColumnList(d, cols), sqlstore.Placeholders(d, len(cols)),
		d.QuoteIdent(table), strings.Join(conds, " AND "))
}

func (d Dialect) InsertReturningSQL(table, idCol string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)",
		d.QuoteIdent(table), sqlstore.ColumnList(d, cols), d.QuoteIdent(idCol), sqlstore.Placeholders(d, len(cols)))
}

// BulkInsert streams rows through the TDS bulk copy protocol.
func (Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, cols...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk %s: %w", table, err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("mssql: bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("mssql: bulk finalize %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mssql: rows affected: %w", err)
	}
	return n, nil
}
