// Package sqlite registers the "sqlite" store backend (modernc.org/sqlite,
// pure Go). It serves local runs against a file database and the
// end-to-end tests, which use an in-memory database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"baseloader/internal/schema"
	"baseloader/internal/store"
	"baseloader/internal/store/sqlstore"

	_ "modernc.org/sqlite"
)

func init() {
	store.Register("sqlite", func(ctx context.Context, dsn string) (store.Store, error) {
		return Open(ctx, dsn)
	})
}

// Open opens a SQLite database. DSN examples:
//
//	"file:bases.db?_pragma=foreign_keys(1)"
//	"file::memory:?cache=shared"
//
// SQLite has a single writer, so the pool is capped at one connection; this
// also keeps an in-memory database alive for the lifetime of the Store.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return sqlstore.New(db, Dialect{}), nil
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string                { return "sqlite" }
func (Dialect) Placeholder(int) string      { return "?" }
func (Dialect) QuoteIdent(id string) string { return schema.QuoteDouble(id) }

func (Dialect) CreateTable(name, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", name, body)
}

// ColumnType maps logical types onto SQLite affinities. Identity columns
// must be INTEGER PRIMARY KEY to alias the rowid.
func (Dialect) ColumnType(c schema.Column) string {
	switch c.Type {
	case schema.TypeIdentity:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case schema.TypeRef, schema.TypeInt:
		return "INTEGER"
	case schema.TypeNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func (d Dialect) InsertIgnoreSQL(table string, cols, _ []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		d.QuoteIdent(table), sqlstore.ColumnList(d, cols), sqlstore.Placeholders(d, len(cols)))
}

func (d Dialect) InsertReturningSQL(table, idCol string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		d.QuoteIdent(table), sqlstore.ColumnList(d, cols), sqlstore.Placeholders(d, len(cols)), d.QuoteIdent(idCol))
}

func (d Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error) {
	return sqlstore.PreparedInsert(ctx, d, tx, table, cols, rows)
}
