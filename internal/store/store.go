// Package store is the database boundary of the loader. A Store opens one
// transaction per run; everything a run writes goes through that Tx so a
// failed run leaves nothing behind.
//
// Backends live in subpackages (postgres, sqlite, mssql) and register
// themselves by driver name; import internal/store/all to link them in.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"baseloader/internal/schema"
)

// RefTable describes a lookup table keyed by a unique natural key.
type RefTable struct {
	Name      string
	IDColumn  string
	KeyColumn string
	// Extras are additional columns written after the key on insert.
	Extras []string
}

// KeyID is one stored (id, natural key) pair.
type KeyID struct {
	ID  int64
	Key string
}

// PeriodKey is the natural key of a periodo_carga row.
type PeriodKey struct {
	YearID  int64
	MonthID int64
	Label   string
	Source  string
}

// CustomerKey is the identity of a stored customer.
type CustomerKey struct {
	ID             int64
	Identification string
	Phone          string
}

// Pair is a (customer id, period id) pair already present in a fact table.
type Pair struct {
	Customer int64
	Period   int64
}

// ExtractSpec names the tables joined when extracting one period.
type ExtractSpec struct {
	CustomerTable string
	CustomerID    string
	FactTable     string
}

// ConsolidatedRow is one customer of a period as copied to cliente_consolidado.
type ConsolidatedRow struct {
	Phone          string
	Identification string
	FullName       string
	Label          string
}

// Store is an open database.
type Store interface {
	// Begin starts the run transaction.
	Begin(ctx context.Context) (Tx, error)
	// EnsureSchema creates missing tables and inserts missing seed keys.
	EnsureSchema(ctx context.Context, s schema.Schema) error
	Close() error
}

// Tx is the run transaction.
type Tx interface {
	// Keys reads every (id, key) of a lookup table.
	Keys(ctx context.Context, t RefTable) ([]KeyID, error)
	// InsertIgnore inserts rows of (key, extras...) skipping keys that already
	// exist, and returns how many rows were actually inserted.
	InsertIgnore(ctx context.Context, t RefTable, rows [][]any) (int64, error)

	// FindPeriod looks up a period by its full natural key.
	FindPeriod(ctx context.Context, k PeriodKey) (int64, bool, error)
	// InsertPeriod inserts a period unless it already exists.
	InsertPeriod(ctx context.Context, k PeriodKey) error

	// Customers reads the identity of every stored customer ordered by id.
	Customers(ctx context.Context, table, idColumn string) ([]CustomerKey, error)
	// InsertReturning inserts rows one by one and returns their generated ids
	// in input order.
	InsertReturning(ctx context.Context, table, idColumn string, columns []string, rows [][]any) ([]int64, error)

	// Pairs reads the (customer, period) pairs of a fact table.
	Pairs(ctx context.Context, table, customerColumn, periodColumn string) ([]Pair, error)
	// CopyRows bulk-appends rows.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// PeriodExtract reads the customers attached to one period.
	PeriodExtract(ctx context.Context, spec ExtractSpec, periodID int64) ([]ConsolidatedRow, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OpenFunc opens a backend for the given DSN.
type OpenFunc func(ctx context.Context, dsn string) (Store, error)

var (
	regMu    sync.RWMutex
	registry = map[string]OpenFunc{}
)

// Register makes a backend available under driver. It panics on duplicates,
// which can only happen through a programming error in an init function.
func Register(driver string, fn OpenFunc) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[driver]; dup {
		panic("store: duplicate driver " + driver)
	}
	registry[driver] = fn
}

// Open opens the backend registered under driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	regMu.RLock()
	fn, ok := registry[driver]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (registered: %v)", driver, Drivers())
	}
	return fn(ctx, dsn)
}

// Drivers lists the registered driver names.
func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PeriodColumns lists the natural-key columns of periodo_carga in insert order.
func PeriodColumns() []string {
	return []string{schema.YearID, schema.MonthID, schema.PeriodLabel, schema.PeriodSource}
}

// SeedTable turns a schema seed into the lookup descriptor used to insert it.
func SeedTable(s schema.Seed) RefTable {
	return RefTable{Name: s.Table, IDColumn: s.IDColumn, KeyColumn: s.KeyColumn}
}

// SeedRows turns seed values into InsertIgnore rows.
func SeedRows(values []string) [][]any {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}
	return rows
}
