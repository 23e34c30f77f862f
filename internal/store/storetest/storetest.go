// Package storetest opens throwaway databases for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"baseloader/internal/config"
	"baseloader/internal/schema"
	"baseloader/internal/store"
	"baseloader/internal/store/sqlite"
)

// Years seeded by Open.
var Years = []string{"2024", "2025", "2026"}

// Open returns a file-backed SQLite store in t's temp dir with the schema of
// profile already created. The store is closed when the test ends.
func Open(t testing.TB, profile string) (store.Store, config.Profile) {
	t.Helper()
	p, err := config.LookupProfile(profile)
	if err != nil {
		t.Fatal(err)
	}
	return OpenProfile(t, p), p
}

// OpenProfile is Open for an explicit profile.
func OpenProfile(t testing.TB, p config.Profile) store.Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)"
	s, err := sqlite.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(ctx, schema.Build(p, Years)); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

// Begin starts a transaction that is rolled back when the test ends.
func Begin(t testing.TB, s store.Store) store.Tx {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback(ctx) })
	return tx
}
