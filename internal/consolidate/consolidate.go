// Package consolidate copies the customers of one loaded period into the
// cross-base cliente_consolidado table, tagging each row with the base it
// came from and its provider.
package consolidate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"baseloader/internal/config"
	"baseloader/internal/schema"
	"baseloader/internal/store"
)

// Columns of cliente_consolidado in insert order.
var Columns = []string{
	schema.CustomerPhone, schema.CustomerIdentification, schema.CustomerName,
	schema.PeriodLabel, "origen", "proveedor",
}

// Request selects what to copy.
type Request struct {
	Period   int64
	Origin   string
	Provider string
}

// RequestFromConfig builds a Request; the origin defaults to the profile
// name uppercased.
func RequestFromConfig(cfg *config.Config, p config.Profile) Request {
	origin := cfg.ConsolidateOrigin
	if origin == "" {
		origin = strings.ToUpper(p.Name)
	}
	return Request{Period: cfg.ConsolidatePeriod, Origin: origin, Provider: cfg.ConsolidateProvider}
}

// ExtractSpecFor names the tables joined for a profile.
func ExtractSpecFor(p config.Profile) store.ExtractSpec {
	return store.ExtractSpec{
		CustomerTable: p.Customer.Table,
		CustomerID:    p.Customer.IDColumn,
		FactTable:     p.Fact.Table,
	}
}

// Run reads the period from src and appends it to dst. The read transaction
// is closed before the write transaction opens, so src and dst may be the
// same single-connection store.
func Run(ctx context.Context, src, dst store.Store, spec store.ExtractSpec, req Request) (int64, error) {
	if req.Period <= 0 {
		return 0, fmt.Errorf("consolidate: period id is required")
	}

	rows, err := extract(ctx, src, spec, req.Period)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		log.Printf("consolidate: period=%d has no customers in %s", req.Period, spec.FactTable)
		return 0, nil
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{null(r.Phone), null(r.Identification), null(r.FullName), null(r.Label), null(req.Origin), null(req.Provider)}
	}

	tx, err := dst.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("consolidate: begin target: %w", err)
	}
	n, err := tx.CopyRows(ctx, schema.ConsolidateTable, Columns, values)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return 0, fmt.Errorf("consolidate: copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("consolidate: commit: %w", err)
	}
	log.Printf("consolidate: period=%d origin=%s provider=%s rows=%d", req.Period, req.Origin, req.Provider, n)
	return n, nil
}

func extract(ctx context.Context, src store.Store, spec store.ExtractSpec, period int64) ([]store.ConsolidatedRow, error) {
	tx, err := src.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("consolidate: begin source: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.PeriodExtract(ctx, spec, period)
	if err != nil {
		return nil, fmt.Errorf("consolidate: extract: %w", err)
	}
	return rows, nil
}

func null(s string) any {
	if s == "" {
		return nil
	}
	return s
}
