// Package fact builds the customer × period fact rows of a run and appends
// them to the profile's fact table in a single bulk copy.
package fact

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"baseloader/internal/config"
	"baseloader/internal/normalize"
	"baseloader/internal/record"
	"baseloader/internal/schema"
	"baseloader/internal/store"
)

// Skipper receives every dropped row. *report.SkipLog implements it.
type Skipper interface {
	Add(reason string, r record.Row, field, value string)
}

// Reasons written to the skip log besides the missing column name.
const (
	ReasonMissingRef   = "fk_faltante"
	ReasonBadMeasure   = "medida_invalida"
	ReasonExistingPair = "par_existente"
)

// Spec describes the fact table of a profile.
type Spec struct {
	Table          string
	CustomerColumn string
	PeriodColumn   string
	Refs           []config.FactRef
	Measures       []config.Measure
	// SkipExisting drops (customer, period) pairs already in the table.
	SkipExisting bool

	Skips Skipper
	Stats *normalize.Stats
}

// SpecFor derives the Spec of a profile. Dedup profiles skip existing pairs
// so a re-run of the same input does not duplicate facts.
func SpecFor(p config.Profile) Spec {
	return Spec{
		Table:          p.Fact.Table,
		CustomerColumn: p.Customer.IDColumn,
		PeriodColumn:   schema.PeriodID,
		Refs:           p.Fact.Refs,
		Measures:       p.Fact.Measures,
		SkipExisting:   p.CustomerPolicy == config.CustomerDedup,
	}
}

// Columns is the fact column list in insert order.
func (s Spec) Columns() []string {
	cols := make([]string, 0, 2+len(s.Refs)+len(s.Measures))
	cols = append(cols, s.CustomerColumn, s.PeriodColumn)
	for _, r := range s.Refs {
		cols = append(cols, r.Column)
	}
	for _, m := range s.Measures {
		cols = append(cols, m.Column)
	}
	return cols
}

// Row is one candidate fact. Ref ids are keyed by fact column; 0 means
// unresolved. Measures are read from Source.
type Row struct {
	Source   record.Row
	Customer int64
	Period   int64
	Refs     map[string]int64
}

// Result counts one Load. Dropped == Candidates - Inserted; Existing is
// part of Dropped.
type Result struct {
	Candidates int
	Inserted   int64
	Dropped    int
	Existing   int
	// Missing counts dropped rows per offending column.
	Missing map[string]int
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidates=%d inserted=%d dropped=%d existing=%d", r.Candidates, r.Inserted, r.Dropped, r.Existing)
	cols := make([]string, 0, len(r.Missing))
	for c := range r.Missing {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		fmt.Fprintf(&b, " missing_%s=%d", c, r.Missing[c])
	}
	return b.String()
}

// Load filters rows, coerces measures and appends the survivors.
func Load(ctx context.Context, tx store.Tx, spec Spec, rows []Row) (Result, error) {
	res := Result{Candidates: len(rows), Missing: map[string]int{}}
	stats := spec.Stats
	if stats == nil {
		stats = &normalize.Stats{}
	}
	drop := func(r Row, reason, field, value string) {
		res.Dropped++
		res.Missing[field]++
		if spec.Skips != nil {
			spec.Skips.Add(reason, r.Source, field, value)
		}
	}

	var existing map[store.Pair]struct{}
	if spec.SkipExisting {
		pairs, err := tx.Pairs(ctx, spec.Table, spec.CustomerColumn, spec.PeriodColumn)
		if err != nil {
			return res, fmt.Errorf("fact: read existing pairs: %w", err)
		}
		existing = make(map[store.Pair]struct{}, len(pairs))
		for _, p := range pairs {
			existing[p] = struct{}{}
		}
	}

	out := make([][]any, 0, len(rows))
rows:
	for _, r := range rows {
		if r.Customer == 0 {
			drop(r, ReasonMissingRef, spec.CustomerColumn, "")
			continue
		}
		if r.Period == 0 {
			drop(r, ReasonMissingRef, spec.PeriodColumn, r.Source.Get("mes"))
			continue
		}

		v := make([]any, 0, 2+len(spec.Refs)+len(spec.Measures))
		v = append(v, r.Customer, r.Period)
		for _, ref := range spec.Refs {
			id := r.Refs[ref.Column]
			switch {
			case id != 0:
				v = append(v, id)
			case ref.Required:
				drop(r, ReasonMissingRef, ref.Column, r.Source.Get(ref.Column))
				continue rows
			default:
				v = append(v, nil)
			}
		}
		for _, m := range spec.Measures {
			raw := r.Source.Get(m.SourceColumn())
			if m.Type != config.MeasureNumeric {
				v = append(v, nullText(raw))
				continue
			}
			f, ok := stats.Numeric(raw)
			switch {
			case ok:
				v = append(v, f)
			case m.Mandatory:
				drop(r, ReasonBadMeasure, m.Column, raw)
				continue rows
			case normalize.Text(raw) == "":
				v = append(v, nil)
			default:
				v = append(v, 0.0)
			}
		}

		if existing != nil {
			p := store.Pair{Customer: r.Customer, Period: r.Period}
			if _, dup := existing[p]; dup {
				res.Dropped++
				res.Existing++
				if spec.Skips != nil {
					spec.Skips.Add(ReasonExistingPair, r.Source, spec.CustomerColumn, fmt.Sprint(r.Customer))
				}
				continue
			}
			existing[p] = struct{}{}
		}
		out = append(out, v)
	}

	n, err := tx.CopyRows(ctx, spec.Table, spec.Columns(), out)
	if err != nil {
		return res, fmt.Errorf("fact: copy %d rows into %s: %w", len(out), spec.Table, err)
	}
	res.Inserted = n
	return res, nil
}

func nullText(raw string) any {
	s := normalize.Text(raw)
	if s == "" {
		return nil
	}
	return s
}
