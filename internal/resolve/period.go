package resolve

import (
	"context"
	"errors"
	"fmt"

	"baseloader/internal/normalize"
	"baseloader/internal/schema"
	"baseloader/internal/store"
)

var (
	// ErrUnknownYear means the year is not in the anio table.
	ErrUnknownYear = errors.New("unknown year")
	// ErrUnknownMonth means the month is not in the mes table.
	ErrUnknownMonth = errors.New("unknown month")
)

// PeriodKey is a period as read from the input, before id resolution.
type PeriodKey struct {
	Year   string
	Month  string
	Label  string
	Source string
}

// Blank reports whether the key has no month; such rows have no period.
func (k PeriodKey) Blank() bool { return normalize.Month(k.Month) == "" }

// YearTable and MonthTable describe the seeded lookups.
var (
	YearTable  = store.RefTable{Name: schema.YearTable, IDColumn: schema.YearID, KeyColumn: schema.YearKey}
	MonthTable = store.RefTable{Name: schema.MonthTable, IDColumn: schema.MonthID, KeyColumn: schema.MonthKey}
)

// Periods resolves period keys within one transaction, caching the year and
// month lookups and every period already resolved.
type Periods struct {
	tx      store.Tx
	years   Mapping
	months  Mapping
	cache   map[store.PeriodKey]int64
	Created int
}

// NewPeriods loads the year and month lookups.
func NewPeriods(ctx context.Context, tx store.Tx) (*Periods, error) {
	years, err := tx.Keys(ctx, YearTable)
	if err != nil {
		return nil, fmt.Errorf("resolve period: %w", err)
	}
	months, err := tx.Keys(ctx, MonthTable)
	if err != nil {
		return nil, fmt.Errorf("resolve period: %w", err)
	}
	return &Periods{
		tx:     tx,
		years:  NewMapping(years),
		months: NewMapping(months),
		cache:  make(map[store.PeriodKey]int64),
	}, nil
}

// Resolve returns the id of k, inserting the period when it does not exist.
// Year and month must already be present in their lookups.
func (p *Periods) Resolve(ctx context.Context, k PeriodKey) (int64, error) {
	year := normalize.Year(k.Year)
	yearID, ok := p.years.ID(year)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownYear, k.Year)
	}
	month := normalize.Month(k.Month)
	monthID, ok := p.months.ID(month)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMonth, k.Month)
	}
	sk := store.PeriodKey{YearID: yearID, MonthID: monthID, Label: k.Label, Source: k.Source}
	if id, ok := p.cache[sk]; ok {
		return id, nil
	}

	id, found, err := p.tx.FindPeriod(ctx, sk)
	if err != nil {
		return 0, err
	}
	if !found {
		if err := p.tx.InsertPeriod(ctx, sk); err != nil {
			return 0, fmt.Errorf("resolve period: %w", err)
		}
		if id, found, err = p.tx.FindPeriod(ctx, sk); err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("resolve period: %s/%s %q missing after insert", year, month, k.Label)
		}
		p.Created++
	}
	p.cache[sk] = id
	return id, nil
}

// ResolveAll resolves one key per row. Rows whose key has no month get id 0.
func (p *Periods) ResolveAll(ctx context.Context, keys []PeriodKey) ([]int64, error) {
	ids := make([]int64, len(keys))
	for i, k := range keys {
		if k.Blank() {
			continue
		}
		id, err := p.Resolve(ctx, k)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Distinct is the number of different periods resolved so far.
func (p *Periods) Distinct() int { return len(p.cache) }

// ResolvePeriod resolves a single key.
func ResolvePeriod(ctx context.Context, tx store.Tx, k PeriodKey) (int64, error) {
	p, err := NewPeriods(ctx, tx)
	if err != nil {
		return 0, err
	}
	return p.Resolve(ctx, k)
}
