// Package resolve maps natural keys to surrogate ids, creating missing
// reference rows and periods on the way.
//
// All writes go through the run transaction and use insert-ignore on the
// table's unique key, so a key inserted concurrently by another loader is
// simply picked up on the re-read instead of failing or duplicating.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"baseloader/internal/store"
)

// Candidate is one natural key seen in the input together with the values of
// the table's extra columns, taken from the first row carrying the key.
type Candidate struct {
	Key    string
	Extras []any
}

// Mapping is a case-insensitive natural key -> id lookup.
type Mapping struct {
	ids map[string]int64
}

func fold(k string) string { return strings.ToUpper(strings.TrimSpace(k)) }

// NewMapping builds a Mapping from stored rows.
func NewMapping(rows []store.KeyID) Mapping {
	m := Mapping{ids: make(map[string]int64, len(rows))}
	for _, r := range rows {
		m.ids[fold(r.Key)] = r.ID
	}
	return m
}

// ID returns the id of key.
func (m Mapping) ID(key string) (int64, bool) {
	id, ok := m.ids[fold(key)]
	return id, ok
}

// Len is the number of keys.
func (m Mapping) Len() int { return len(m.ids) }

// Result summarizes one ResolveOrCreate call.
type Result struct {
	Table      string
	Candidates int // distinct non-blank keys in the input
	Existing   int // of those, already stored
	Inserted   int // rows actually inserted
}

func (r Result) String() string {
	return fmt.Sprintf("table=%s candidates=%d existing=%d inserted=%d", r.Table, r.Candidates, r.Existing, r.Inserted)
}

// ResolveOrCreate makes sure every candidate key exists in t and returns the
// full mapping of the table. Blank keys are ignored and duplicates collapse
// to their first occurrence. The operation is strictly additive.
func ResolveOrCreate(ctx context.Context, tx store.Tx, t store.RefTable, candidates []Candidate) (Mapping, Result, error) {
	res := Result{Table: t.Name}

	stored, err := tx.Keys(ctx, t)
	if err != nil {
		return Mapping{}, res, err
	}
	have := NewMapping(stored)

	seen := make(map[string]struct{}, len(candidates))
	var fresh [][]any
	for _, c := range candidates {
		k := fold(c.Key)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		res.Candidates++
		if _, ok := have.ID(k); ok {
			res.Existing++
			continue
		}
		row := make([]any, 0, 1+len(t.Extras))
		row = append(row, strings.TrimSpace(c.Key))
		for i := range t.Extras {
			var v any
			if i < len(c.Extras) {
				v = c.Extras[i]
			}
			row = append(row, v)
		}
		fresh = append(fresh, row)
	}
	if len(fresh) == 0 {
		return have, res, nil
	}

	n, err := tx.InsertIgnore(ctx, t, fresh)
	if err != nil {
		return Mapping{}, res, fmt.Errorf("resolve %s: %w", t.Name, err)
	}
	res.Inserted = int(n)

	stored, err = tx.Keys(ctx, t)
	if err != nil {
		return Mapping{}, res, err
	}
	m := NewMapping(stored)
	for k := range seen {
		if _, ok := m.ID(k); !ok {
			return Mapping{}, res, fmt.Errorf("resolve %s: key %q missing after insert", t.Name, k)
		}
	}
	return m, res, nil
}
