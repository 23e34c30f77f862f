// Package customer inserts customer rows and links every input row to a
// customer id under one of two explicit policies:
//
//   - append: every input row becomes a new customer.
//   - dedup: rows are keyed by normalized (identification, phone); only pairs
//     not yet stored are inserted and every row receives the id of its pair.
//     When the store already holds the same pair more than once the most
//     recent row (highest id) wins.
//
// Generated ids always come back from the insert itself, in input order.
package customer

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"baseloader/internal/config"
	"baseloader/internal/normalize"
	"baseloader/internal/schema"
	"baseloader/internal/store"
)

// Row is one customer as derived from an input row. Zero ref ids and empty
// attributes are stored as NULL.
type Row struct {
	Identification string
	Name           string
	Phone          string
	Refs           map[string]int64
	Attrs          map[string]string
}

// Spec names the customer table and its optional columns.
type Spec struct {
	Table       string
	IDColumn    string
	RefColumns  []string
	AttrColumns []string
}

// SpecFor derives the Spec of a profile. Column order follows the schema.
func SpecFor(p config.Profile) Spec {
	s := Spec{Table: p.Customer.Table, IDColumn: p.Customer.IDColumn}
	t, _ := schema.Build(p, nil).Table(p.Customer.Table)
	for _, c := range t.Columns {
		if _, ok := p.Customer.Refs[c.Name]; ok {
			s.RefColumns = append(s.RefColumns, c.Name)
		}
		if _, ok := p.Customer.Attrs[c.Name]; ok {
			s.AttrColumns = append(s.AttrColumns, c.Name)
		}
	}
	return s
}

// Columns is the insert column list.
func (s Spec) Columns() []string {
	cols := []string{schema.CustomerIdentification, schema.CustomerName, schema.CustomerPhone}
	cols = append(cols, s.RefColumns...)
	return append(cols, s.AttrColumns...)
}

// Result counts how input rows were linked.
type Result struct {
	Rows     int
	Inserted int // new customer rows
	Matched  int // rows linked to a customer stored before this run
	Repeated int // rows linked to a customer inserted earlier in this run
}

func (r Result) String() string {
	return fmt.Sprintf("rows=%d inserted=%d matched=%d repeated=%d", r.Rows, r.Inserted, r.Matched, r.Repeated)
}

// Upsert stores customers for rows under policy and returns one customer id
// per row.
func Upsert(ctx context.Context, tx store.Tx, spec Spec, policy config.CustomerPolicy, rows []Row) ([]int64, Result, error) {
	switch policy {
	case config.CustomerAppend:
		return appendAll(ctx, tx, spec, rows)
	case config.CustomerDedup:
		return dedup(ctx, tx, spec, rows)
	default:
		return nil, Result{}, fmt.Errorf("customer: unknown policy %q", policy)
	}
}

func appendAll(ctx context.Context, tx store.Tx, spec Spec, rows []Row) ([]int64, Result, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = spec.values(r)
	}
	ids, err := tx.InsertReturning(ctx, spec.Table, spec.IDColumn, spec.Columns(), values)
	if err != nil {
		return nil, Result{}, fmt.Errorf("customer: insert: %w", err)
	}
	return ids, Result{Rows: len(rows), Inserted: len(ids)}, nil
}

func dedup(ctx context.Context, tx store.Tx, spec Spec, rows []Row) ([]int64, Result, error) {
	res := Result{Rows: len(rows)}

	stored, err := tx.Customers(ctx, spec.Table, spec.IDColumn)
	if err != nil {
		return nil, res, fmt.Errorf("customer: read existing: %w", err)
	}
	existing := newIdentityIndex(len(stored))
	for _, c := range stored {
		// Ascending ids: later rows overwrite, so the newest duplicate wins.
		ident, phone := identity(c.Identification, c.Phone)
		existing.put(ident, phone, c.ID)
	}

	ids := make([]int64, len(rows))
	pending := newIdentityIndex(0)
	var (
		fresh    [][]any
		freshPos [][]int // rows waiting for each fresh insert
	)
	for i, r := range rows {
		ident, phone := identity(r.Identification, r.Phone)
		if id, ok := existing.get(ident, phone); ok {
			ids[i] = id
			res.Matched++
			continue
		}
		if slot, ok := pending.get(ident, phone); ok {
			freshPos[slot] = append(freshPos[slot], i)
			res.Repeated++
			continue
		}
		pending.put(ident, phone, int64(len(fresh)))
		fresh = append(fresh, spec.values(r))
		freshPos = append(freshPos, []int{i})
	}

	newIDs, err := tx.InsertReturning(ctx, spec.Table, spec.IDColumn, spec.Columns(), fresh)
	if err != nil {
		return nil, res, fmt.Errorf("customer: insert: %w", err)
	}
	for slot, id := range newIDs {
		for _, i := range freshPos[slot] {
			ids[i] = id
		}
	}
	res.Inserted = len(newIDs)
	return ids, res, nil
}

// identity is the dedup key of a customer. Stored rows may predate the
// normalizer, so both sides go through it.
func identity(ident, phone string) (string, string) {
	return strings.ToUpper(normalize.Identification(ident)), normalize.Phone(phone)
}

func (s Spec) values(r Row) []any {
	v := make([]any, 0, 3+len(s.RefColumns)+len(s.AttrColumns))
	v = append(v, r.Identification, nullString(r.Name), nullString(r.Phone))
	for _, c := range s.RefColumns {
		if id := r.Refs[c]; id != 0 {
			v = append(v, id)
		} else {
			v = append(v, nil)
		}
	}
	for _, c := range s.AttrColumns {
		v = append(v, nullString(r.Attrs[c]))
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// identityIndex maps (identification, phone) to a value. Keys are hashed
// with xxh3; each bucket keeps the full pair so collisions stay exact.
type identityIndex struct {
	buckets map[uint64][]identityEntry
}

type identityEntry struct {
	ident, phone string
	v            int64
}

func newIdentityIndex(n int) *identityIndex {
	return &identityIndex{buckets: make(map[uint64][]identityEntry, n)}
}

func identityHash(ident, phone string) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(ident)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(phone)
	return h.Sum64()
}

func (x *identityIndex) put(ident, phone string, v int64) {
	h := identityHash(ident, phone)
	b := x.buckets[h]
	for i := range b {
		if b[i].ident == ident && b[i].phone == phone {
			b[i].v = v
			return
		}
	}
	x.buckets[h] = append(b, identityEntry{ident: ident, phone: phone, v: v})
}

func (x *identityIndex) get(ident, phone string) (int64, bool) {
	for _, e := range x.buckets[identityHash(ident, phone)] {
		if e.ident == ident && e.phone == phone {
			return e.v, true
		}
	}
	return 0, false
}
