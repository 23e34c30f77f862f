// Package validate checks input rows for minimum completeness and duplicate
// phone numbers before anything is written to the database.
//
// Under the gate policy any finding stops the run (ErrRejected) and the
// caller writes the rejection workbook. Under the skip policy the findings
// only decide which rows are dropped: incomplete rows, and every repeated
// phone after its first occurrence.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"baseloader/internal/normalize"
	"baseloader/internal/record"
)

// ErrRejected is returned by Gate when the input fails validation.
var ErrRejected = errors.New("input rejected by validation gate")

// Reasons attached to findings; they also appear in the skipped-rows log.
const (
	ReasonBlankIdentification = "identificacion_vacia"
	ReasonShortPhone          = "celular_invalido"
	ReasonDuplicatePhone      = "celular_duplicado"
)

// Columns the checks read.
type Columns struct {
	Identification string
	Name           string
	Phone          string
}

// DefaultColumns are the customer columns every profile uses.
var DefaultColumns = Columns{Identification: "identificacion", Name: "nombre_completo", Phone: "celular"}

// Finding points at one row of the checked slice.
type Finding struct {
	Index  int
	Reason string
	Phone  string // normalized phone
}

// Findings is the outcome of Check. Duplicates lists every occurrence of a
// repeated phone, in input order.
type Findings struct {
	Incomplete      []Finding
	DuplicatePhones []Finding
}

// Empty reports whether no row failed.
func (f Findings) Empty() bool { return len(f.Incomplete) == 0 && len(f.DuplicatePhones) == 0 }

// Drop returns the rows the skip policy removes, with the reason of each.
// The first occurrence of a duplicated phone is kept.
func (f Findings) Drop() map[int]string {
	out := make(map[int]string, len(f.Incomplete)+len(f.DuplicatePhones))
	for _, x := range f.Incomplete {
		out[x.Index] = x.Reason
	}
	seen := make(map[string]bool)
	for _, x := range f.DuplicatePhones {
		if !seen[x.Phone] {
			seen[x.Phone] = true
			continue
		}
		if _, ok := out[x.Index]; !ok {
			out[x.Index] = ReasonDuplicatePhone
		}
	}
	return out
}

// Check validates rows. A row is incomplete when its identification is blank
// while a name is present, or when its normalized phone has fewer than
// normalize.PhoneLength characters.
func Check(rows []record.Row, cols Columns) Findings {
	var f Findings
	idx := newPhoneIndex(len(rows))
	for i, r := range rows {
		phone := normalize.Phone(r.Get(cols.Phone))
		switch {
		case strings.TrimSpace(r.Get(cols.Identification)) == "" && strings.TrimSpace(r.Get(cols.Name)) != "":
			f.Incomplete = append(f.Incomplete, Finding{Index: i, Reason: ReasonBlankIdentification, Phone: phone})
		case len(phone) < normalize.PhoneLength:
			f.Incomplete = append(f.Incomplete, Finding{Index: i, Reason: ReasonShortPhone, Phone: phone})
		}
		if phone != "" {
			idx.add(phone, i)
		}
	}
	for _, i := range idx.repeated() {
		f.DuplicatePhones = append(f.DuplicatePhones, Finding{Index: i, Reason: ReasonDuplicatePhone, Phone: normalize.Phone(rows[i].Get(cols.Phone))})
	}
	return f
}

// Gate returns ErrRejected when f is not empty.
func Gate(f Findings) error {
	if f.Empty() {
		return nil
	}
	return fmt.Errorf("%w: %d incomplete, %d duplicate-phone rows", ErrRejected, len(f.Incomplete), len(f.DuplicatePhones))
}

// phoneIndex groups row indexes by phone. Buckets are keyed by the xxh3 hash
// and hold the phone itself so colliding hashes stay distinct.
type phoneIndex struct {
	buckets map[uint64][]phoneRows
}

type phoneRows struct {
	phone string
	rows  []int
}

func newPhoneIndex(n int) *phoneIndex {
	return &phoneIndex{buckets: make(map[uint64][]phoneRows, n)}
}

func (p *phoneIndex) add(phone string, row int) {
	h := xxh3.HashString(phone)
	b := p.buckets[h]
	for i := range b {
		if b[i].phone == phone {
			b[i].rows = append(b[i].rows, row)
			return
		}
	}
	p.buckets[h] = append(b, phoneRows{phone: phone, rows: []int{row}})
}

// repeated returns, in ascending order, every row whose phone occurs more
// than once.
func (p *phoneIndex) repeated() []int {
	var out []int
	for _, b := range p.buckets {
		for _, pr := range b {
			if len(pr.rows) > 1 {
				out = append(out, pr.rows...)
			}
		}
	}
	sort.Ints(out)
	return out
}
