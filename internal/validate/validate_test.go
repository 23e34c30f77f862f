package validate

import (
	"errors"
	"reflect"
	"testing"

	"baseloader/internal/record"
)

func row(ident, name, phone string) record.Row {
	return record.Row{Fields: map[string]string{
		"identificacion":  ident,
		"nombre_completo": name,
		"celular":         phone,
	}}
}

func indexes(fs []Finding) []int {
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Index
	}
	return out
}

// The three-row scenario: A valid, B missing identification, C a 9-digit
// phone that normalizes to A's number.
func threeRows() []record.Row {
	return []record.Row{
		row("0102030405", "ANA", "0991234567"),
		row("", "BETO", "0987654321"),
		row("0605040302", "CARLA", "991234567"),
	}
}

func TestCheck_ThreeRowScenario(t *testing.T) {
	t.Parallel()

	f := Check(threeRows(), DefaultColumns)
	if got := indexes(f.Incomplete); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("incomplete = %v, want [1]", got)
	}
	if f.Incomplete[0].Reason != ReasonBlankIdentification {
		t.Fatalf("reason = %s", f.Incomplete[0].Reason)
	}
	if got := indexes(f.DuplicatePhones); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("duplicates = %v, want [0 2]", got)
	}
	if !errors.Is(Gate(f), ErrRejected) {
		t.Fatalf("gate should reject")
	}

	drop := f.Drop()
	want := map[int]string{1: ReasonBlankIdentification, 2: ReasonDuplicatePhone}
	if !reflect.DeepEqual(drop, want) {
		t.Fatalf("drop = %v, want %v", drop, want)
	}
}

func TestCheck_Rules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		row    record.Row
		reason string
	}{
		{"valid", row("0102030405", "ANA", "0991234567"), ""},
		{"eight digits are completed", row("0102030405", "ANA", "91234567"), ""},
		{"short phone", row("0102030405", "ANA", "1234567"), ReasonShortPhone},
		{"blank phone", row("0102030405", "ANA", ""), ReasonShortPhone},
		{"blank id and name", row("", "", "0991234567"), ""},
		{"blank id with name", row(" ", "ANA", "0991234567"), ReasonBlankIdentification},
		{"float artifact", row("0102030405", "ANA", "991234567.0"), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Check([]record.Row{tc.row}, DefaultColumns)
			got := ""
			if len(f.Incomplete) > 0 {
				got = f.Incomplete[0].Reason
			}
			if got != tc.reason {
				t.Fatalf("reason = %q, want %q", got, tc.reason)
			}
		})
	}
}

func TestCheck_CleanInputPassesGate(t *testing.T) {
	t.Parallel()

	f := Check([]record.Row{
		row("1", "A", "0991111111"),
		row("2", "B", "0992222222"),
	}, DefaultColumns)
	if !f.Empty() || Gate(f) != nil || len(f.Drop()) != 0 {
		t.Fatalf("findings = %+v", f)
	}
}

func TestPhoneIndex_KeepsDistinctPhonesApart(t *testing.T) {
	t.Parallel()

	idx := newPhoneIndex(4)
	idx.add("0991111111", 0)
	idx.add("0992222222", 1)
	idx.add("0991111111", 2)
	idx.add("0993333333", 3)
	if got := idx.repeated(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("repeated = %v", got)
	}
}
