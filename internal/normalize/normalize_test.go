package normalize

import (
	"testing"
	"time"
)

func TestPhone_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nine_digits_gets_leading_zero", "991234567", "0991234567"},
		{"eight_digits_gets_operator_prefix", "91234567", "0991234567"},
		{"ten_digits_unchanged", "0991234567", "0991234567"},
		{"ten_digits_other_prefix_unchanged", "1234567890", "1234567890"},
		{"float_artifact_dropped", "991234567.0", "0991234567"},
		{"punctuation_stripped", " 099-123-4567 ", "0991234567"},
		{"short_passes_through", "12345", "12345"},
		{"blank", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Phone(tt.in); got != tt.want {
				t.Fatalf("Phone(%q)=%q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Every 8 or 9 digit input becomes a 10-digit string starting with 0.
func TestPhone_ShortInputsAlwaysCanonical(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"00000000", "99999999", "12345678", "000000000", "999999999", "123456789"} {
		got := Phone(in)
		if len(got) != PhoneLength || got[0] != '0' || PhoneSuspicious(got) {
			t.Fatalf("Phone(%q)=%q, want 10 digits with leading zero", in, got)
		}
		if len(in) == 8 && got[:2] != "09" {
			t.Fatalf("Phone(%q)=%q, want 09 prefix", in, got)
		}
	}
}

func TestIdentification_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"1712345678.0", "1712345678"},
		{" 1712345678 ", "1712345678"},
		{"", SentinelIdentification},
		{"   ", SentinelIdentification},
		{"ABC.0", "ABC.0"},
		{"0102030405", "0102030405"},
		{"1790012345001", "1790012345001"},
	}
	for _, tt := range tests {
		if got := Identification(tt.in); got != tt.want {
			t.Fatalf("Identification(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStats_CountsSoftWarnings(t *testing.T) {
	t.Parallel()

	var s Stats
	s.Identification("1712345678.0")
	s.Identification("1712345678")
	s.Phone("12345")
	s.Phone("")
	s.Phone("991234567")
	s.Numeric("abc")
	s.Numeric("")
	s.Numeric("12.5")

	if s.IdentificationsFixed != 1 {
		t.Fatalf("IdentificationsFixed=%d, want 1", s.IdentificationsFixed)
	}
	if s.SuspiciousPhones != 1 {
		t.Fatalf("SuspiciousPhones=%d, want 1", s.SuspiciousPhones)
	}
	if s.UnparsableNumbers != 1 {
		t.Fatalf("UnparsableNumbers=%d, want 1", s.UnparsableNumbers)
	}
}

func TestDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Tarjeta de Crédito/Débito", "TARJETA DE CREDITO DEBITO"},
		{"  débito   bancario ", "DEBITO BANCARIO"},
		{"CrÃ©dito", "CREDITO"},
		{"Pago (efectivo)!", "PAGO EFECTIVO"},
		{"Año", "ANO"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Description(tt.in); got != tt.want {
			t.Fatalf("Description(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeyAndText(t *testing.T) {
	t.Parallel()

	if got := Key("  pichincha "); got != "PICHINCHA" {
		t.Fatalf("Key=%q", got)
	}
	if got := Text("\tJuan Pérez "); got != "Juan Pérez" {
		t.Fatalf("Text=%q", got)
	}
}

func TestMonth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"enero", "ENERO"},
		{"01.ENERO", "ENERO"},
		{"02. febrero", "FEBRERO"},
		{"3", "MARZO"},
		{"12.0", "DICIEMBRE"},
		{"13", "13"},
		{"Setiembre", "SEPTIEMBRE"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Month(tt.in); got != tt.want {
			t.Fatalf("Month(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
	if MonthName(time.October) != "OCTUBRE" {
		t.Fatalf("MonthName(October)=%q", MonthName(time.October))
	}
	if len(Months()) != 12 {
		t.Fatalf("Months len=%d", len(Months()))
	}
}

func TestYearAndLabel(t *testing.T) {
	t.Parallel()

	if got := Year("2025.0"); got != "2025" {
		t.Fatalf("Year=%q", got)
	}
	if got := Year(" 2024 "); got != "2024" {
		t.Fatalf("Year=%q", got)
	}
	d := time.Date(2026, time.October, 9, 10, 0, 0, 0, time.UTC)
	if got := ExtractionLabel(d); got != "09oct2026" {
		t.Fatalf("ExtractionLabel=%q", got)
	}
}

func TestNumeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"12.5", 12.5, true},
		{"12,5", 12.5, true},
		{"1,234.50", 1234.5, true},
		{"1.234,56", 1234.56, true},
		{"1.234.567,5", 1234567.5, true},
		{"1,2,3", 0, false},
		{"1,234.5.6", 0, false},
		{"1.234,5,6", 0, false},
		{" 7 ", 7, true},
		{"n/a", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := Numeric(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("Numeric(%q)=(%v,%v), want (%v,%v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
