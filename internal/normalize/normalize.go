// Package normalize holds the pure string cleanup rules applied to raw cell
// values before they are compared against, or written to, the database.
//
// None of the functions fail: values that cannot be interpreted are returned
// verbatim and, where it matters, counted in a Stats value so the caller can
// log one soft-warning summary per run.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SentinelIdentification replaces a blank identification.
const SentinelIdentification = "9999999999"

// PhoneLength is the canonical length of a local mobile number.
const PhoneLength = 10

const (
	prefix8 = "09"
	prefix9 = "0"
)

// Stats counts soft warnings produced while normalizing a batch of rows.
type Stats struct {
	IdentificationsFixed int
	SuspiciousPhones     int
	UnparsableNumbers    int
}

// Phone canonicalizes a mobile number. A trailing ".0" left by numeric cell
// parsing is dropped, then only digits are kept. Eight digits get the "09"
// operator prefix and nine digits a leading zero; anything else is returned
// digit-stripped and left for downstream validation to flag.
func Phone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	d := digits(s)
	switch len(d) {
	case 8:
		return prefix8 + d
	case 9:
		return prefix9 + d
	default:
		return d
	}
}

// PhoneSuspicious reports whether a normalized phone is not a full local number.
func PhoneSuspicious(phone string) bool {
	return len(phone) != PhoneLength || digits(phone) != phone
}

// Phone is the package-level Phone plus soft-warning accounting.
func (s *Stats) Phone(raw string) string {
	p := Phone(raw)
	if p != "" && PhoneSuspicious(p) {
		s.SuspiciousPhones++
	}
	return p
}

// Identification trims the value and undoes the float rendering spreadsheets
// apply to numeric ids ("1712345678.0" -> "1712345678"). Blank values become
// SentinelIdentification.
func Identification(raw string) string {
	v, _ := identification(raw)
	return v
}

// Identification is the package-level Identification plus soft-warning accounting.
func (s *Stats) Identification(raw string) string {
	v, fixed := identification(raw)
	if fixed {
		s.IdentificationsFixed++
	}
	return v
}

func identification(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return SentinelIdentification, false
	}
	if strings.HasSuffix(v, ".0") {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return v, false
		}
		return strconv.FormatFloat(f, 'f', 0, 64), true
	}
	return v, false
}

// Text trims surrounding whitespace, including non-breaking spaces.
func Text(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
}

// Key is the comparison form of every natural key: trimmed and uppercased.
func Key(raw string) string {
	return strings.ToUpper(Text(raw))
}

var (
	descAllowed = regexp.MustCompile(`[^A-Za-z0-9\s.,\-]`)
	spaces      = regexp.MustCompile(`\s+`)
	stripMarks  = runes.Remove(runes.In(unicode.Mn))
)

// Description cleans free-text catalog values such as payment methods:
// double-encoded latin-1 text is repaired, diacritics and symbols removed,
// whitespace collapsed and the result uppercased.
func Description(raw string) string {
	s := repairMojibake(Text(raw))
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, stripMarks, norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = asciiOnly(s)
	s = strings.ReplaceAll(s, "/", " ")
	s = descAllowed.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.ToUpper(strings.TrimSpace(s))
}

// repairMojibake undoes UTF-8 text that was decoded once as latin-1
// ("CrÃ©dito" -> "Crédito"). Text that does not round-trip is left alone.
func repairMojibake(s string) string {
	if isASCII(s) {
		return s
	}
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}

var months = [...]string{
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

// Months returns the twelve month names as stored in the mes table.
func Months() []string {
	out := make([]string, len(months))
	copy(out, months[:])
	return out
}

// MonthName is the Spanish uppercase name of m.
func MonthName(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return months[m-1]
}

var folderPrefix = regexp.MustCompile(`^\d{2}\.\s*`)

// Month canonicalizes a month cell or folder name: "01.ENERO" and "enero"
// both become "ENERO", and numeric months 1..12 are spelled out.
func Month(raw string) string {
	s := strings.TrimSuffix(Key(raw), ".0")
	s = folderPrefix.ReplaceAllString(s, "")
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return months[n-1]
		}
		return s
	}
	if s == "SETIEMBRE" {
		return "SEPTIEMBRE"
	}
	return s
}

// Year renders a year cell as digits: "2025.0" -> "2025".
func Year(raw string) string {
	s := Text(raw)
	if strings.HasSuffix(s, ".0") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	return s
}

// ExtractionLabel is the day-month-year stamp used as a period label when the
// input does not carry one, e.g. "19oct2026".
func ExtractionLabel(t time.Time) string {
	return strings.ToLower(t.Format("02Jan2006"))
}

// Numeric parses a measure. A lone comma is a decimal separator. When both
// separators appear, the last one is the decimal separator and the other
// groups thousands ("1.234,56" and "1,234.56" are both 1234.56). ok is false
// for blank or unparsable input.
func Numeric(raw string) (float64, bool) {
	s := Text(raw)
	if s == "" {
		return 0, false
	}
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case comma < 0:
	case dot < 0:
		if strings.Count(s, ",") > 1 {
			return 0, false
		}
		s = strings.Replace(s, ",", ".", 1)
	case comma > dot:
		if strings.Count(s, ",") > 1 {
			return 0, false
		}
		s = strings.ReplaceAll(s[:comma], ".", "") + "." + s[comma+1:]
	default:
		if strings.Count(s, ".") > 1 {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Numeric is the package-level Numeric plus soft-warning accounting for non-blank
// values that fail to parse.
func (s *Stats) Numeric(raw string) (float64, bool) {
	f, ok := Numeric(raw)
	if !ok && Text(raw) != "" {
		s.UnparsableNumbers++
	}
	return f, ok
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func asciiOnly(s string) string {
	if isASCII(s) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
