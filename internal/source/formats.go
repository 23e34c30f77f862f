package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

const utf8BOM = "\ufeff"

// sheet is the raw cell grid of one sheet; cells[0] is the header row and
// skipped counts blank rows dropped above it.
type sheet struct {
	name    string
	cells   [][]string
	skipped int
}

// readWorkbook returns the non-empty sheets of an xlsx workbook in tab
// order, limited to want when it is non-empty.
func readWorkbook(path string, want []string) ([]sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: open workbook %s: %w", path, err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(want) > 0 {
		names, err = pickSheets(names, want)
		if err != nil {
			return nil, fmt.Errorf("source: %s: %w", path, err)
		}
	}

	var out []sheet
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("source: read sheet %s of %s: %w", name, path, err)
		}
		trimmed := dropLeadingBlank(rows)
		if len(trimmed) == 0 {
			continue
		}
		out = append(out, sheet{name: name, cells: trimmed, skipped: len(rows) - len(trimmed)})
	}
	return out, nil
}

func pickSheets(have, want []string) ([]string, error) {
	byUpper := make(map[string]string, len(have))
	for _, h := range have {
		byUpper[strings.ToUpper(strings.TrimSpace(h))] = h
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		name, ok := byUpper[strings.ToUpper(strings.TrimSpace(w))]
		if !ok {
			return nil, fmt.Errorf("sheet %q not found (have %s)", w, strings.Join(have, ", "))
		}
		out = append(out, name)
	}
	return out, nil
}

// readCSV returns the file as a single unnamed sheet.
func readCSV(path string, delim rune) ([]sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	if delim != 0 {
		cr.Comma = delim
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: parse %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	trimmed := dropLeadingBlank(rows)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if len(trimmed[0]) > 0 {
		trimmed[0][0] = strings.TrimPrefix(trimmed[0][0], utf8BOM)
	}
	return []sheet{{cells: trimmed, skipped: len(rows) - len(trimmed)}}, nil
}

func dropLeadingBlank(rows [][]string) [][]string {
	for len(rows) > 0 && blankRow(rows[0]) {
		rows = rows[1:]
	}
	return rows
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
