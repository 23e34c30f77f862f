// Package report writes the files a load leaves next to its input: the
// rejection workbook of the validation gate, the skipped-rows CSV, and the
// optional normalized copy of the input.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"baseloader/internal/record"
	"baseloader/internal/validate"
)

// Sheet names of the rejection workbook.
const (
	SheetIncomplete = "Incompletos"
	SheetDuplicates = "Duplicados_Celular"
)

// RejectionName is the workbook name for a run in month, e.g. INCORRECTA_ENERO.xlsx.
func RejectionName(month string) string {
	return "INCORRECTA_" + strings.ToUpper(month) + ".xlsx"
}

// WriteRejection writes the rows behind findings into dir and returns the
// workbook path. Only sheets with rows are created. Each row carries the
// input columns plus the failure reason and the normalized phone.
func WriteRejection(dir, month string, header []string, rows []record.Row, f validate.Findings) (string, error) {
	if f.Empty() {
		return "", fmt.Errorf("report: nothing to reject")
	}
	cols := append(append([]string{}, header...), "motivo", "celular_norm")
	var sheets []sheetData
	if len(f.Incomplete) > 0 {
		sheets = append(sheets, sheetData{name: SheetIncomplete, header: cols, rows: findingRows(header, rows, f.Incomplete)})
	}
	if len(f.DuplicatePhones) > 0 {
		sheets = append(sheets, sheetData{name: SheetDuplicates, header: cols, rows: findingRows(header, rows, f.DuplicatePhones)})
	}
	path := filepath.Join(dir, RejectionName(month))
	if err := writeWorkbook(path, sheets); err != nil {
		return "", err
	}
	return path, nil
}

// CleanCopyName is the normalized-copy name for an input file.
func CleanCopyName(input string) string {
	base := filepath.Base(input)
	return "copia-" + strings.TrimSuffix(base, filepath.Ext(base)) + ".xlsx"
}

// WriteCleanCopy writes rows, already normalized, as a one-sheet workbook
// next to input and returns its path.
func WriteCleanCopy(input string, header []string, rows []record.Row) (string, error) {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = rowValues(header, r)
	}
	path := filepath.Join(filepath.Dir(input), CleanCopyName(input))
	if err := writeWorkbook(path, []sheetData{{name: "Hoja1", header: header, rows: data}}); err != nil {
		return "", err
	}
	return path, nil
}

type sheetData struct {
	name   string
	header []string
	rows   [][]any
}

func findingRows(header []string, rows []record.Row, fs []validate.Finding) [][]any {
	out := make([][]any, 0, len(fs))
	for _, x := range fs {
		v := rowValues(header, rows[x.Index])
		out = append(out, append(v, x.Reason, x.Phone))
	}
	return out
}

func rowValues(header []string, r record.Row) []any {
	v := make([]any, len(header))
	for i, h := range header {
		v[i] = r.Get(h)
	}
	return v
}

// writeWorkbook streams sheets into a new workbook at path.
func writeWorkbook(path string, sheets []sheetData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return fmt.Errorf("report: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return fmt.Errorf("report: add sheet %s: %w", sh.name, err)
		}
		sw, err := f.NewStreamWriter(sh.name)
		if err != nil {
			return fmt.Errorf("report: stream %s: %w", sh.name, err)
		}
		head := make([]any, len(sh.header))
		for j, h := range sh.header {
			head[j] = h
		}
		if err := sw.SetRow("A1", head); err != nil {
			return fmt.Errorf("report: %s header: %w", sh.name, err)
		}
		for j, r := range sh.rows {
			cell, err := excelize.CoordinatesToCellName(1, j+2)
			if err != nil {
				return err
			}
			if err := sw.SetRow(cell, r); err != nil {
				return fmt.Errorf("report: %s row %d: %w", sh.name, j+2, err)
			}
		}
		if err := sw.Flush(); err != nil {
			return fmt.Errorf("report: flush %s: %w", sh.name, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}
