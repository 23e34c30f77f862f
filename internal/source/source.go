// Package source reads customer-base extracts into record.Rows.
//
// Supported inputs are a single .xlsx/.xlsm workbook (all sheets or a named
// subset), a .csv file, or a folder tree of those. In a folder tree the first
// path segment below the root names the month of every file under it, e.g.
// "01.ENERO/base_norte.xlsx".
//
// Headers are lowercased and trimmed, then renamed through the caller's
// alias map. Columns listed in Options.DefaultFill are synthesized when
// absent and filled when blank; Options.Required columns must be present in
// every file or the read fails with ErrMissingColumn.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"baseloader/internal/normalize"
	"baseloader/internal/record"
)

var (
	// ErrMissingColumn reports a required column absent from an input header.
	ErrMissingColumn = errors.New("missing required column")
	// ErrUnsupported reports a file extension the reader does not handle.
	ErrUnsupported = errors.New("unsupported input format")
	// ErrEmpty reports an input that yielded no files.
	ErrEmpty = errors.New("no input files")
)

// Options controls header handling and parallelism.
type Options struct {
	// Sheets restricts workbook reading to these sheet names (case-insensitive).
	Sheets []string
	// HeaderMap renames normalized headers.
	HeaderMap map[string]string
	// Required columns must appear in each file's header.
	Required []string
	// DefaultFill values replace blank or missing cells of their column.
	DefaultFill map[string]string
	// Delimiter separates CSV fields; zero means ','.
	Delimiter rune
	// Workers bounds concurrent file reads in a folder tree.
	Workers int
}

// Input is everything read from one input path.
type Input struct {
	Path   string
	Files  []string
	Header []string
	Rows   []record.Row
}

// Read loads path, which may be a file or a directory.
func Read(ctx context.Context, path string, opts Options) (*Input, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !st.IsDir() {
		t, err := ReadFile(ctx, path, "", opts)
		if err != nil {
			return nil, err
		}
		return &Input{Path: path, Files: []string{path}, Header: t.Header, Rows: t.Rows}, nil
	}
	return readTree(ctx, path, opts)
}

// Table is the content of one file.
type Table struct {
	Header []string
	Rows   []record.Row
}

// ReadFile reads one workbook or CSV file. folderMonth is stamped on every row.
func ReadFile(ctx context.Context, path, folderMonth string, opts Options) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		sheets []sheet
		err    error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		sheets, err = readWorkbook(path, opts.Sheets)
	case ".csv", ".txt":
		sheets, err = readCSV(path, opts.Delimiter)
	default:
		return nil, fmt.Errorf("source: %s: %w %q", path, ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	var header []string
	var rows []record.Row
	for _, sh := range sheets {
		cols := normalizeHeader(sh.cells[0], opts.HeaderMap)
		header = append(header, cols...)
		for i, cells := range sh.cells[1:] {
			r := record.Row{File: base, Sheet: sh.name, Line: sh.skipped + i + 2, FolderMonth: folderMonth, Fields: make(map[string]string, len(cols))}
			for j, c := range cols {
				if c == "" {
					continue
				}
				v := ""
				if j < len(cells) {
					v = cells[j]
				}
				// Duplicate headers keep the first non-blank value.
				if prev, ok := r.Fields[c]; ok && strings.TrimSpace(prev) != "" {
					continue
				}
				r.Fields[c] = v
			}
			if r.Blank() {
				continue
			}
			rows = append(rows, r)
		}
	}
	header = record.Columns(header, nil)

	if missing := missingColumns(header, opts.Required); len(missing) > 0 {
		return nil, fmt.Errorf("source: %s: %w: %s", base, ErrMissingColumn, strings.Join(missing, ", "))
	}
	header = fillDefaults(header, rows, opts.DefaultFill)
	return &Table{Header: header, Rows: rows}, nil
}

// NormalizeHeader lowercases and trims a header cell and applies aliases.
func NormalizeHeader(h string, aliases map[string]string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, utf8BOM)))
	if a, ok := aliases[h]; ok {
		return a
	}
	return h
}

func normalizeHeader(cells []string, aliases map[string]string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = NormalizeHeader(c, aliases)
	}
	return out
}

func missingColumns(header, required []string) []string {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

func fillDefaults(header []string, rows []record.Row, fill map[string]string) []string {
	if len(fill) == 0 {
		return header
	}
	cols := make([]string, 0, len(fill))
	for c := range fill {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		if missingColumns(header, []string{c}) != nil {
			header = append(header, c)
		}
		for i := range rows {
			if strings.TrimSpace(rows[i].Get(c)) == "" {
				rows[i].Set(c, fill[c])
			}
		}
	}
	return header
}

// readTree reads every supported file below root in parallel, keeping the
// lexical file order in the result.
func readTree(ctx context.Context, root string, opts Options) (*Input, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".xlsx", ".xlsm", ".csv":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("source: %s: %w", root, ErrEmpty)
	}

	tables := make([]*Table, len(files))
	g, gctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, p := range files {
		month := FolderMonth(root, p)
		g.Go(func() error {
			t, err := ReadFile(gctx, p, month, opts)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in := &Input{Path: root, Files: files}
	var header []string
	for i, t := range tables {
		header = append(header, t.Header...)
		in.Rows = append(in.Rows, t.Rows...)
		log.Printf("source: file=%s month=%q rows=%d", filepath.Base(files[i]), FolderMonth(root, files[i]), len(t.Rows))
	}
	in.Header = record.Columns(header, nil)
	return in, nil
}

// FolderMonth derives the month of file p from the first directory below
// root ("01.ENERO" -> "ENERO"). Files directly under root have no month.
func FolderMonth(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return normalize.Month(parts[0])
}
