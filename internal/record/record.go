// Package record defines the in-memory form of one input spreadsheet row.
package record

import (
	"sort"
	"strings"
)

// Row is one data row read from an input file. Field names are the
// normalized header names (lowercase, trimmed, aliased).
type Row struct {
	File        string // base name of the input file
	Sheet       string // sheet name; empty for CSV input
	Line        int    // 1-based line/row number in the sheet, header included
	FolderMonth string // month derived from the containing folder, if any
	Fields      map[string]string
}

// Get returns the named field, or "" when the column is absent.
func (r Row) Get(col string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[col]
}

// Has reports whether the column exists on the row.
func (r Row) Has(col string) bool {
	_, ok := r.Fields[col]
	return ok
}

// Set assigns a field, allocating the map on first use.
func (r *Row) Set(col, v string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[col] = v
}

// Blank reports whether every field of the row is empty after trimming.
func (r Row) Blank() bool {
	for _, v := range r.Fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Columns returns header (deduplicated, blanks removed) followed by any
// field names found on rows but missing from header, sorted.
func Columns(header []string, rows []Row) []string {
	seen := make(map[string]struct{}, len(header))
	out := make([]string, 0, len(header))
	for _, h := range header {
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	var extra []string
	for _, r := range rows {
		for k := range r.Fields {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
