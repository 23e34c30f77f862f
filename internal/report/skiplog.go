package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"baseloader/internal/record"
)

// SkipLog writes one CSV line per dropped input row and counts reasons.
type SkipLog struct {
	path    string
	f       *os.File
	w       *csv.Writer
	reasons map[string]int
}

// SkipLogHeader is the first line of every skip log.
var SkipLogHeader = []string{"reason", "file", "sheet", "line", "field", "value"}

// NewSkipLog creates path (and its parent directories) and writes the header.
func NewSkipLog(path string) (*SkipLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(SkipLogHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("skiplog: header: %w", err)
	}
	return &SkipLog{path: path, f: f, w: w, reasons: make(map[string]int)}, nil
}

// Add records that row r was dropped because field held value.
func (s *SkipLog) Add(reason string, r record.Row, field, value string) {
	s.reasons[reason]++
	_ = s.w.Write([]string{reason, r.File, r.Sheet, strconv.Itoa(r.Line), field, value})
}

// Total is the number of rows logged.
func (s *SkipLog) Total() int {
	n := 0
	for _, c := range s.reasons {
		n += c
	}
	return n
}

// Counts returns a copy of the per-reason counters.
func (s *SkipLog) Counts() map[string]int {
	out := make(map[string]int, len(s.reasons))
	for k, v := range s.reasons {
		out[k] = v
	}
	return out
}

// Summary renders the counters as "reason=n" pairs sorted by reason.
func (s *SkipLog) Summary() string {
	keys := make([]string, 0, len(s.reasons))
	for k := range s.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += k + "=" + strconv.Itoa(s.reasons[k])
	}
	return out
}

func (s *SkipLog) Path() string { return s.path }

// Close flushes and closes the file.
func (s *SkipLog) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return fmt.Errorf("skiplog: flush %s: %w", s.path, err)
	}
	return s.f.Close()
}
