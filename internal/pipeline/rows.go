package pipeline

import (
	"maps"
	"path/filepath"
	"strings"
	"time"

	"baseloader/internal/config"
	"baseloader/internal/normalize"
	"baseloader/internal/record"
	"baseloader/internal/resolve"
)

// Input columns with a fixed meaning.
const (
	colYear  = "anio"
	colMonth = "mes"
	colLabel = "texto_extraido"
)

// row is an input row after NormalizeFields plus everything resolved for it
// so far. Reference ids are keyed by dimension name.
type row struct {
	src      record.Row
	ident    string
	name     string
	phone    string
	keys     map[string]string
	refs     map[string]int64
	period   resolve.PeriodKey
	periodID int64
	customer int64
}

// normalizeRows derives canonical identity fields, dimension keys and the
// period key of every row. The normalized identity is written back into the
// row so the clean copy shows what was loaded.
func normalizeRows(p config.Profile, in []record.Row, now time.Time, stats *normalize.Stats) []*row {
	out := make([]*row, len(in))
	for i, src := range in {
		src.Fields = maps.Clone(src.Fields)
		r := &row{
			src:   src,
			ident: stats.Identification(src.Get("identificacion")),
			name:  normalize.Text(src.Get("nombre_completo")),
			phone: stats.Phone(src.Get("celular")),
			keys:  make(map[string]string, len(p.Dimensions)),
			refs:  make(map[string]int64, len(p.Dimensions)),
		}
		r.src.Set("identificacion", r.ident)
		r.src.Set("nombre_completo", r.name)
		r.src.Set("celular", r.phone)
		for _, d := range p.Dimensions {
			r.keys[d.Name] = dimensionKey(d, src.Get(d.Source))
		}
		r.period = periodKey(p.Period, src, now)
		out[i] = r
	}
	return out
}

func dimensionKey(d config.Dimension, raw string) string {
	if d.Description {
		return normalize.Description(raw)
	}
	return normalize.Key(raw)
}

// periodKey picks each component from the row first, then the folder or
// profile, then the run clock. A month column that is present but blank
// leaves the row without a period.
func periodKey(ps config.PeriodSpec, r record.Row, now time.Time) resolve.PeriodKey {
	var k resolve.PeriodKey

	switch {
	case normalize.Text(r.Get(colYear)) != "":
		k.Year = r.Get(colYear)
	case ps.DefaultYear != "":
		k.Year = ps.DefaultYear
	default:
		k.Year = now.Format("2006")
	}

	switch {
	case r.Has(colMonth):
		k.Month = r.Get(colMonth)
	case r.FolderMonth != "":
		k.Month = r.FolderMonth
	default:
		k.Month = normalize.MonthName(now.Month())
	}

	switch {
	case normalize.Text(r.Get(colLabel)) != "":
		k.Label = normalize.Text(r.Get(colLabel))
	case ps.LabelFromClock:
		k.Label = normalize.ExtractionLabel(now)
	}

	switch src := ps.SourceLabel; {
	case src == "file":
		k.Source = strings.TrimSuffix(r.File, filepath.Ext(r.File))
	case strings.HasPrefix(src, "prefix:"):
		label := k.Label
		if label == "" {
			label = normalize.Month(k.Month)
		}
		k.Source = strings.TrimPrefix(src, "prefix:") + strings.ToLower(label)
	}
	return k
}

// rejectionMonth names the rejection workbook after the first row's month,
// falling back to the run clock.
func rejectionMonth(p config.Profile, rows []record.Row, now time.Time) string {
	for _, r := range rows {
		if m := normalize.Month(periodKey(p.Period, r, now).Month); m != "" {
			return m
		}
	}
	return normalize.MonthName(now.Month())
}
