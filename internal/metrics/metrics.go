// Package metrics records operational metrics of load runs behind a small
// pluggable Backend. The default backend discards everything, so callers can
// record unconditionally; concrete systems live in subpackages (prompush,
// datadog) and are installed once by the binary with SetBackend.
package metrics

import "time"

// Metric names emitted by this package.
const (
	StageTotal      = "baseloader_stage_total"
	StageDuration   = "baseloader_stage_duration_seconds"
	RowsTotal       = "baseloader_rows_total"
	ReferencesTotal = "baseloader_references_inserted_total"
	RunsTotal       = "baseloader_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs b. Passing nil restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStage counts one pipeline stage and observes its duration.
func RecordStage(profile, stage string, err error, d time.Duration) {
	lbls := Labels{"profile": profile, "stage": stage, "status": status(err)}
	backend.IncCounter(StageTotal, 1, lbls)
	backend.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRows adds delta to a row counter. Kinds mirror the run summary:
// read, rejected, customers_inserted, customers_matched, facts_inserted,
// facts_dropped.
func RecordRows(profile, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{"profile": profile, "kind": kind})
}

// RecordReferences counts reference rows created in table.
func RecordReferences(profile, table string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ReferencesTotal, float64(delta), Labels{"profile": profile, "table": table})
}

// RecordRun counts a finished run by outcome (done, aborted, rejected).
func RecordRun(profile, outcome string) {
	backend.IncCounter(RunsTotal, 1, Labels{"profile": profile, "outcome": outcome})
}
