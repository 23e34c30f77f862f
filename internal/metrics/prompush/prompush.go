// Package prompush pushes load-run metrics to a Prometheus Pushgateway.
// Each run is a short-lived batch job, so metrics are pushed once at exit
// instead of being scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"baseloader/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stages    *prometheus.CounterVec
	durations *prometheus.SummaryVec
	rows      *prometheus.CounterVec
	refs      *prometheus.CounterVec
	runs      *prometheus.CounterVec
}

// NewBackend registers the collectors. jobName is the Pushgateway grouping
// job and defaults to "baseloader".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "baseloader"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StageTotal,
			Help: "Pipeline stage executions by profile, stage and status.",
		}, []string{"profile", "stage", "status"}),
		durations: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StageDuration,
			Help:       "Pipeline stage duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"profile", "stage", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows per kind (read, rejected, customers_inserted, facts_inserted, ...).",
		}, []string{"profile", "kind"}),
		refs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.ReferencesTotal,
			Help: "Reference rows created per table.",
		}, []string{"profile", "table"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RunsTotal,
			Help: "Finished runs by outcome.",
		}, []string{"profile", "outcome"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"stage counter": b.stages, "stage summary": b.durations,
		"row counter": b.rows, "reference counter": b.refs, "run counter": b.runs,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	switch name {
	case metrics.StageTotal:
		b.stages.WithLabelValues(l["profile"], l["stage"], l["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(l["profile"], l["kind"]).Add(delta)
	case metrics.ReferencesTotal:
		b.refs.WithLabelValues(l["profile"], l["table"]).Add(delta)
	case metrics.RunsTotal:
		b.runs.WithLabelValues(l["profile"], l["outcome"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if name != metrics.StageDuration {
		return
	}
	b.durations.WithLabelValues(l["profile"], l["stage"], l["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
