package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"baseloader/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     string
		url     string
		wantErr bool
		wantJob string
	}{
		{name: "missing gateway", job: "x", url: "", wantErr: true},
		{name: "default job", job: "", url: "http://pushgateway:9091", wantJob: "baseloader"},
		{name: "explicit job", job: "pospago", url: "http://pushgateway:9091", wantJob: "pospago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewBackend(tt.job, tt.url)
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend = %v, %v; want error", b, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if b.jobName != tt.wantJob {
				t.Fatalf("jobName = %q, want %q", b.jobName, tt.wantJob)
			}
		})
	}
}

func TestIncCounterRouting(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("pospago", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"profile": "pospago", "stage": "read_input", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"profile": "pospago", "kind": "read"})
	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"profile": "pospago", "kind": "read"})
	b.IncCounter(metrics.ReferencesTotal, 3, metrics.Labels{"profile": "pospago", "table": "plan"})
	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"profile": "pospago", "outcome": "rejected"})
	b.IncCounter("unknown_metric", 9, nil)

	if got := counterValue(t, b.stages.WithLabelValues("pospago", "read_input", "success")); got != 1 {
		t.Fatalf("stages = %v", got)
	}
	if got := counterValue(t, b.rows.WithLabelValues("pospago", "read")); got != 7 {
		t.Fatalf("rows = %v", got)
	}
	if got := counterValue(t, b.refs.WithLabelValues("pospago", "plan")); got != 3 {
		t.Fatalf("refs = %v", got)
	}
	if got := counterValue(t, b.runs.WithLabelValues("pospago", "rejected")); got != 1 {
		t.Fatalf("runs = %v", got)
	}
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatal(err)
	}
	b.ObserveHistogram(metrics.StageDuration, 0.25, metrics.Labels{"profile": "p", "stage": "s", "status": "success"})
	b.ObserveHistogram("other", 1, nil)

	m := &dto.Metric{}
	if err := b.durations.WithLabelValues("p", "s", "success").(prometheus.Metric).Write(m); err != nil {
		t.Fatal(err)
	}
	if m.GetSummary().GetSampleCount() != 1 || m.GetSummary().GetSampleSum() != 0.25 {
		t.Fatalf("summary = %v", m.GetSummary())
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	type request struct {
		method, path, body string
	}
	reqs := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- request{r.Method, r.URL.Path, string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("prepago", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"profile": "prepago", "outcome": "done"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case got := <-reqs:
		if got.method != http.MethodPut || !strings.Contains(got.path, "/job/prepago") || got.body == "" {
			t.Fatalf("request = %+v", got)
		}
	default:
		t.Fatal("no request reached the gateway")
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewBackend("prepago", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err == nil {
		t.Fatal("expected error")
	}
}
