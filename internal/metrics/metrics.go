// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the application's collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation in tests.
type Metrics struct {
	// HTTP requests by method, route pattern and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP latency by method and route pattern.
	HTTPRequestDuration *prometheus.HistogramVec

	// Snapshot loads by result: ok, error, stale.
	SnapshotRefreshes *prometheus.CounterVec

	// Number of events in the current snapshot.
	SnapshotEvents prometheus.Gauge

	// Calendar exports by kind (single, bulk, link) and status.
	ExportsTotal *prometheus.CounterVec

	// Events skipped during export.
	ExportSkipped prometheus.Counter

	// Feed ingestion results by feed id and outcome.
	IngestEvents *prometheus.CounterVec

	// Digest runs by status: sent, empty, error.
	DigestRuns *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportscal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sportscal_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		SnapshotRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportscal_snapshot_refreshes_total",
				Help: "Event snapshot loads by result",
			},
			[]string{"result"},
		),
		SnapshotEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sportscal_snapshot_events",
				Help: "Events in the current snapshot",
			},
		),
		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportscal_exports_total",
				Help: "Calendar exports by kind and status",
			},
			[]string{"kind", "status"},
		),
		ExportSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sportscal_export_skipped_events_total",
				Help: "Events omitted from bulk exports because they could not be built",
			},
		),
		IngestEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportscal_ingest_events_total",
				Help: "Feed events by feed and outcome",
			},
			[]string{"feed", "outcome"},
		),
		DigestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportscal_digest_runs_total",
				Help: "Daily digest runs by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SnapshotRefreshes,
		m.SnapshotEvents,
		m.ExportsTotal,
		m.ExportSkipped,
		m.IngestEvents,
		m.DigestRuns,
	)
	return m
}

func (m *Metrics) ObserveRefresh(result string, events int) {
	if m == nil {
		return
	}
	m.SnapshotRefreshes.WithLabelValues(result).Inc()
	if result == "ok" {
		m.SnapshotEvents.Set(float64(events))
	}
}

func (m *Metrics) ObserveExport(kind, status string, skipped int) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(kind, status).Inc()
	if skipped > 0 {
		m.ExportSkipped.Add(float64(skipped))
	}
}

func (m *Metrics) ObserveIngest(feed, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.IngestEvents.WithLabelValues(feed, outcome).Add(float64(n))
}

func (m *Metrics) ObserveDigest(status string) {
	if m == nil {
		return
	}
	m.DigestRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
