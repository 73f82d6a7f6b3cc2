// Package metrics exposes Prometheus collectors for fetch and persistence
// activity. A nil *Metrics is a no-op so tests and library embedders can
// skip registration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	fetchTotal      *prometheus.CounterVec
	fetchRetries    prometheus.Counter
	fetchFailures   *prometheus.CounterVec
	recordsTotal    *prometheus.GaugeVec
	persistDuration prometheus.Histogram
	parseWarnings   prometheus.Counter
}

// New registers the engine collectors on reg (DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zedtv_fetch_requests_total",
			Help: "Portal/file fetch requests by operation.",
		}, []string{"op"}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zedtv_fetch_retries_total",
			Help: "Transient fetch retries.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zedtv_fetch_failures_total",
			Help: "Fetch failures by error kind.",
		}, []string{"kind"}),
		recordsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zedtv_catalog_records",
			Help: "Records in the last loaded catalog per source.",
		}, []string{"source"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zedtv_snapshot_persist_seconds",
			Help:    "Snapshot persistence duration.",
			Buckets: prometheus.DefBuckets,
		}),
		parseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zedtv_parse_warnings_total",
			Help: "Skippable parse warnings across loads.",
		}),
	}
	reg.MustRegister(m.fetchTotal, m.fetchRetries, m.fetchFailures,
		m.recordsTotal, m.persistDuration, m.parseWarnings)
	return m
}

func (m *Metrics) IncFetch(op string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetRecords(sourceKey string, n int) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(sourceKey).Set(float64(n))
}

func (m *Metrics) ObservePersist(d time.Duration) {
	if m == nil {
		return
	}
	m.persistDuration.Observe(d.Seconds())
}

func (m *Metrics) AddParseWarnings(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.parseWarnings.Add(float64(n))
}
