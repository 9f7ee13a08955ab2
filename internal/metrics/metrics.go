// Package metrics provides Prometheus collectors for the refresh pipeline, cache tiers and
// the serving path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polypulse"

// Metrics holds all Prometheus metrics for the service.
// All helper methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	// Refresh metrics
	RefreshRuns     *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	MarketsWritten  prometheus.Gauge
	LastRefresh     prometheus.Gauge

	// Upstream metrics
	PageFailures      prometheus.Counter
	OrderBookFailures prometheus.Counter

	// Store metrics
	SnapshotErrors *prometheus.CounterVec

	// Cache metrics
	CacheReads  *prometheus.CounterVec
	CacheWrites *prometheus.CounterVec

	// Serving metrics
	ServedResponses *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates a Metrics instance registered on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RefreshRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Refresh runs by outcome",
		}, []string{"outcome"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Wall time of a refresh run",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
		MarketsWritten: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "markets_written",
			Help:      "Markets in the most recent refresh batch",
		}),
		LastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),
		PageFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "page_failures_total",
			Help:      "Market list pages that failed and were treated as empty",
		}),
		OrderBookFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "order_book_failures_total",
			Help:      "Order book lookups that failed and were skipped",
		}),
		SnapshotErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "errors_total",
			Help:      "Snapshot store errors by operation",
		}, []string{"op"}),
		CacheReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Cache tier reads by tier and result",
		}, []string{"tier", "result"}),
		CacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Cache tier writes by tier and result",
		}, []string{"tier", "result"}),
		ServedResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "responses_total",
			Help:      "Market list responses by source",
		}, []string{"source"}),
		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRefresh records one finished refresh run.
func (m *Metrics) ObserveRefresh(success bool, markets int, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
		m.MarketsWritten.Set(float64(markets))
		m.LastRefresh.Set(float64(at.Unix()))
	}
	m.RefreshRuns.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// RefreshSkipped counts a run rejected because another was in flight.
func (m *Metrics) RefreshSkipped() {
	if m == nil {
		return
	}
	m.RefreshRuns.WithLabelValues("skipped").Inc()
}

// PageFailed counts one failed market list page.
func (m *Metrics) PageFailed() {
	if m == nil {
		return
	}
	m.PageFailures.Inc()
}

// OrderBookFailed counts one failed order book lookup.
func (m *Metrics) OrderBookFailed() {
	if m == nil {
		return
	}
	m.OrderBookFailures.Inc()
}

// SnapshotError counts a snapshot store failure for op (get, put, exists).
func (m *Metrics) SnapshotError(op string) {
	if m == nil {
		return
	}
	m.SnapshotErrors.WithLabelValues(op).Inc()
}

// CacheRead counts a tier read; result is hit, stale, insufficient, miss or error.
func (m *Metrics) CacheRead(tier, result string) {
	if m == nil {
		return
	}
	m.CacheReads.WithLabelValues(tier, result).Inc()
}

// CacheWrite counts a tier write.
func (m *Metrics) CacheWrite(tier string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.CacheWrites.WithLabelValues(tier, result).Inc()
}

// Served counts a market list response by source.
func (m *Metrics) Served(source string) {
	if m == nil {
		return
	}
	m.ServedResponses.WithLabelValues(source).Inc()
}
