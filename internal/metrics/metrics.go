// Package metrics registers this service's Prometheus collectors: download
// API request-duration histograms and reconcile-cycle counters/gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestDurationMetricName = "hbstore_http_request_duration_seconds"

// RequestDurationMetric buckets download-API request latency for an
// Apdex-style health read (T=0.5s).
var RequestDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    requestDurationMetricName,
		Help:    "Histogram of download API request duration in seconds",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1.2, 1.6, 2, 2.4, 2.8, 3.2, 3.6, 4, 10},
	},
	[]string{"code"},
)

// AddMetricsToHandler instruments an http.Handler's request durations.
func AddMetricsToHandler(handler http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(RequestDurationMetric, handler)
}

// Reconcile-cycle metrics: counts and timing for the filesystem-watching
// reconciler, registered by MustRegisterAll alongside RequestDurationMetric.
var (
	CycleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_cycles_total",
		Help: "Total number of reconcile cycles run.",
	})
	CycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_cycle_errors_total",
		Help: "Total number of reconcile cycles that returned an error.",
	})
	CycleSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_cycle_skipped_total",
		Help: "Total number of reconcile cycles skipped because the lock was held.",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hbstore_reconcile_cycle_duration_seconds",
		Help:    "Histogram of reconcile cycle duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	ItemsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_items_added_total",
		Help: "Total number of catalog items inserted across all cycles.",
	})
	ItemsUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_items_updated_total",
		Help: "Total number of catalog items whose content changed across all cycles.",
	})
	ItemsRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_items_removed_total",
		Help: "Total number of catalog items pruned across all cycles.",
	})
	ItemsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbstore_reconcile_items_failed_total",
		Help: "Total number of ingest candidates quarantined across all cycles.",
	})
	LastCycleTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hbstore_reconcile_last_cycle_unix_seconds",
		Help: "Unix timestamp of the most recently completed reconcile cycle.",
	})
)

// MustRegisterAll registers every collector in this package against reg.
func MustRegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestDurationMetric,
		CycleTotal,
		CycleErrorsTotal,
		CycleSkippedTotal,
		CycleDuration,
		ItemsAdded,
		ItemsUpdated,
		ItemsRemoved,
		ItemsFailed,
		LastCycleTimestamp,
	)
}
