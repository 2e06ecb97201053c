package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeit",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	categoriesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "market",
			Name:      "categories_created_total",
			Help:      "Total number of categories created.",
		},
	)

	itemsPosted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "market",
			Name:      "items_posted_total",
			Help:      "Total number of items posted for trade.",
		},
	)

	acquisitionsInitiated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "market",
			Name:      "acquisitions_initiated_total",
			Help:      "Total number of pending transactions opened.",
		},
	)

	transactionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "market",
			Name:      "transactions_completed_total",
			Help:      "Total number of pending transactions promoted to completed.",
		},
	)

	reconcileFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "reconcile",
			Name:      "findings_total",
			Help:      "Ledger inconsistencies observed by the reconciliation sweeper.",
		},
		[]string{"kind"},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeit",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation sweeps.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		categoriesCreated,
		itemsPosted,
		acquisitionsInitiated,
		transactionsCompleted,
		reconcileFindings,
		reconcileRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight HTTP request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight lowers the in-flight HTTP request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request. The path should be
// a route template, not the raw URL, so label cardinality stays bounded.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCategoryCreated counts a created category.
func RecordCategoryCreated() { categoriesCreated.Inc() }

// RecordItemPosted counts a posted item.
func RecordItemPosted() { itemsPosted.Inc() }

// RecordAcquisitionInitiated counts an opened pending transaction.
func RecordAcquisitionInitiated() { acquisitionsInitiated.Inc() }

// RecordTransactionCompleted counts a promoted transaction.
func RecordTransactionCompleted() { transactionsCompleted.Inc() }

// RecordReconcileFinding counts one reconciliation finding of the given kind.
func RecordReconcileFinding(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	reconcileFindings.WithLabelValues(kind).Inc()
}

// RecordReconcileRun records the outcome of one reconciliation sweep.
func RecordReconcileRun(success bool) {
	result := "false"
	if success {
		result = "true"
	}
	reconcileRuns.WithLabelValues(result).Inc()
}
