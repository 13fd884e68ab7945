// Package metrics holds the Prometheus collectors for the allocation layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "allocation_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "allocation_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "allocation_layer",
			Subsystem: "decision",
			Name:      "events_total",
			Help:      "Telemetry decisions by outcome (pending, skipped, inference_error).",
		},
		[]string{"outcome"},
	)

	ledgerCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "allocation_layer",
			Subsystem: "ledger",
			Name:      "commits_total",
			Help:      "Ledger commit attempts by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "allocation_layer",
			Subsystem: "ledger",
			Name:      "commit_duration_seconds",
			Help:      "Duration of ledger commit calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"op"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "allocation_layer",
			Subsystem: "notify",
			Name:      "publishes_total",
			Help:      "Notification publish attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(httpRequests, httpDuration, decisions, ledgerCommits, ledgerDuration, notifications)
}

// DecisionProcessed counts one telemetry decision outcome.
func DecisionProcessed(outcome string) {
	decisions.WithLabelValues(outcome).Inc()
}

// LedgerCommit records one commit attempt and its duration.
func LedgerCommit(op, outcome string, elapsed time.Duration) {
	ledgerCommits.WithLabelValues(op, outcome).Inc()
	ledgerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// NotificationPublished counts one publish attempt.
func NotificationPublished(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument wraps an HTTP handler with request counting and timing. The
// path label is the route template, not the raw URL, to bound cardinality.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
