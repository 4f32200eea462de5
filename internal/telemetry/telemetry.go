// Package telemetry exposes the Prometheus metrics for the harvester.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_jobs_total",
			Help: "Jobs reaching a status, labeled by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Worker slots currently executing a job.",
		},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetches_total",
			Help: "Page fetches, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Items leaving the quality gate, labeled by source and decision.",
		},
		[]string{"source", "decision"},
	)

	duplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_duplicates_total",
			Help: "Duplicate matches found, labeled by source and category.",
		},
		[]string{"source", "category"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-source rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	sourceRisk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_source_risk",
			Help: "Current anti-detection risk score per source.",
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "API request latencies, labeled by method and route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a job status transition.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers marks a worker slot busy.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker slot free.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveFetch records one page fetch attempt and its outcome.
func ObserveFetch(source, outcome string) {
	fetchesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveItem records a gate decision for one item.
func ObserveItem(source, decision string) {
	itemsTotal.WithLabelValues(source, decision).Inc()
}

// ObserveDuplicate records a duplicate match ("same_source" or "cross_source").
func ObserveDuplicate(source, category string) {
	duplicatesTotal.WithLabelValues(source, category).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a fetch slot.
func ObserveRateLimitDelay(source string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// SetSourceRisk publishes the current risk score for a source.
func SetSourceRisk(source string, risk float64) {
	sourceRisk.WithLabelValues(source).Set(risk)
}

// ObserveHTTPRequest records metrics for one API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Middleware is a chi middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		ObserveHTTPRequest(r.Method, route, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
