// Package metrics exposes Prometheus collectors for sitewatcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label used for worker calls that returned a valid response.
const OutcomeSuccess = "success"

var (
	workerCallsTotal            *prometheus.CounterVec
	workerCallDurationSeconds   *prometheus.HistogramVec
	workerLinksTotal            *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	batchTasksTotal             *prometheus.CounterVec
	batchActiveWorkers          prometheus.Gauge
	batchRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		workerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatcher_worker_calls_total",
				Help: "Total discovery worker calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		workerCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatcher_worker_call_duration_seconds",
				Help:    "Histogram of discovery worker call latencies, labeled by operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		)

		workerLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatcher_worker_links_total",
				Help: "Total links and feeds returned by the worker, labeled by source.",
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		batchTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatcher_batch_tasks_total",
				Help: "Total number of batch tasks processed, labeled by status.",
			},
			[]string{"status"},
		)

		batchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitewatcher_batch_active_workers",
				Help: "Number of batch workers currently running a task.",
			},
		)

		batchRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatcher_batch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations before worker calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveWorkerCall records one worker call. outcome is OutcomeSuccess or
// the failure kind.
func ObserveWorkerCall(operation, outcome string, duration time.Duration) {
	Init()
	workerCallsTotal.WithLabelValues(operation, outcome).Inc()
	workerCallDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveWorkerLinks adds the number of links and feeds a response carried.
func ObserveWorkerLinks(source string, n int) {
	Init()
	if n > 0 {
		workerLinksTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBatchTask increments the batch task counter for the given status.
func ObserveBatchTask(status string) {
	Init()
	batchTasksTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	batchActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	batchActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	batchRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
