// Package metrics exposes Prometheus collectors for the registry crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch targets.
const (
	TargetSearch = "search"
	TargetVAT    = "vat"
)

var (
	crawlerFetchesTotal          *prometheus.CounterVec
	crawlerFetchDurationSeconds  *prometheus.HistogramVec
	crawlerOutcomesTotal         *prometheus.CounterVec
	crawlerGraphWritesTotal      *prometheus.CounterVec
	crawlerPacingDelaySeconds    prometheus.Histogram
	crawlerBusyWorkers           prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	crawlerIdentifiersDispatched prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of registry fetches, labeled by target and status code.",
			},
			[]string{"target", "status"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of registry fetch latencies, labeled by target.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
			[]string{"target"},
		)

		crawlerOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_outcomes_total",
				Help: "Total number of identifiers processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerGraphWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_graph_writes_total",
				Help: "Total number of graph write transactions, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		crawlerPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_pacing_delay_seconds",
				Help:    "Histogram of time spent waiting for the global request pacer.",
				Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		crawlerBusyWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_busy_workers",
				Help: "Number of workers currently processing an identifier.",
			},
		)

		crawlerIdentifiersDispatched = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_identifiers_dispatched_total",
				Help: "Total number of identifiers handed to the worker pool.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests to the ops server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of ops server latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one registry fetch. A zero status means the request
// never produced a response.
func ObserveFetch(target string, status int, duration time.Duration) {
	if crawlerFetchesTotal == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	crawlerFetchesTotal.WithLabelValues(target, code).Inc()
	crawlerFetchDurationSeconds.WithLabelValues(target).Observe(duration.Seconds())
}

// ObserveOutcome increments the outcome counter.
func ObserveOutcome(outcome string) {
	if crawlerOutcomesTotal == nil {
		return
	}
	crawlerOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveGraphWrite records a graph transaction result ("ok" or "error").
func ObserveGraphWrite(op string, err error) {
	if crawlerGraphWritesTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	crawlerGraphWritesTotal.WithLabelValues(op, result).Inc()
}

// ObservePacingDelay records the duration of a pacer wait.
func ObservePacingDelay(duration time.Duration) {
	if crawlerPacingDelaySeconds == nil {
		return
	}
	crawlerPacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveDispatch counts an identifier handed to the pool.
func ObserveDispatch() {
	if crawlerIdentifiersDispatched == nil {
		return
	}
	crawlerIdentifiersDispatched.Inc()
}

// IncBusyWorkers increments the busy workers gauge.
func IncBusyWorkers() {
	if crawlerBusyWorkers == nil {
		return
	}
	crawlerBusyWorkers.Inc()
}

// DecBusyWorkers decrements the busy workers gauge.
func DecBusyWorkers() {
	if crawlerBusyWorkers == nil {
		return
	}
	crawlerBusyWorkers.Dec()
}

// ObserveHTTPRequest increments the ops server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
