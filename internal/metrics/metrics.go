// Package metrics exposes Prometheus collectors for the sync service.
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

var (
	canvasRequestsTotal       *prometheus.CounterVec
	canvasRequestDuration     *prometheus.HistogramVec
	documentsProcessedTotal   *prometheus.CounterVec
	chunksCreatedTotal        prometheus.Counter
	duplicatesSkippedTotal    *prometheus.CounterVec
	extractionFailuresTotal   *prometheus.CounterVec
	syncRunsTotal             *prometheus.CounterVec
	syncRunDurationSeconds    prometheus.Histogram
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	activeWorkers             prometheus.Gauge
	bytesDownloadedTotal      prometheus.Counter
	rateLimitDelaysSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		canvasRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_canvas_requests_total",
				Help: "Total number of Canvas API requests, labeled by resource and status code.",
			},
			[]string{"resource", "code"},
		)

		canvasRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvassync_canvas_request_duration_seconds",
				Help:    "Histogram of Canvas API request latencies, labeled by resource.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"resource"},
		)

		documentsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_documents_processed_total",
				Help: "Total number of documents processed, labeled by format and outcome.",
			},
			[]string{"format", "outcome"},
		)

		chunksCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "canvassync_chunks_created_total",
				Help: "Total number of text chunks created.",
			},
		)

		duplicatesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_duplicates_skipped_total",
				Help: "Total number of entities skipped because their fingerprint was unchanged.",
			},
			[]string{"entity"},
		)

		extractionFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_extraction_failures_total",
				Help: "Total number of text extraction failures, labeled by format.",
			},
			[]string{"format"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_sync_runs_total",
				Help: "Total number of sync runs, labeled by trigger and status.",
			},
			[]string{"trigger", "status"},
		)

		syncRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "canvassync_sync_run_duration_seconds",
				Help:    "Histogram of full sync run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canvassync_http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvassync_http_request_duration_seconds",
				Help:    "Histogram of served HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "canvassync_active_workers",
				Help: "Number of workers currently processing a document job.",
			},
		)

		bytesDownloadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "canvassync_bytes_downloaded_total",
				Help: "Total number of bytes downloaded from Canvas.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canvassync_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCanvasRequest records a Canvas API call.
func ObserveCanvasRequest(resource string, code int, duration time.Duration) {
	canvasRequestsTotal.WithLabelValues(resource, strconv.Itoa(code)).Inc()
	canvasRequestDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// ObserveDocument records a processed document by format and outcome.
func ObserveDocument(format, outcome string) {
	documentsProcessedTotal.WithLabelValues(format, outcome).Inc()
}

// AddChunks increments the chunk counter.
func AddChunks(n int) {
	if n > 0 {
		chunksCreatedTotal.Add(float64(n))
	}
}

// ObserveDuplicateSkip records a fingerprint dedupe hit for the entity type.
func ObserveDuplicateSkip(entity string) {
	duplicatesSkippedTotal.WithLabelValues(entity).Inc()
}

// ObserveExtractionFailure records an extraction failure for the format.
func ObserveExtractionFailure(format string) {
	extractionFailuresTotal.WithLabelValues(format).Inc()
}

// ObserveSyncRun records a finished sync run.
func ObserveSyncRun(trigger, status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(trigger, status).Inc()
	syncRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the served HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// AddBytesDownloaded adds downloaded bytes to the counter.
func AddBytesDownloaded(n int) {
	if n > 0 {
		bytesDownloadedTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
