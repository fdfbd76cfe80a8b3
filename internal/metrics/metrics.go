// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total number of scrape records produced, labeled by status and data method.",
		},
		[]string{"status", "method"},
	)

	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fallback_total",
			Help: "Total number of escalations to the fallback tier, labeled by dimension.",
		},
		[]string{"dimension"},
	)

	providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_provider_calls_total",
			Help: "Total provider calls, labeled by provider, operation, and outcome.",
		},
		[]string{"provider", "operation", "outcome"},
	)

	providerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_provider_duration_seconds",
			Help:    "Histogram of provider call latencies.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 90, 180},
		},
		[]string{"provider", "operation"},
	)

	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_batches_total",
			Help: "Total callback batches, labeled by terminal outcome.",
		},
		[]string{"outcome"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_batch_size",
			Help:    "Histogram of records per flushed batch.",
			Buckets: []float64{1, 5, 10, 25, 50},
		},
	)

	callbackAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_callback_attempts_total",
			Help: "Total callback POST attempts, labeled by response code (0 for transport errors).",
		},
		[]string{"code"},
	)

	jobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Total number of accepted scrape jobs.",
		},
	)

	poolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_pool_in_flight",
			Help: "Number of URL tasks currently being processed.",
		},
	)

	poolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_pool_pending",
			Help: "Number of URL tasks waiting for a pool slot.",
		},
	)

	screenshotBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_screenshot_bytes",
			Help:    "Histogram of stored screenshot sizes after compression.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveRecord counts a finished scrape record.
func ObserveRecord(status, method string) {
	if method == "" {
		method = "none"
	}
	recordsTotal.WithLabelValues(status, method).Inc()
}

// ObserveFallback counts an escalation of one dimension to the fallback tier.
func ObserveFallback(dimension string) {
	fallbackTotal.WithLabelValues(dimension).Inc()
}

// ObserveProviderCall records one provider operation.
func ObserveProviderCall(provider, operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	providerCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	providerDurationSeconds.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveBatchFlushed records the size of a flushed batch.
func ObserveBatchFlushed(size int) {
	batchSize.Observe(float64(size))
}

// ObserveBatchOutcome counts a batch reaching a terminal delivery state.
func ObserveBatchOutcome(outcome string) {
	batchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCallbackAttempt counts one callback POST.
func ObserveCallbackAttempt(code int) {
	callbackAttemptsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveJob counts an accepted job.
func ObserveJob() {
	jobsTotal.Inc()
}

// IncInFlight increments the in-flight gauge.
func IncInFlight() {
	poolInFlight.Inc()
}

// DecInFlight decrements the in-flight gauge.
func DecInFlight() {
	poolInFlight.Dec()
}

// AddPending adjusts the pending gauge by delta.
func AddPending(delta int) {
	poolPending.Add(float64(delta))
}

// ObserveScreenshotBytes records the size of a stored screenshot.
func ObserveScreenshotBytes(n int) {
	screenshotBytes.Observe(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
