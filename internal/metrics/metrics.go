// Package metrics exposes process-wide Prometheus collectors for the ingest service.
// Run-level counters live in the progress Prometheus sink.
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

var (
	listingOpensTotal          *prometheus.CounterVec
	listingRetriesTotal        prometheus.Counter
	payloadBytesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly;
// every Observe function calls it.
func Init() {
	once.Do(func() {
		listingOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_listing_opens_total",
				Help: "Remote directory listings opened, labeled by result.",
			},
			[]string{"result"},
		)

		listingRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_listing_retries_total",
				Help: "Listing open attempts beyond the first.",
			},
		)

		payloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_payload_bytes_total",
				Help: "Payload bytes downloaded, labeled by host.",
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of workers currently converting a location.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL, "local" for bare paths and
// "unknown" for anything unparsable.
func SanitizeHost(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}
	if strings.HasPrefix(rawURL, "/") {
		return "local"
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveListingOpen counts one listing open outcome and its extra attempts.
func ObserveListingOpen(ok bool, attempts int) {
	Init()
	result := "success"
	if !ok {
		result = "failure"
	}
	listingOpensTotal.WithLabelValues(result).Inc()
	if attempts > 1 {
		listingRetriesTotal.Add(float64(attempts - 1))
	}
}

// ObservePayloadBytes records downloaded payload volume for the host of rawURL.
func ObservePayloadBytes(rawURL string, n int64) {
	if n <= 0 {
		return
	}
	Init()
	payloadBytesTotal.WithLabelValues(SanitizeHost(rawURL)).Add(float64(n))
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
