// Package metrics exposes Prometheus collectors for the bot, the update loop
// and the delivery workers.
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
	scanPassesTotal            *prometheus.CounterVec
	scanPassDurationSeconds    prometheus.Histogram
	scanTitlesTotal            *prometheus.CounterVec
	newChaptersTotal           *prometheus.CounterVec
	sourceErrorsTotal          *prometheus.CounterVec
	sourceRequestsTotal        *prometheus.CounterVec
	sourceBytesTotal           *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	imageCacheTotal            *prometheus.CounterVec
	floodWaitsTotal            prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_scan_passes_total",
				Help: "Total number of update scan passes, labeled by result.",
			},
			[]string{"result"},
		)

		scanPassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "comicfeed_scan_pass_duration_seconds",
				Help:    "Histogram of update scan pass durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		scanTitlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_scan_titles_total",
				Help: "Titles seen by the update scanner, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		newChaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_new_chapters_total",
				Help: "Newly discovered chapters, labeled by source.",
			},
			[]string{"source"},
		)

		sourceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_source_errors_total",
				Help: "Source adapter failures, labeled by source and operation.",
			},
			[]string{"source", "op"},
		)

		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_source_requests_total",
				Help: "Upstream requests made by source adapters, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		sourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_source_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_deliveries_total",
				Help: "Chapter deliveries processed by workers, labeled by origin and status.",
			},
			[]string{"origin", "status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "comicfeed_queue_depth",
				Help: "Deliveries waiting in the dispatch queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "comicfeed_active_workers",
				Help: "Number of workers currently processing a delivery.",
			},
		)

		imageCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comicfeed_image_cache_total",
				Help: "Chapter image cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		floodWaitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "comicfeed_flood_waits_total",
				Help: "Times the chat platform asked the bot to back off.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comicfeed_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveScanPass records one finished update pass.
func ObserveScanPass(failed bool, duration time.Duration) {
	Init()
	result := "ok"
	if failed {
		result = "partial"
	}
	scanPassesTotal.WithLabelValues(result).Inc()
	scanPassDurationSeconds.Observe(duration.Seconds())
}

// ObserveTitles adds n titles with the given scan outcome.
func ObserveTitles(outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	scanTitlesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveNewChapters adds n discovered chapters for a source.
func ObserveNewChapters(source string, n int) {
	Init()
	if n <= 0 {
		return
	}
	newChaptersTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveSourceError counts a failed adapter operation.
func ObserveSourceError(source, op string) {
	Init()
	sourceErrorsTotal.WithLabelValues(source, op).Inc()
}

// ObserveFetch increments the upstream request metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	sourceRequestsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		sourceBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveDelivery counts a processed delivery.
func ObserveDelivery(origin, status string) {
	Init()
	deliveriesTotal.WithLabelValues(origin, status).Inc()
}

// SetQueueDepth reports the number of pending deliveries.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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

// ObserveImageCache records an image cache hit or miss.
func ObserveImageCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	imageCacheTotal.WithLabelValues(result).Inc()
}

// ObserveFloodWait counts a platform back-off request.
func ObserveFloodWait() {
	Init()
	floodWaitsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
