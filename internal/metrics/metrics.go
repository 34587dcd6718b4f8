// Package metrics exposes Prometheus collectors for the proxy service.
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
	proxyFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_fetches_total",
			Help: "Total number of proxy fetch calls, labeled by requested region and outcome.",
		},
		[]string{"region", "outcome"},
	)

	proxyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_attempts_total",
			Help: "Total number of upstream fetch attempts, labeled by region and outcome.",
		},
		[]string{"region", "outcome"},
	)

	proxyFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_region_fallbacks_total",
			Help: "Total number of fallbacks from the requested region to another region.",
		},
		[]string{"from", "to"},
	)

	proxyProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_health_probes_total",
			Help: "Total number of endpoint health probes, labeled by region and result.",
		},
		[]string{"region", "healthy"},
	)

	proxyProbeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_health_probe_duration_seconds",
			Help:    "Histogram of endpoint health probe latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"region"},
	)

	proxyUsageRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_usage_records_total",
			Help: "Total number of usage counter updates, labeled by status.",
		},
		[]string{"status"},
	)

	serpResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serp_requests_total",
			Help: "Total number of SERP requests, labeled by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter, labeled by backend.",
		},
		[]string{"backend"},
	)

	usageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_usage_events_total",
			Help: "Total number of usage events handled by the async publisher, labeled by outcome.",
		},
		[]string{"outcome"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"method", "route"},
	)
)

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

// ObserveFetch records the final outcome of a router fetch.
func ObserveFetch(region, outcome string) {
	proxyFetchesTotal.WithLabelValues(region, outcome).Inc()
}

// ObserveAttempt records one upstream fetch attempt.
func ObserveAttempt(region, outcome string) {
	proxyAttemptsTotal.WithLabelValues(region, outcome).Inc()
}

// ObserveFallback records a move from the requested region to another.
func ObserveFallback(from, to string) {
	proxyFallbacksTotal.WithLabelValues(from, to).Inc()
}

// ObserveProbe records a single health probe.
func ObserveProbe(region string, healthy bool, duration time.Duration) {
	proxyProbesTotal.WithLabelValues(region, strconv.FormatBool(healthy)).Inc()
	proxyProbeDurationSeconds.WithLabelValues(region).Observe(duration.Seconds())
}

// ObserveUsageRecord records the result of a usage counter update.
func ObserveUsageRecord(status string) {
	proxyUsageRecordsTotal.WithLabelValues(status).Inc()
}

// ObserveSERP records a SERP request outcome.
func ObserveSERP(engine, outcome string) {
	serpResultsTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveRateLimited increments the rejected-request counter.
func ObserveRateLimited(backend string) {
	rateLimitedTotal.WithLabelValues(backend).Inc()
}

// ObserveUsageEvents adds n usage events with the given outcome
// (published, failed or dropped).
func ObserveUsageEvents(outcome string, n int) {
	usageEventsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
