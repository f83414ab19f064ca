// Package metrics holds the Prometheus collectors shared by the redirect
// path, the visit recorder and the HTTP middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Redirect outcomes: redirected, not_found, restricted, error
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairlink_redirects_total",
			Help: "Redirect requests by outcome",
		},
		[]string{"outcome"},
	)

	// Resolution cache lookups: hit, miss, error
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairlink_cache_lookups_total",
			Help: "Resolution cache lookups by result",
		},
		[]string{"result"},
	)

	SelectorFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fairlink_selector_fallback_total",
			Help: "Selections that fell back to a random destination because the counter store failed",
		},
	)

	// Visit recorder results: recorded, duplicate, load_test, dropped, failed
	Visits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairlink_visits_total",
			Help: "Visit events by recorder result",
		},
		[]string{"result"},
	)

	RecorderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fairlink_recorder_queue_depth",
			Help: "Visit events waiting in the recorder buffer",
		},
	)

	// Rejected admin requests by limiter scope: api, writes
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairlink_rate_limited_total",
			Help: "Requests rejected with 429 by limiter scope",
		},
		[]string{"scope"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)
