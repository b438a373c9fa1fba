package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_tracking"

var (
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of geocoding and routing provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "outcome"},
	)
	RouteCacheHits = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_cache_hits_total", Help: "Routes served from cache"})

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride state transitions by role and target status"},
		[]string{"role", "event", "to"},
	)
	TransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_rejected_total", Help: "Transitions rejected from the current status"},
		[]string{"role", "event"},
	)

	SuggestLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "autocomplete_lookups_total", Help: "Autocomplete lookups by outcome"},
		[]string{"outcome"},
	)

	PositionsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "positions_published_total", Help: "Live position updates published"})
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "live_subscriptions_active", Help: "Open live position subscriptions"})

	SharesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "shares_created_total", Help: "Share links created"})
	SharesOpened  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "shares_opened_total", Help: "Share link reads by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
