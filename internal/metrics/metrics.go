package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the gateway. Registered once on the default registry.
var (
	// REST client
	RESTRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rest_requests_total",
			Help: "Broker REST calls by endpoint, class, and outcome",
		},
		[]string{"endpoint", "class", "outcome"},
	)

	RESTDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_rest_request_duration_seconds",
			Help:    "Broker REST call latency by endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	RESTRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rest_retries_total",
			Help: "Retry attempts after a failed broker call",
		},
		[]string{"endpoint"},
	)

	FallbackServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rest_fallback_served_total",
			Help: "Calls satisfied by the fallback handler",
		},
		[]string{"endpoint", "kind"},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open, 3=forced-open)",
		},
	)

	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate-limit permit",
			Buckets: []float64{0.001, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Authentication
	AuthState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_auth_state",
			Help: "Authentication state (0=unauthenticated, 1=awaiting-otp, 2=authenticated)",
		},
	)

	SessionStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_session_store_ops_total",
			Help: "Session store operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// WebSocket stream
	StreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_stream_connected",
			Help: "WebSocket connection status (1=connected, 0=disconnected)",
		},
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_stream_reconnects_total",
			Help: "WebSocket reconnect attempts",
		},
	)

	StreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stream_frames_total",
			Help: "Inbound WebSocket frames by channel",
		},
		[]string{"channel"},
	)

	StreamParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_stream_parse_errors_total",
			Help: "Inbound frames that failed to decode",
		},
	)

	SubscriptionReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_subscription_replays_total",
			Help: "Subscription replay results after reconnect",
		},
		[]string{"outcome"},
	)

	// Tick cache
	CacheInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_cache_inserts_total",
			Help: "Tick cache inserts by channel and tier",
		},
		[]string{"channel", "tier"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_cache_evictions_total",
			Help: "Tick cache evictions by reason",
		},
		[]string{"reason"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_cache_errors_total",
			Help: "Cache-tier failures by tier (degraded, never fatal)",
		},
		[]string{"tier"},
	)
)

// ObserveRequest records one completed broker call.
func ObserveRequest(endpoint, class, outcome string, elapsed time.Duration) {
	RESTRequests.WithLabelValues(endpoint, class, outcome).Inc()
	RESTDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SetStreamConnected flips the connection gauge.
func SetStreamConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	StreamConnected.Set(v)
}
