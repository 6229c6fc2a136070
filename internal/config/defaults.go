package config

// Default values for optional configuration fields. Resilience numbers mirror
// the broker-side contract the gateway was tuned against.
const (
	DefaultRateLimit           = 0.2 // One call every five seconds
	DefaultRefreshIntervalMs   = 300000
	DefaultSessionStorage      = "database"
	DefaultExpirationHours     = 24
	DefaultRetentionDays       = 30
	DefaultCleanupCron         = "0 * * * *" // Hourly, on the hour
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultHeartbeatIntervalMs = 900000 // 15 minutes
	DefaultConnTimeoutMs       = 30000
	DefaultReconnectInitialMs  = 1000
	DefaultReconnectMaxMs      = 60000
	DefaultReconnectMultiplier = 2.0
	DefaultFailureRate         = 50.0
	DefaultSlowCallDurationMs  = 5000
	DefaultSlowCallRate        = 100.0
	DefaultOpenStateWaitMs     = 60000
	DefaultHalfOpenCalls       = 10
	DefaultMinimumCalls        = 5
	DefaultSlidingWindow       = 100
	DefaultRetryAttempts       = 3
	DefaultRetryWaitMs         = 2000
	DefaultRetryMultiplier     = 2.0
	DefaultCallTimeoutMs       = 10000
	DefaultFallbackTTLMs       = 300000 // 5 minutes
	DefaultCacheMaxItems       = 100
	DefaultCacheTTLMs          = 300000
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
)

// ApplyDefaults fills zero-valued optional fields in place.
func (c *GatewayConfig) ApplyDefaults() {
	// API defaults
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}

	// Auth defaults
	if c.Auth.RefreshIntervalMs == 0 {
		c.Auth.RefreshIntervalMs = DefaultRefreshIntervalMs
	}

	// Session defaults
	if c.Session.Storage == "" {
		c.Session.Storage = DefaultSessionStorage
	}
	if c.Session.ExpirationHours == 0 {
		c.Session.ExpirationHours = DefaultExpirationHours
	}
	if c.Session.RetentionDays == 0 {
		c.Session.RetentionDays = DefaultRetentionDays
	}
	if c.Session.CleanupCron == "" {
		c.Session.CleanupCron = DefaultCleanupCron
	}
	applyDBDefaults(&c.Session.Database)

	// WebSocket defaults
	if c.WebSocket.HeartbeatIntervalMs == 0 {
		c.WebSocket.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.WebSocket.ConnectionTimeoutMs == 0 {
		c.WebSocket.ConnectionTimeoutMs = DefaultConnTimeoutMs
	}
	if c.WebSocket.Reconnect.InitialDelayMs == 0 {
		c.WebSocket.Reconnect.InitialDelayMs = DefaultReconnectInitialMs
	}
	if c.WebSocket.Reconnect.MaxDelayMs == 0 {
		c.WebSocket.Reconnect.MaxDelayMs = DefaultReconnectMaxMs
	}
	if c.WebSocket.Reconnect.Multiplier == 0 {
		c.WebSocket.Reconnect.Multiplier = DefaultReconnectMultiplier
	}

	// Circuit breaker defaults
	cb := &c.Resilience.CircuitBreaker
	if cb.FailureRateThreshold == 0 {
		cb.FailureRateThreshold = DefaultFailureRate
	}
	if cb.SlowCallDurationMs == 0 {
		cb.SlowCallDurationMs = DefaultSlowCallDurationMs
	}
	if cb.SlowCallRateThreshold == 0 {
		cb.SlowCallRateThreshold = DefaultSlowCallRate
	}
	if cb.WaitDurationInOpenStateMs == 0 {
		cb.WaitDurationInOpenStateMs = DefaultOpenStateWaitMs
	}
	if cb.HalfOpenPermittedCalls == 0 {
		cb.HalfOpenPermittedCalls = DefaultHalfOpenCalls
	}
	if cb.MinimumNumberOfCalls == 0 {
		cb.MinimumNumberOfCalls = DefaultMinimumCalls
	}
	if cb.SlidingWindowSize == 0 {
		cb.SlidingWindowSize = DefaultSlidingWindow
	}

	// Retry defaults
	if c.Resilience.Retry.MaxAttempts == 0 {
		c.Resilience.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Resilience.Retry.WaitDurationMs == 0 {
		c.Resilience.Retry.WaitDurationMs = DefaultRetryWaitMs
	}
	if c.Resilience.Retry.BackoffMultiplier == 0 {
		c.Resilience.Retry.BackoffMultiplier = DefaultRetryMultiplier
	}

	// Time limiter defaults
	if c.Resilience.TimeLimiter.TimeoutDurationMs == 0 {
		c.Resilience.TimeLimiter.TimeoutDurationMs = DefaultCallTimeoutMs
	}

	// Fallback defaults
	if c.Resilience.Fallback.TTLMs == 0 {
		c.Resilience.Fallback.TTLMs = DefaultFallbackTTLMs
	}

	// Cache defaults
	if c.Cache.MaxItems == 0 {
		c.Cache.MaxItems = DefaultCacheMaxItems
	}
	if c.Cache.TTLMs == 0 {
		c.Cache.TTLMs = DefaultCacheTTLMs
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
