package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// APIConfig holds broker REST/WebSocket endpoints and the API key.
type APIConfig struct {
	Key          string  `yaml:"key"`           // Broker API key ("API-KEY ..." or bare)
	Hostname     string  `yaml:"hostname"`      // Hostname component of the Checker signature
	URL          string  `yaml:"url"`           // REST base URL
	WebSocketURL string  `yaml:"websocket_url"` // Stream endpoint
	RateLimit    float64 `yaml:"rate_limit"`    // Permits per second (broker allows 0.2/s)
}

// AuthConfig holds broker login settings.
type AuthConfig struct {
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	AutoLogin         *bool  `yaml:"auto_login"`          // Attempt restore/login at startup
	KeepAlive         *bool  `yaml:"keep_alive"`          // Run the scheduled session refresher
	RefreshIntervalMs int    `yaml:"refresh_interval_ms"` // SessionRefresh cadence
}

// AutoLoginEnabled defaults to true when unset.
func (a AuthConfig) AutoLoginEnabled() bool { return a.AutoLogin == nil || *a.AutoLogin }

// KeepAliveEnabled defaults to true when unset.
func (a AuthConfig) KeepAliveEnabled() bool { return a.KeepAlive == nil || *a.KeepAlive }

// RefreshInterval returns the keep-alive cadence as a duration.
func (a AuthConfig) RefreshInterval() time.Duration {
	return time.Duration(a.RefreshIntervalMs) * time.Millisecond
}

// Session store backends.
const (
	StorageDatabase = "database"
	StorageFile     = "file"
)

// SessionConfig selects and parameterizes the session store backend.
type SessionConfig struct {
	Storage         string   `yaml:"storage"`   // "database" or "file"
	FilePath        string   `yaml:"file_path"` // Used by the file backend
	ExpirationHours int      `yaml:"expiration_hours"`
	RetentionDays   int      `yaml:"retention_days"`
	CleanupCron     string   `yaml:"cleanup_cron"` // Standard 5-field cron expression
	AutoCleanup     *bool    `yaml:"auto_cleanup"`
	Database        DBConfig `yaml:"database"`
}

// AutoCleanupEnabled defaults to true when unset.
func (s SessionConfig) AutoCleanupEnabled() bool { return s.AutoCleanup == nil || *s.AutoCleanup }

// Expiration returns the local session lifetime.
func (s SessionConfig) Expiration() time.Duration {
	return time.Duration(s.ExpirationHours) * time.Hour
}

// Retention returns how long inactive rows are kept before purge.
func (s SessionConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WebSocketConfig holds stream connection settings.
type WebSocketConfig struct {
	Enabled             *bool           `yaml:"enabled"`
	AutoConnect         *bool           `yaml:"auto_connect"` // Connect on authentication event
	HeartbeatIntervalMs int             `yaml:"heartbeat_interval_ms"`
	ConnectionTimeoutMs int             `yaml:"connection_timeout_ms"`
	Reconnect           ReconnectConfig `yaml:"reconnect"`
}

// StreamEnabled defaults to true when unset.
func (w WebSocketConfig) StreamEnabled() bool { return w.Enabled == nil || *w.Enabled }

// AutoConnectEnabled defaults to true when unset.
func (w WebSocketConfig) AutoConnectEnabled() bool { return w.AutoConnect == nil || *w.AutoConnect }

// HeartbeatInterval returns the ping cadence as a duration.
func (w WebSocketConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalMs) * time.Millisecond
}

// ConnectionTimeout returns the handshake deadline as a duration.
func (w WebSocketConfig) ConnectionTimeout() time.Duration {
	return time.Duration(w.ConnectionTimeoutMs) * time.Millisecond
}

// ReconnectConfig holds exponential backoff parameters for stream recovery.
type ReconnectConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxAttempts    int     `yaml:"max_attempts"` // 0 = unlimited
}

// ReconnectEnabled defaults to true when unset.
func (r ReconnectConfig) ReconnectEnabled() bool { return r.Enabled == nil || *r.Enabled }

// InitialDelay returns the first backoff step as a duration.
func (r ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// ResilienceConfig parameterizes the REST resilience envelope.
type ResilienceConfig struct {
	CircuitBreaker BreakerConfig     `yaml:"circuit_breaker"`
	Retry          RetryConfig       `yaml:"retry"`
	TimeLimiter    TimeLimiterConfig `yaml:"time_limiter"`
	Fallback       FallbackConfig    `yaml:"fallback"`
}

// BreakerConfig mirrors the upstream circuit-breaker contract.
type BreakerConfig struct {
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold"`        // Percent, 0-100
	SlowCallDurationMs        int     `yaml:"slow_call_duration_threshold_ms"`
	SlowCallRateThreshold     float64 `yaml:"slow_call_rate_threshold"` // Percent, 0-100
	WaitDurationInOpenStateMs int     `yaml:"wait_duration_in_open_state_ms"`
	HalfOpenPermittedCalls    int     `yaml:"permitted_number_of_calls_in_half_open_state"`
	MinimumNumberOfCalls      int     `yaml:"minimum_number_of_calls"`
	SlidingWindowSize         int     `yaml:"sliding_window_size"`
}

// SlowCallDuration returns the slow-call threshold as a duration.
func (b BreakerConfig) SlowCallDuration() time.Duration {
	return time.Duration(b.SlowCallDurationMs) * time.Millisecond
}

// WaitDurationInOpenState returns the open-state hold as a duration.
func (b BreakerConfig) WaitDurationInOpenState() time.Duration {
	return time.Duration(b.WaitDurationInOpenStateMs) * time.Millisecond
}

// RetryConfig holds retry policy settings for retryable endpoint classes.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts"`
	WaitDurationMs     int     `yaml:"wait_duration_ms"`
	ExponentialBackoff *bool   `yaml:"enable_exponential_backoff"`
	BackoffMultiplier  float64 `yaml:"exponential_backoff_multiplier"`
}

// ExponentialBackoffEnabled defaults to true when unset.
func (r RetryConfig) ExponentialBackoffEnabled() bool {
	return r.ExponentialBackoff == nil || *r.ExponentialBackoff
}

// WaitDuration returns the initial retry wait as a duration.
func (r RetryConfig) WaitDuration() time.Duration {
	return time.Duration(r.WaitDurationMs) * time.Millisecond
}

// TimeLimiterConfig bounds every REST call.
type TimeLimiterConfig struct {
	TimeoutDurationMs   int   `yaml:"timeout_duration_ms"`
	CancelRunningFuture *bool `yaml:"cancel_running_future"`
}

// Timeout returns the per-call cap as a duration.
func (t TimeLimiterConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutDurationMs) * time.Millisecond
}

// CancelEnabled defaults to true when unset.
func (t TimeLimiterConfig) CancelEnabled() bool {
	return t.CancelRunningFuture == nil || *t.CancelRunningFuture
}

// FallbackConfig holds last-good-response cache settings.
type FallbackConfig struct {
	TTLMs        int  `yaml:"ttl_ms"`
	DevPositions bool `yaml:"dev_positions"` // Serve a mock positions payload on fallback (dev only)
}

// TTL returns the last-good freshness window as a duration.
func (f FallbackConfig) TTL() time.Duration { return time.Duration(f.TTLMs) * time.Millisecond }

// CacheConfig holds the optional Redis tick-cache tier.
type CacheConfig struct {
	Enabled  bool        `yaml:"enabled"`
	Redis    RedisConfig `yaml:"redis"`
	MaxItems int         `yaml:"max_items"` // Per (channel, symbol) bound
	TTLMs    int         `yaml:"ttl_ms"`    // Per-entry freshness window
}

// TTL returns the cache entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLMs) * time.Millisecond }

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// MetricsEnabled defaults to true when unset.
func (m MetricsConfig) MetricsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // trace|debug|info|warn|error
}
