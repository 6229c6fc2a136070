package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// Call after ApplyDefaults.
func (c *GatewayConfig) Validate() error {
	if c.API.Key == "" {
		return errors.New("api.key is required")
	}
	if c.API.Hostname == "" {
		return errors.New("api.hostname is required")
	}
	if c.API.URL == "" {
		return errors.New("api.url is required")
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("api.rate_limit must be > 0, got %v", c.API.RateLimit)
	}

	if c.WebSocket.StreamEnabled() && c.API.WebSocketURL == "" {
		return errors.New("api.websocket_url is required when websocket.enabled")
	}

	switch c.Session.Storage {
	case StorageDatabase:
		if err := c.Session.Database.validate("session.database"); err != nil {
			return err
		}
	case StorageFile:
		if c.Session.FilePath == "" {
			return errors.New("session.file_path is required for file storage")
		}
	default:
		return fmt.Errorf("session.storage must be \"database\" or \"file\", got %q", c.Session.Storage)
	}
	if c.Session.ExpirationHours < 1 {
		return errors.New("session.expiration_hours must be >= 1")
	}
	if c.Session.RetentionDays < 1 {
		return errors.New("session.retention_days must be >= 1")
	}

	if c.WebSocket.Reconnect.Multiplier < 1 {
		return fmt.Errorf("websocket.reconnect.multiplier must be >= 1, got %v", c.WebSocket.Reconnect.Multiplier)
	}
	if c.WebSocket.Reconnect.MaxAttempts < 0 {
		return errors.New("websocket.reconnect.max_attempts must be >= 0 (0 = unlimited)")
	}

	cb := c.Resilience.CircuitBreaker
	if cb.FailureRateThreshold <= 0 || cb.FailureRateThreshold > 100 {
		return fmt.Errorf("resilience.circuit_breaker.failure_rate_threshold must be in (0, 100], got %v", cb.FailureRateThreshold)
	}
	if cb.SlowCallRateThreshold <= 0 || cb.SlowCallRateThreshold > 100 {
		return fmt.Errorf("resilience.circuit_breaker.slow_call_rate_threshold must be in (0, 100], got %v", cb.SlowCallRateThreshold)
	}
	if cb.MinimumNumberOfCalls < 1 {
		return errors.New("resilience.circuit_breaker.minimum_number_of_calls must be >= 1")
	}
	if cb.SlidingWindowSize < cb.MinimumNumberOfCalls {
		return fmt.Errorf("resilience.circuit_breaker.sliding_window_size (%d) cannot be below minimum_number_of_calls (%d)",
			cb.SlidingWindowSize, cb.MinimumNumberOfCalls)
	}
	if cb.HalfOpenPermittedCalls < 1 {
		return errors.New("resilience.circuit_breaker.permitted_number_of_calls_in_half_open_state must be >= 1")
	}

	if c.Resilience.Retry.MaxAttempts < 1 {
		return errors.New("resilience.retry.max_attempts must be >= 1")
	}
	if c.Resilience.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("resilience.retry.exponential_backoff_multiplier must be >= 1, got %v", c.Resilience.Retry.BackoffMultiplier)
	}

	if c.Resilience.TimeLimiter.TimeoutDurationMs < 1 {
		return errors.New("resilience.time_limiter.timeout_duration_ms must be >= 1")
	}

	if c.Cache.Enabled && c.Cache.Redis.Addr == "" {
		return errors.New("cache.redis.addr is required when cache.enabled")
	}
	if c.Cache.MaxItems < 1 {
		return errors.New("cache.max_items must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace|debug|info|warn|error, got %q", c.Logging.Level)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
