package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetrySettings parameterize the retry policy for retryable classes.
type RetrySettings struct {
	MaxAttempts int           // Total attempts including the first
	Wait        time.Duration // Delay before the first retry
	Exponential bool          // Multiply the delay after each retry
	Multiplier  float64
}

// Sleeper pauses for d, returning early with the context's error if it is
// cancelled. Injected so tests run on a virtual clock.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry invokes fn until it succeeds, attempts are exhausted, or retryable
// reports the returned error as final. sleep defaults to SleepContext.
func Retry(ctx context.Context, s RetrySettings, sleep Sleeper, retryable func(error) bool, fn func() error) error {
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = SleepContext
	}

	wait := s.Wait
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= s.MaxAttempts || !retryable(err) {
			return err
		}
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("retry wait after attempt %d: %w", attempt, serr)
		}
		if s.Exponential && s.Multiplier > 0 {
			wait = time.Duration(float64(wait) * s.Multiplier)
		}
	}
}
