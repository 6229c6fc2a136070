package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeLimitSettings bound every guarded call.
type TimeLimitSettings struct {
	Timeout       time.Duration
	CancelRunning bool // Cancel the in-flight call on expiry (default contract)
}

// TimeLimit runs fn under the configured deadline. With CancelRunning the
// child context is cancelled on expiry and the call unwinds; without it the
// verdict returns while the call drains in the background.
func TimeLimit(ctx context.Context, s TimeLimitSettings, after func(time.Duration) <-chan time.Time, fn func(context.Context) error) error {
	if s.Timeout <= 0 {
		return fn(ctx)
	}
	if after == nil {
		after = time.After
	}

	if s.CancelRunning {
		tctx, cancel := context.WithTimeout(ctx, s.Timeout)
		defer cancel()
		err := fn(tctx)
		if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrCallTimeout
		}
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-after(s.Timeout):
		return ErrCallTimeout
	}
}
