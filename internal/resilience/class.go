package resilience

import (
	"errors"
	"fmt"
)

// Class partitions endpoints by resilience policy.
type Class int

const (
	ClassRead  Class = iota // reference/quote reads: retryable, cache fallback
	ClassWrite              // order modify/cancel: at-most-once, no cache
	ClassOrder              // order placement: at-most-once, explicit failure message
	ClassAuth               // login/refresh/liveness: at-most-once, errors surface directly
)

func (c Class) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	case ClassOrder:
		return "order"
	case ClassAuth:
		return "auth"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// AllowsRetry reports whether the class tolerates re-dispatch of a failed
// call. Only reads do; every mutation and auth step is at-most-once.
func (c Class) AllowsRetry() bool { return c == ClassRead }

// AllowsCachedFallback reports whether last-good responses may satisfy the
// call when the circuit refuses it.
func (c Class) AllowsCachedFallback() bool { return c == ClassRead }

// Sentinel errors for the guard chain.
var (
	// ErrCircuitOpen rejects a call without contacting the upstream.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimitExceeded reports a permit wait that exceeded the caller's
	// budget.
	ErrRateLimitExceeded = errors.New("rate limit permit not acquired in time")

	// ErrCallTimeout reports a call cancelled by the time limiter.
	ErrCallTimeout = errors.New("call timed out")
)

// BreakerError carries the breaker identity and state behind ErrCircuitOpen.
type BreakerError struct {
	Name  string
	State State
}

func (e *BreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s", e.Name, e.State)
}

// Unwrap lets errors.Is(err, ErrCircuitOpen) match rejections.
func (e *BreakerError) Unwrap() error { return ErrCircuitOpen }
