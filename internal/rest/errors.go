package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/intradayhq/algolab-gateway/internal/resilience"
)

// ErrServiceUnavailable is surfaced when the resilience envelope refuses a
// call and no cached response can satisfy it.
var ErrServiceUnavailable = errors.New("service temporarily unavailable, try later")

// ErrOrderNotPlaced is the order-path fallback verdict. The wrapped sentinel
// lets callers match ErrServiceUnavailable while the message stays explicit
// about the at-most-once outcome.
var ErrOrderNotPlaced = fmt.Errorf("order was NOT placed: %w", ErrServiceUnavailable)

// APIError is a non-2xx broker response. 4xx responses are never retried.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return fmt.Sprintf("broker api %s returned 401: unauthorized, please log in again", e.Endpoint)
	}
	return fmt.Sprintf("broker api %s returned %d: %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable reports whether the status indicates a transient upstream
// condition (5xx). 4xx responses are the caller's fault and final.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Unauthorized reports whether the broker rejected the session credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// TransportError is an IO-level failure (DNS, TLS, connection reset,
// deadline). Always retryable for retry-tolerant endpoint classes.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network unreachable calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable classifies an error for the retry policy: transport failures,
// per-call timeouts, and 5xx responses qualify; everything else is final.
func Retryable(err error) bool {
	if errors.Is(err, resilience.ErrCallTimeout) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.IsRetryable()
	}
	return false
}
