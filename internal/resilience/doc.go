// Package resilience implements the guard chain wrapped around every broker
// REST call: circuit breaker, retry policy, and per-call time limiting.
//
// The chain order is rate-limit -> breaker -> retry -> time-limit -> call,
// parameterized by endpoint class. Orders and auth steps are at-most-once and
// never retried.
package resilience
