// Package rest issues signed POST requests to the broker API.
//
// Every call passes through the resilience envelope in a fixed order:
// rate-limit permit, circuit breaker, retry policy, per-call time limit,
// HTTP round-trip. Endpoint classes (read, write, order, auth) parameterize
// retry eligibility and the fallback served when the envelope refuses a
// call. Payloads are insertion-ordered because the Checker signature covers
// the serialized bytes.
package rest
