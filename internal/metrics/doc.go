// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - REST call rates, latencies, retries, and fallback serves
//   - Circuit breaker and authentication state
//   - WebSocket connection state, frame rates, and replay outcomes
//   - Tick cache inserts, evictions, and tier errors
//
// The Server also exposes the composed /health document and debug snapshots.
package metrics
