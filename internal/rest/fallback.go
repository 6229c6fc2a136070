package rest

import (
	"sync"
	"time"
)

// fallbackCache keeps the last good response body per endpoint so read-only
// calls can be satisfied while the circuit is open or retries are exhausted.
// Entries past the TTL are never served.
type fallbackCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]fallbackEntry

	hits   uint64
	misses uint64
	stale  uint64
}

type fallbackEntry struct {
	body     []byte
	storedAt time.Time
}

func newFallbackCache(ttl time.Duration, now func() time.Time) *fallbackCache {
	if now == nil {
		now = time.Now
	}
	return &fallbackCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]fallbackEntry),
	}
}

// Store records the latest good body for endpoint.
func (f *fallbackCache) Store(endpoint string, body []byte) {
	cp := make([]byte, len(body))
	copy(cp, body)
	f.mu.Lock()
	f.entries[endpoint] = fallbackEntry{body: cp, storedAt: f.now()}
	f.mu.Unlock()
}

// Load returns the cached body for endpoint if it is within the TTL.
// Expired entries are dropped on read.
func (f *fallbackCache) Load(endpoint string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[endpoint]
	if !ok {
		f.misses++
		return nil, false
	}
	if f.now().Sub(e.storedAt) > f.ttl {
		delete(f.entries, endpoint)
		f.stale++
		return nil, false
	}
	f.hits++
	return e.body, true
}

// FallbackStats is an observability snapshot of the last-good cache.
type FallbackStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	Stale   uint64
}

func (f *fallbackCache) Stats() FallbackStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FallbackStats{
		Entries: len(f.entries),
		Hits:    f.hits,
		Misses:  f.misses,
		Stale:   f.stale,
	}
}
