package stream

import (
	"sort"
	"sync"

	"github.com/intradayhq/algolab-gateway/internal/model"
)

// Registry owns the active subscription set. The wildcard subscription is a
// regular (channel, ALL) entry; it never expands to per-symbol records.
type Registry struct {
	mu   sync.Mutex
	subs map[model.Subscription]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[model.Subscription]struct{})}
}

// Add records a subscription intent. Returns false when already present.
func (r *Registry) Add(sub model.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		return false
	}
	r.subs[sub] = struct{}{}
	return true
}

// Remove drops a subscription intent. Returns false when absent.
func (r *Registry) Remove(sub model.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; !ok {
		return false
	}
	delete(r.subs, sub)
	return true
}

// Contains reports whether the subscription is active.
func (r *Registry) Contains(sub model.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[sub]
	return ok
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Snapshot returns the active set sorted by key, for deterministic replay.
func (r *Registry) Snapshot() []model.Subscription {
	r.mu.Lock()
	out := make([]model.Subscription, 0, len(r.subs))
	for sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
