// Package tickcache stores recent market data in bounded, age-trimmed
// per-symbol histories: an in-process tier always, plus an optional Redis
// mirror for external consumers. Tier failures degrade, never propagate.
package tickcache

import (
	"sort"
	"sync"
	"time"

	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

type timed[T any] struct {
	at    time.Time
	datum T
}

// series is one channel's bounded history. Entries are trimmed by age and
// then by size, on insert and on read.
type series[T any] struct {
	mu       sync.Mutex
	maxItems int
	ttl      time.Duration
	now      func() time.Time
	bySymbol map[string][]timed[T]
}

func newSeries[T any](maxItems int, ttl time.Duration, now func() time.Time) *series[T] {
	return &series[T]{
		maxItems: maxItems,
		ttl:      ttl,
		now:      now,
		bySymbol: make(map[string][]timed[T]),
	}
}

func (s *series[T]) add(symbol string, datum T) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append(s.bySymbol[symbol], timed[T]{at: now, datum: datum})
	s.bySymbol[symbol] = s.trimLocked(items, now)
}

// recent returns up to n entries for symbol, oldest first. n <= 0 means all.
func (s *series[T]) recent(symbol string, n int) []T {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.trimLocked(s.bySymbol[symbol], now)
	if len(items) == 0 {
		delete(s.bySymbol, symbol)
		return nil
	}
	s.bySymbol[symbol] = items

	if n <= 0 || n > len(items) {
		n = len(items)
	}
	out := make([]T, 0, n)
	for _, it := range items[len(items)-n:] {
		out = append(out, it.datum)
	}
	return out
}

// latest returns the newest entry for symbol and its arrival time.
func (s *series[T]) latest(symbol string) (T, time.Time, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.trimLocked(s.bySymbol[symbol], now)
	if len(items) == 0 {
		delete(s.bySymbol, symbol)
		var zero T
		return zero, time.Time{}, false
	}
	s.bySymbol[symbol] = items
	last := items[len(items)-1]
	return last.datum, last.at, true
}

// symbols returns every symbol with unexpired history, sorted.
func (s *series[T]) symbols() []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.bySymbol))
	for sym, items := range s.bySymbol {
		trimmed := s.trimLocked(items, now)
		if len(trimmed) == 0 {
			delete(s.bySymbol, sym)
			continue
		}
		s.bySymbol[sym] = trimmed
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// trimLocked drops aged entries, then the oldest beyond the size bound.
func (s *series[T]) trimLocked(items []timed[T], now time.Time) []timed[T] {
	cutoff := now.Add(-s.ttl)
	aged := 0
	for aged < len(items) && items[aged].at.Before(cutoff) {
		aged++
	}
	if aged > 0 {
		items = items[aged:]
		metrics.CacheEvictions.WithLabelValues("age").Add(float64(aged))
	}
	if over := len(items) - s.maxItems; over > 0 {
		items = items[over:]
		metrics.CacheEvictions.WithLabelValues("size").Add(float64(over))
	}
	return items
}

// Memory is the in-process tier: one bounded series per channel.
type Memory struct {
	ticks  *series[model.TickDatum]
	books  *series[model.OrderBookDatum]
	trades *series[model.TradeDatum]
}

// NewMemory builds the in-process tier.
func NewMemory(maxItems int, ttl time.Duration, now func() time.Time) *Memory {
	return &Memory{
		ticks:  newSeries[model.TickDatum](maxItems, ttl, now),
		books:  newSeries[model.OrderBookDatum](maxItems, ttl, now),
		trades: newSeries[model.TradeDatum](maxItems, ttl, now),
	}
}

// ActiveSymbols returns the sorted union of symbols with unexpired history
// on any channel.
func (m *Memory) ActiveSymbols() []string {
	seen := make(map[string]struct{})
	for _, syms := range [][]string{m.ticks.symbols(), m.books.symbols(), m.trades.symbols()} {
		for _, s := range syms {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
