package tickcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// CacheError wraps a tier failure. The facade logs these and moves on; a
// broken cache never stalls the data path.
type CacheError struct {
	Tier string
	Op   string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Summary is a point-in-time view of the tick counters. Totals cover the
// current process; the Redis mirror keeps the cumulative view across
// restarts.
type Summary struct {
	TotalTicks     int64         `json:"total_ticks"`
	TicksPerSecond float64       `json:"ticks_per_second"` // last-minute window / 60
	OverallRate    float64       `json:"overall_rate"`     // ticks/sec since the first tick
	TopSymbols     []SymbolCount `json:"top_symbols"`
	ActiveSymbols  []string      `json:"active_symbols"`
	FirstTickAt    time.Time     `json:"first_tick_at"`
	LastTickAt     time.Time     `json:"last_tick_at"`
}

// SymbolCount pairs a symbol with its tick count.
type SymbolCount struct {
	Symbol string `json:"symbol"`
	Count  int64  `json:"count"`
}

// SymbolStats is the per-symbol view: lifetime count plus the newest cached
// tick, nil once the history has aged out.
type SymbolStats struct {
	Symbol     string           `json:"symbol"`
	TickCount  int64            `json:"tick_count"`
	LastTickAt time.Time        `json:"last_tick_at"`
	LastTick   *model.TickDatum `json:"last_tick,omitempty"`
}

// Cache is the market-data store the stream handlers feed. Every insert
// lands in the in-process tier; when the Redis mirror is configured it is
// written through in the same call.
type Cache struct {
	memory *Memory
	redis  *RedisTier // nil when the mirror is disabled
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	total  int64
	bySym  map[string]int64
	first  time.Time
	last   time.Time
	window []int64 // tick arrivals (ms) within the last minute
}

// Option adjusts cache construction.
type Option func(*Cache)

// WithClock overrides the time source. Tests use this to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds the cache from config. cfg.Enabled attaches the Redis mirror;
// the mirror dials lazily, so an unreachable Redis degrades at runtime
// instead of failing construction.
func New(cfg config.CacheConfig, logger zerolog.Logger, opts ...Option) *Cache {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = config.DefaultCacheMaxItems
	}
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = time.Duration(config.DefaultCacheTTLMs) * time.Millisecond
	}

	c := &Cache{
		logger: logger.With().Str("component", "tickcache").Logger(),
		now:    time.Now,
		bySym:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.memory = NewMemory(maxItems, ttl, c.now)
	if cfg.Enabled {
		c.redis = NewRedisTier(cfg.Redis, maxItems, ttl, logger)
	}
	return c
}

// Close releases the Redis mirror. The in-process tier needs no teardown.
func (c *Cache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// RedisEnabled reports whether the mirror is configured.
func (c *Cache) RedisEnabled() bool { return c.redis != nil }

// RedisHealthy pings the mirror. Vacuously true when the mirror is off.
func (c *Cache) RedisHealthy(ctx context.Context) bool {
	if c.redis == nil {
		return true
	}
	return c.redis.Ping(ctx) == nil
}

// AddTick records one tick and maintains the counters Summary reads.
func (c *Cache) AddTick(ctx context.Context, td model.TickDatum) {
	at := c.now()
	sym := normalizeSymbol(td.Symbol)
	c.memory.ticks.add(sym, td)
	metrics.CacheInserts.WithLabelValues(string(model.ChannelTick), "memory").Inc()

	arrival := at.UnixMilli()
	c.mu.Lock()
	c.total++
	c.bySym[sym]++
	if c.first.IsZero() {
		c.first = at
	}
	c.last = at
	c.window = append(c.window, arrival)
	c.trimWindowLocked(arrival)
	c.mu.Unlock()

	c.mirror(ctx, model.ChannelTick, sym, td, at)
}

// AddOrderBook records one depth snapshot.
func (c *Cache) AddOrderBook(ctx context.Context, ob model.OrderBookDatum) {
	at := c.now()
	sym := normalizeSymbol(ob.Symbol)
	c.memory.books.add(sym, ob)
	metrics.CacheInserts.WithLabelValues(string(model.ChannelOrderBook), "memory").Inc()
	c.mirror(ctx, model.ChannelOrderBook, sym, ob, at)
}

// AddTrade records one executed trade.
func (c *Cache) AddTrade(ctx context.Context, tr model.TradeDatum) {
	at := c.now()
	sym := normalizeSymbol(tr.Symbol)
	c.memory.trades.add(sym, tr)
	metrics.CacheInserts.WithLabelValues(string(model.ChannelTrade), "memory").Inc()
	c.mirror(ctx, model.ChannelTrade, sym, tr, at)
}

// RecentTicks returns up to n cached ticks for symbol, oldest first.
func (c *Cache) RecentTicks(symbol string, n int) []model.TickDatum {
	return c.memory.ticks.recent(normalizeSymbol(symbol), n)
}

// RecentOrderBooks returns up to n cached depth snapshots, oldest first.
func (c *Cache) RecentOrderBooks(symbol string, n int) []model.OrderBookDatum {
	return c.memory.books.recent(normalizeSymbol(symbol), n)
}

// RecentTrades returns up to n cached trades, oldest first.
func (c *Cache) RecentTrades(symbol string, n int) []model.TradeDatum {
	return c.memory.trades.recent(normalizeSymbol(symbol), n)
}

// Summary reports the tick counters. topN bounds the symbol leaderboard;
// topN <= 0 returns every symbol.
func (c *Cache) Summary(topN int) Summary {
	now := c.now()

	c.mu.Lock()
	c.trimWindowLocked(now.UnixMilli())
	s := Summary{
		TotalTicks:     c.total,
		TicksPerSecond: float64(len(c.window)) / 60,
		TopSymbols:     topSymbolsLocked(c.bySym, topN),
		FirstTickAt:    c.first,
		LastTickAt:     c.last,
	}
	c.mu.Unlock()

	s.ActiveSymbols = c.memory.ActiveSymbols()
	if !s.FirstTickAt.IsZero() {
		// Clamped to one second so the rate stays finite right after start.
		elapsed := now.Sub(s.FirstTickAt)
		if elapsed < time.Second {
			elapsed = time.Second
		}
		s.OverallRate = float64(s.TotalTicks) / elapsed.Seconds()
	}
	return s
}

// Stats reports the per-symbol tick count and the newest cached tick.
func (c *Cache) Stats(symbol string) SymbolStats {
	symbol = normalizeSymbol(symbol)

	c.mu.Lock()
	count := c.bySym[symbol]
	c.mu.Unlock()

	st := SymbolStats{Symbol: symbol, TickCount: count}
	if td, at, ok := c.memory.ticks.latest(symbol); ok {
		st.LastTick = &td
		st.LastTickAt = at
	}
	return st
}

// mirror writes through to Redis. Failures are counted and logged, never
// returned.
func (c *Cache) mirror(ctx context.Context, channel model.Channel, symbol string, datum any, at time.Time) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(datum)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis").Inc()
		c.logger.Warn().Err(&CacheError{Tier: "redis", Op: "marshal", Err: err}).Msg("cache write skipped")
		return
	}
	if err := c.redis.Add(ctx, channel, symbol, payload, at); err != nil {
		metrics.CacheErrors.WithLabelValues("redis").Inc()
		c.logger.Warn().Err(&CacheError{Tier: "redis", Op: "add", Err: err}).Msg("cache tier degraded")
		return
	}
	metrics.CacheInserts.WithLabelValues(string(channel), "redis").Inc()
}

// trimWindowLocked drops arrivals older than one minute. Entries exactly at
// the cutoff stay in.
func (c *Cache) trimWindowLocked(nowMs int64) {
	cutoff := nowMs - time.Minute.Milliseconds()
	i := 0
	for i < len(c.window) && c.window[i] < cutoff {
		i++
	}
	if i > 0 {
		c.window = c.window[i:]
	}
}

func topSymbolsLocked(bySym map[string]int64, topN int) []SymbolCount {
	out := make([]SymbolCount, 0, len(bySym))
	for sym, n := range bySym {
		out = append(out, SymbolCount{Symbol: sym, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Symbol < out[j].Symbol
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
