package tickcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1750000000000)}
	c := New(config.CacheConfig{}, zerolog.Nop(), WithClock(clock.Now))
	return c, clock
}

func tick(symbol string, price float64) model.TickDatum {
	return model.TickDatum{Symbol: symbol, LastPrice: price}
}

func TestCacheBoundsTickHistory(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		c.AddTick(ctx, tick("GARAN", float64(i)))
		clock.Advance(time.Millisecond)
	}

	got := c.RecentTicks("GARAN", 0)
	if len(got) != 100 {
		t.Fatalf("history length = %d, want 100", len(got))
	}
	if got[0].LastPrice != 50 {
		t.Errorf("oldest surviving price = %v, want 50", got[0].LastPrice)
	}
	if got[99].LastPrice != 149 {
		t.Errorf("newest price = %v, want 149", got[99].LastPrice)
	}

	newest := c.RecentTicks("garan", 2)
	if len(newest) != 2 || newest[0].LastPrice != 148 || newest[1].LastPrice != 149 {
		t.Errorf("RecentTicks(2) = %+v, want prices 148, 149 oldest first", newest)
	}
}

func TestCacheExpiresByAge(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.AddTick(ctx, tick("GARAN", 1))
	c.AddTick(ctx, tick("GARAN", 2))
	clock.Advance(4 * time.Minute)
	c.AddTick(ctx, tick("GARAN", 3))

	// 5.5 minutes after the first two inserts: only the third survives.
	clock.Advance(90 * time.Second)
	got := c.RecentTicks("GARAN", 0)
	if len(got) != 1 || got[0].LastPrice != 3 {
		t.Fatalf("after expiry got %+v, want the single price-3 tick", got)
	}

	clock.Advance(5 * time.Minute)
	if got := c.RecentTicks("GARAN", 0); len(got) != 0 {
		t.Errorf("expected empty history after full expiry, got %d entries", len(got))
	}
	if syms := c.Summary(0).ActiveSymbols; len(syms) != 0 {
		t.Errorf("expected no active symbols after expiry, got %v", syms)
	}
}

func TestCacheSummaryCounts(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.AddTick(ctx, tick("GARAN", 10))
	}
	for i := 0; i < 3; i++ {
		c.AddTick(ctx, tick("THYAO", 20))
	}
	c.AddTick(ctx, tick("AKBNK", 30))

	s := c.Summary(2)
	if s.TotalTicks != 9 {
		t.Fatalf("TotalTicks = %d, want 9", s.TotalTicks)
	}
	if len(s.TopSymbols) != 2 || s.TopSymbols[0] != (SymbolCount{"GARAN", 5}) || s.TopSymbols[1] != (SymbolCount{"THYAO", 3}) {
		t.Errorf("TopSymbols = %+v, want GARAN:5 then THYAO:3", s.TopSymbols)
	}
	if s.TicksPerSecond != 9.0/60 {
		t.Errorf("TicksPerSecond = %v, want %v", s.TicksPerSecond, 9.0/60)
	}
	// All nine landed in the first second, so the overall rate clamps to 9/s.
	if s.OverallRate != 9 {
		t.Errorf("OverallRate = %v, want 9", s.OverallRate)
	}
	if s.FirstTickAt.IsZero() || s.LastTickAt.IsZero() {
		t.Errorf("expected first/last tick times to be set, got %v and %v", s.FirstTickAt, s.LastTickAt)
	}

	full := c.Summary(0)
	var sum int64
	for _, sc := range full.TopSymbols {
		sum += sc.Count
	}
	if sum != full.TotalTicks {
		t.Errorf("per-symbol counts sum to %d, total is %d", sum, full.TotalTicks)
	}

	wantActive := []string{"AKBNK", "GARAN", "THYAO"}
	if len(full.ActiveSymbols) != len(wantActive) {
		t.Fatalf("ActiveSymbols = %v, want %v", full.ActiveSymbols, wantActive)
	}
	for i, sym := range wantActive {
		if full.ActiveSymbols[i] != sym {
			t.Errorf("ActiveSymbols[%d] = %q, want %q", i, full.ActiveSymbols[i], sym)
		}
	}
}

func TestCacheWindowSlides(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	// One tick per second for two minutes.
	for i := 0; i < 120; i++ {
		c.AddTick(ctx, tick("GARAN", float64(i)))
		clock.Advance(time.Second)
	}

	s := c.Summary(0)
	if s.TotalTicks != 120 {
		t.Fatalf("TotalTicks = %d, want 120", s.TotalTicks)
	}
	if s.TicksPerSecond != 1 {
		t.Errorf("TicksPerSecond = %v, want 1", s.TicksPerSecond)
	}

	clock.Advance(2 * time.Minute)
	s = c.Summary(0)
	if s.TicksPerSecond != 0 {
		t.Errorf("TicksPerSecond after silence = %v, want 0", s.TicksPerSecond)
	}
	if s.TotalTicks != 120 {
		t.Errorf("TotalTicks after silence = %d, want 120", s.TotalTicks)
	}
}

func TestCacheStats(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.AddTick(ctx, tick("GARAN", 1))
	clock.Advance(time.Millisecond)
	c.AddTick(ctx, tick("GARAN", 2))
	clock.Advance(time.Millisecond)
	c.AddTick(ctx, tick("GARAN", 3))
	lastAt := clock.Now()

	st := c.Stats("garan")
	if st.Symbol != "GARAN" || st.TickCount != 3 {
		t.Fatalf("Stats = %+v, want symbol GARAN with count 3", st)
	}
	if st.LastTick == nil || st.LastTick.LastPrice != 3 {
		t.Fatalf("LastTick = %+v, want price 3", st.LastTick)
	}
	if !st.LastTickAt.Equal(lastAt) {
		t.Errorf("LastTickAt = %v, want %v", st.LastTickAt, lastAt)
	}

	// Counts survive expiry; only the cached payload ages out.
	clock.Advance(6 * time.Minute)
	st = c.Stats("GARAN")
	if st.TickCount != 3 {
		t.Errorf("TickCount after expiry = %d, want 3", st.TickCount)
	}
	if st.LastTick != nil {
		t.Errorf("LastTick after expiry = %+v, want nil", st.LastTick)
	}
}

func TestCacheChannelsIndependent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.AddTick(ctx, tick("GARAN", 92.5))
	c.AddOrderBook(ctx, model.OrderBookDatum{
		Symbol: "GARAN",
		Bids:   []model.BookLevel{{Price: 92.4, Quantity: 100}},
		Asks:   []model.BookLevel{{Price: 92.6, Quantity: 80}},
	})
	c.AddTrade(ctx, model.TradeDatum{Symbol: "THYAO", Price: 315, Quantity: 10, Side: "BUY"})

	books := c.RecentOrderBooks("GARAN", 0)
	if len(books) != 1 {
		t.Fatalf("order book history length = %d, want 1", len(books))
	}
	if spread := books[0].Spread(); spread < 0.199 || spread > 0.201 {
		t.Errorf("Spread = %v, want 0.2", spread)
	}
	if trades := c.RecentTrades("THYAO", 0); len(trades) != 1 || trades[0].Side != "BUY" {
		t.Errorf("trade history = %+v, want one BUY", trades)
	}
	if ticks := c.RecentTicks("THYAO", 0); len(ticks) != 0 {
		t.Errorf("THYAO tick history = %+v, want empty", ticks)
	}

	s := c.Summary(0)
	if s.TotalTicks != 1 {
		t.Errorf("TotalTicks = %d, want 1 (books and trades are not ticks)", s.TotalTicks)
	}
	if len(s.ActiveSymbols) != 2 || s.ActiveSymbols[0] != "GARAN" || s.ActiveSymbols[1] != "THYAO" {
		t.Errorf("ActiveSymbols = %v, want [GARAN THYAO]", s.ActiveSymbols)
	}
}

func TestRedisKeyLayout(t *testing.T) {
	cases := []struct {
		channel model.Channel
		symbol  string
		want    string
	}{
		{model.ChannelTick, "GARAN", "algolab:tick:GARAN"},
		{model.ChannelOrderBook, "AKBNK", "algolab:orderbook:AKBNK"},
		{model.ChannelTrade, "THYAO", "algolab:trade:THYAO"},
	}
	for _, tc := range cases {
		if got := dataKey(tc.channel, tc.symbol); got != tc.want {
			t.Errorf("dataKey(%s, %s) = %q, want %q", tc.channel, tc.symbol, got, tc.want)
		}
	}

	// External consumers read these names directly.
	published := map[string]string{
		keyActiveSymbols: "algolab:symbols:active",
		keyTickTotal:     "algolab:metrics:total",
		keyTickCounts:    "algolab:metrics:symbol:counts",
		keyTickLastTime:  "algolab:metrics:tick:last-time",
		keyTickFirstTime: "algolab:metrics:tick:first-time",
		keyTickWindow:    "algolab:metrics:tick:last-minute",
	}
	for got, want := range published {
		if got != want {
			t.Errorf("published key %q, want %q", got, want)
		}
	}
}
