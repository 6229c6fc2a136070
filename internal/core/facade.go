package core

import (
	"context"

	"github.com/intradayhq/algolab-gateway/internal/auth"
	"github.com/intradayhq/algolab-gateway/internal/broker"
	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/rest"
	"github.com/intradayhq/algolab-gateway/internal/tickcache"
)

// Authentication operations.

// Login runs the first login step; the broker sends the SMS code on success.
func (c *Core) Login(ctx context.Context, username, password string) error {
	return c.auth.Login(ctx, username, password)
}

// VerifyOTP completes the login with the SMS code.
func (c *Core) VerifyOTP(ctx context.Context, code string) error {
	return c.auth.VerifyOTP(ctx, code)
}

// Logout clears the session locally and deactivates the persisted row.
func (c *Core) Logout(ctx context.Context) {
	c.auth.Clear(ctx, model.TerminationLogout)
}

// AuthState returns the login lifecycle position.
func (c *Core) AuthState() auth.State { return c.auth.State() }

// Order and account operations.

// SendOrder places an order. At most once: failures are never retried.
func (c *Core) SendOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderReceipt, error) {
	return c.broker.SendOrder(ctx, req)
}

// ModifyOrder amends a resting order.
func (c *Core) ModifyOrder(ctx context.Context, req broker.ModifyRequest) (*broker.OrderReceipt, error) {
	return c.broker.ModifyOrder(ctx, req)
}

// CancelOrder deletes a resting order.
func (c *Core) CancelOrder(ctx context.Context, req broker.DeleteRequest) error {
	return c.broker.DeleteOrder(ctx, req)
}

// SubAccounts lists the brokerage sub-accounts.
func (c *Core) SubAccounts(ctx context.Context) ([]broker.SubAccount, error) {
	return c.broker.GetSubAccounts(ctx)
}

// Positions returns current holdings for a sub-account.
func (c *Core) Positions(ctx context.Context, subAccount string) ([]broker.Position, error) {
	return c.broker.InstantPosition(ctx, subAccount)
}

// TodaysTransactions returns today's order activity.
func (c *Core) TodaysTransactions(ctx context.Context, subAccount string) ([]broker.Transaction, error) {
	return c.broker.TodaysTransaction(ctx, subAccount)
}

// PendingOrders returns today's resting orders.
func (c *Core) PendingOrders(ctx context.Context, subAccount string) ([]broker.Transaction, error) {
	return c.broker.PendingOrders(ctx, subAccount)
}

// EquityInfo returns the quote snapshot for a symbol.
func (c *Core) EquityInfo(ctx context.Context, symbol string) (*broker.EquityInfo, error) {
	return c.broker.GetEquityInfo(ctx, symbol)
}

// Candles returns OHLCV bars for a symbol.
func (c *Core) Candles(ctx context.Context, symbol, period string) ([]model.Candle, error) {
	return c.broker.GetCandleData(ctx, symbol, period)
}

// Subscription operations.

// Subscribe registers intent and sends the subscribe frame.
func (c *Core) Subscribe(channel model.Channel, symbol string) error {
	return c.stream.Subscribe(channel, symbol)
}

// SubscribeAll subscribes the wildcard symbol on a channel.
func (c *Core) SubscribeAll(channel model.Channel) error {
	return c.stream.SubscribeAll(channel)
}

// Unsubscribe removes intent and sends the unsubscribe frame.
func (c *Core) Unsubscribe(channel model.Channel, symbol string) error {
	return c.stream.Unsubscribe(channel, symbol)
}

// Subscriptions snapshots the current intent set.
func (c *Core) Subscriptions() []model.Subscription {
	return c.stream.Subscriptions()
}

// StreamConnected reports whether the market-data stream is up.
func (c *Core) StreamConnected() bool { return c.stream.IsConnected() }

// Market-data queries.

// RecentTicks returns up to n cached ticks for symbol, oldest first.
func (c *Core) RecentTicks(symbol string, n int) []model.TickDatum {
	return c.cache.RecentTicks(symbol, n)
}

// RecentOrderBooks returns up to n cached depth snapshots, oldest first.
func (c *Core) RecentOrderBooks(symbol string, n int) []model.OrderBookDatum {
	return c.cache.RecentOrderBooks(symbol, n)
}

// RecentTrades returns up to n cached trades, oldest first.
func (c *Core) RecentTrades(symbol string, n int) []model.TradeDatum {
	return c.cache.RecentTrades(symbol, n)
}

// CacheSummary reports the tick counters.
func (c *Core) CacheSummary(topN int) tickcache.Summary {
	return c.cache.Summary(topN)
}

// SymbolStats reports per-symbol tick counters.
func (c *Core) SymbolStats(symbol string) tickcache.SymbolStats {
	return c.cache.Stats(symbol)
}

// Observability.

// ForceOpenBreaker pins the broker circuit open; every REST call is refused
// until ClearForcedBreaker. Operator control only.
func (c *Core) ForceOpenBreaker() { c.rest.Breaker().ForceOpen() }

// ClearForcedBreaker releases a forced-open circuit with a fresh window.
func (c *Core) ClearForcedBreaker() { c.rest.Breaker().ClearForced() }

// Stats is the gateway observability snapshot.
type Stats struct {
	Auth            string               `json:"auth"`
	Rest            rest.Stats           `json:"rest"`
	StreamConnected bool                 `json:"stream_connected"`
	Subscriptions   []model.Subscription `json:"subscriptions"`
}

// Stats snapshots the resilience envelope, stream state, and intent set.
func (c *Core) Stats() Stats {
	return Stats{
		Auth:            c.auth.State().String(),
		Rest:            c.rest.Stats(),
		StreamConnected: c.stream.IsConnected(),
		Subscriptions:   c.stream.Subscriptions(),
	}
}
