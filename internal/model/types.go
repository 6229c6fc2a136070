package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Subscription Types
// -----------------------------------------------------------------------------

// Channel identifies a market-data stream class on the broker WebSocket.
type Channel string

const (
	ChannelTick      Channel = "tick"      // price updates ("T" frames)
	ChannelOrderBook Channel = "orderbook" // depth snapshots ("D" frames)
	ChannelTrade     Channel = "trade"     // executed trades ("O" frames)
)

// SymbolAll is the broker's wildcard symbol: one subscription covering every
// instrument on a channel.
const SymbolAll = "ALL"

// Code returns the single-letter frame type the broker uses on the wire.
func (c Channel) Code() string {
	switch c {
	case ChannelTick:
		return "T"
	case ChannelOrderBook:
		return "D"
	case ChannelTrade:
		return "O"
	}
	return ""
}

// ParseChannel maps a wire code or channel name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "T", "TICK":
		return ChannelTick, nil
	case "D", "ORDERBOOK", "DEPTH":
		return ChannelOrderBook, nil
	case "O", "TRADE":
		return ChannelTrade, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Subscription is a (channel, symbol) pair. Identity is the full pair:
// subscribing the same symbol on two channels yields two subscriptions.
type Subscription struct {
	Channel Channel `json:"channel"`
	Symbol  string  `json:"symbol"`
}

// Key returns the cache/registry key for this subscription, e.g. "tick:GARAN".
func (s Subscription) Key() string {
	return string(s.Channel) + ":" + s.Symbol
}

// -----------------------------------------------------------------------------
// Market-Data Types
// -----------------------------------------------------------------------------

// TickDatum is a single price-update event for a symbol. Timestamps are
// monotone per symbol within a session; clock skew from the broker is
// tolerated but not corrected.
type TickDatum struct {
	Symbol     string  `json:"symbol"`      // Instrument code (e.g., "GARAN")
	LastPrice  float64 `json:"last_price"`  // Last traded price
	BidPrice   float64 `json:"bid_price"`   // Best bid, 0 if absent
	AskPrice   float64 `json:"ask_price"`   // Best ask, 0 if absent
	BidSize    float64 `json:"bid_size"`    // Size at best bid, 0 if absent
	AskSize    float64 `json:"ask_size"`    // Size at best ask, 0 if absent
	Volume     float64 `json:"volume"`      // Cumulative session volume, 0 if absent
	Timestamp  int64   `json:"timestamp"`   // Broker timestamp (ms since epoch)
	ReceivedAt int64   `json:"received_at"` // Gateway receive timestamp (ms since epoch)
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price      float64 `json:"price"`       // Level price
	Quantity   float64 `json:"quantity"`    // Aggregate quantity at this price
	OrderCount int     `json:"order_count"` // Number of resting orders, 0 if not provided
}

// OrderBookDatum is a top-N depth snapshot for a symbol.
type OrderBookDatum struct {
	Symbol     string      `json:"symbol"`      // Instrument code
	Bids       []BookLevel `json:"bids"`        // Best-first bid levels
	Asks       []BookLevel `json:"asks"`        // Best-first ask levels
	Timestamp  int64       `json:"timestamp"`   // Broker timestamp (ms since epoch)
	ReceivedAt int64       `json:"received_at"` // Gateway receive timestamp (ms since epoch)
}

// Spread returns bestAsk - bestBid, or 0 when either side is empty.
func (o OrderBookDatum) Spread() float64 {
	if len(o.Bids) == 0 || len(o.Asks) == 0 {
		return 0
	}
	return o.Asks[0].Price - o.Bids[0].Price
}

// MidPrice returns (bestAsk + bestBid) / 2, or 0 when either side is empty.
func (o OrderBookDatum) MidPrice() float64 {
	if len(o.Bids) == 0 || len(o.Asks) == 0 {
		return 0
	}
	return (o.Asks[0].Price + o.Bids[0].Price) / 2
}

// TradeDatum is a single executed trade for a symbol.
type TradeDatum struct {
	Symbol     string  `json:"symbol"`      // Instrument code
	Price      float64 `json:"price"`       // Execution price
	Quantity   float64 `json:"quantity"`    // Executed quantity (lots)
	Side       string  `json:"side"`        // "BUY" or "SELL" as reported by the broker
	Timestamp  int64   `json:"timestamp"`   // Broker timestamp (ms since epoch)
	ReceivedAt int64   `json:"received_at"` // Gateway receive timestamp (ms since epoch)
}

// Candle is one OHLCV bar from the broker's candle endpoint.
type Candle struct {
	Symbol string  `json:"symbol"` // Instrument code
	Open   float64 `json:"open"`   // Bar open
	High   float64 `json:"high"`   // Bar high
	Low    float64 `json:"low"`    // Bar low
	Close  float64 `json:"close"`  // Bar close
	Volume float64 `json:"volume"` // Bar volume
	Time   int64   `json:"time"`   // Bar open time (ms since epoch)
}

// -----------------------------------------------------------------------------
// Session Types
// -----------------------------------------------------------------------------

// Termination reasons recorded when a session is deactivated.
const (
	TerminationLogout     = "LOGOUT"
	TerminationExpired    = "EXPIRED"
	TerminationShutdown   = "SHUTDOWN"
	TerminationValidation = "VALIDATION_FAILED"
	TerminationRefresh    = "REFRESH_UNAUTHORIZED"
	TerminationReplaced   = "REPLACED"
)

// Session is the persisted broker login state. Only one active session per
// brokerage login exists at a time; activating a new one deactivates priors.
type Session struct {
	ID                  uuid.UUID  // Row identity
	Token               string     // Opaque broker token from LoginUser
	Hash                string     // Opaque authorization hash from LoginUserControl
	CreatedAt           time.Time  // When the session was established
	ExpiresAt           time.Time  // Local expiry (createdAt + configured hours)
	LastRefreshAt       *time.Time // Last successful SessionRefresh, nil if never
	WebSocketConnected  bool       // Whether the stream was up at last save
	WebSocketLastConnAt *time.Time // Last successful stream connect, nil if never
	Active              bool       // Exactly one active row per login
	TerminationReason   string     // Why the session was deactivated, "" while active
}

// Expired reports whether the session's local expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
