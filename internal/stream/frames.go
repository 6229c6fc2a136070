// Package stream maintains the broker's market-data WebSocket: one duplex
// connection with a signed handshake, heartbeat supervision, reconnect with
// exponential backoff, and subscription replay after every reconnect.
package stream

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotConnected     = errors.New("stream not connected")
	ErrAlreadyClosed    = errors.New("stream already closed")
	ErrStaleConnection  = errors.New("stream stale, heartbeats missed")
	ErrNotAuthenticated = errors.New("stream requires an authenticated session")
	ErrNotStarted       = errors.New("stream manager not started")
)

// Command verbs on the outbound control frame.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
)

// Command is an outbound control frame. Channel carries the wire code
// (T, D, O); Symbol is an instrument code or the ALL wildcard.
type Command struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// Frame is an inbound broker message: a channel code plus channel-specific
// content.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// InboundFrame pairs raw frame bytes with the local receive time.
type InboundFrame struct {
	Data       []byte
	ReceivedAt time.Time
}

// tickContent is the content of a "T" frame.
type tickContent struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidSize   float64 `json:"bidsize"`
	AskSize   float64 `json:"asksize"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// bookLevel is one price level inside a "D" frame.
type bookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Orders   int     `json:"orders"`
}

// bookContent is the content of a "D" frame.
type bookContent struct {
	Symbol    string      `json:"symbol"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// tradeContent is the content of an "O" frame.
type tradeContent struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Side      string  `json:"side"`
	Timestamp int64   `json:"timestamp"`
}
