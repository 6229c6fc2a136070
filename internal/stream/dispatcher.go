package stream

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// Handlers receive decoded market data. A nil handler drops its frames.
type Handlers struct {
	OnTick      func(model.TickDatum)
	OnOrderBook func(model.OrderBookDatum)
	OnTrade     func(model.TradeDatum)
}

// Dispatcher classifies inbound frames by channel code and decodes them into
// model types. Undecodable frames are counted and dropped; the stream must
// survive whatever the broker sends.
type Dispatcher struct {
	handlers Handlers
	logger   zerolog.Logger
}

// NewDispatcher builds a dispatcher over the given handlers.
func NewDispatcher(handlers Handlers, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Dispatch decodes one inbound frame and invokes the matching handler.
func (d *Dispatcher) Dispatch(in InboundFrame) {
	var frame Frame
	if err := json.Unmarshal(in.Data, &frame); err != nil {
		metrics.StreamParseErrors.Inc()
		d.logger.Debug().Err(err).Msg("undecodable frame")
		return
	}

	receivedAt := in.ReceivedAt.UnixMilli()

	switch frame.Type {
	case "T":
		metrics.StreamFrames.WithLabelValues(string(model.ChannelTick)).Inc()
		var c tickContent
		if err := json.Unmarshal(frame.Content, &c); err != nil || c.Symbol == "" {
			metrics.StreamParseErrors.Inc()
			d.logger.Debug().Err(err).Msg("bad tick content")
			return
		}
		if d.handlers.OnTick != nil {
			d.handlers.OnTick(model.TickDatum{
				Symbol:     c.Symbol,
				LastPrice:  c.Price,
				BidPrice:   c.Bid,
				AskPrice:   c.Ask,
				BidSize:    c.BidSize,
				AskSize:    c.AskSize,
				Volume:     c.Volume,
				Timestamp:  c.Timestamp,
				ReceivedAt: receivedAt,
			})
		}

	case "D":
		metrics.StreamFrames.WithLabelValues(string(model.ChannelOrderBook)).Inc()
		var c bookContent
		if err := json.Unmarshal(frame.Content, &c); err != nil || c.Symbol == "" {
			metrics.StreamParseErrors.Inc()
			d.logger.Debug().Err(err).Msg("bad orderbook content")
			return
		}
		if d.handlers.OnOrderBook != nil {
			d.handlers.OnOrderBook(model.OrderBookDatum{
				Symbol:     c.Symbol,
				Bids:       bookLevels(c.Bids),
				Asks:       bookLevels(c.Asks),
				Timestamp:  c.Timestamp,
				ReceivedAt: receivedAt,
			})
		}

	case "O":
		metrics.StreamFrames.WithLabelValues(string(model.ChannelTrade)).Inc()
		var c tradeContent
		if err := json.Unmarshal(frame.Content, &c); err != nil || c.Symbol == "" {
			metrics.StreamParseErrors.Inc()
			d.logger.Debug().Err(err).Msg("bad trade content")
			return
		}
		if d.handlers.OnTrade != nil {
			d.handlers.OnTrade(model.TradeDatum{
				Symbol:     c.Symbol,
				Price:      c.Price,
				Quantity:   c.Quantity,
				Side:       c.Side,
				Timestamp:  c.Timestamp,
				ReceivedAt: receivedAt,
			})
		}

	default:
		metrics.StreamFrames.WithLabelValues("unknown").Inc()
		d.logger.Debug().Str("type", frame.Type).Msg("unknown frame type")
	}
}

func bookLevels(in []bookLevel) []model.BookLevel {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.BookLevel, len(in))
	for i, lvl := range in {
		out[i] = model.BookLevel{Price: lvl.Price, Quantity: lvl.Quantity, OrderCount: lvl.Orders}
	}
	return out
}
