package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
)

// GetEquityInfo returns the reference/quote record for symbol. Lookups
// within quoteTTL of the last fetch are answered from memory so repeated
// quote checks don't drain the shared rate budget.
func (s *Service) GetEquityInfo(ctx context.Context, symbol string) (*EquityInfo, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Value: "", Reason: "symbol is required"}
	}

	s.quoteMu.Lock()
	if entry, ok := s.quotes[symbol]; ok && s.now().Sub(entry.fetched) < quoteTTL {
		s.quoteMu.Unlock()
		return entry.info, nil
	}
	s.quoteMu.Unlock()

	payload := rest.NewPayload().Set("symbol", symbol)
	res, err := s.client.Call(ctx, resilience.ClassRead, rest.EndpointGetEquityInfo, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "get equity info", Message: res.Message}
	}

	var info EquityInfo
	if err := json.Unmarshal(res.Content, &info); err != nil {
		return nil, fmt.Errorf("decode equity info: %w", err)
	}

	// Fallback-served data is already stale; memoizing it would extend its
	// life past the fallback TTL accounting.
	if !res.Cached {
		s.quoteMu.Lock()
		s.quotes[symbol] = quoteEntry{info: &info, fetched: s.now()}
		s.quoteMu.Unlock()
	}
	return &info, nil
}

// GetCandleData returns OHLCV bars for symbol at the given period. Period is
// the broker's token: minutes as digits, "1G" for daily.
func (s *Service) GetCandleData(ctx context.Context, symbol, period string) ([]model.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Value: "", Reason: "symbol is required"}
	}
	if period == "" {
		return nil, &ValidationError{Field: "period", Value: "", Reason: "period is required"}
	}

	payload := rest.NewPayload().
		Set("symbol", symbol).
		Set("period", period)

	res, err := s.client.Call(ctx, resilience.ClassRead, rest.EndpointGetCandleData, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "get candle data", Message: res.Message}
	}

	var rows []struct {
		Date   int64   `json:"date"` // ms since epoch
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(res.Content, &rows); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, model.Candle{
			Symbol: symbol,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Time:   r.Date,
		})
	}
	return candles, nil
}
