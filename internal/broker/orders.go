package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
)

// SendOrder submits a new order. The payload key order is part of the
// signing contract and never changes:
// symbol, direction, pricetype, price, lot, sms, email, subAccount.
// Order calls are never retried; a refused call surfaces the explicit
// not-placed verdict rather than a silent outcome.
func (s *Service) SendOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error) {
	direction, err := NormalizeDirection(req.Direction)
	if err != nil {
		return nil, err
	}
	if err := validateOrderFields(req); err != nil {
		return nil, err
	}

	price := req.Price
	if req.PriceType == PriceTypeMarket {
		price = ""
	}

	payload := rest.NewPayload().
		Set("symbol", strings.TrimSpace(req.Symbol)).
		Set("direction", string(direction)).
		Set("pricetype", string(req.PriceType)).
		Set("price", price).
		Set("lot", req.Lot).
		Set("sms", req.SMS).
		Set("email", req.Email).
		Set("subAccount", req.SubAccount)

	res, err := s.client.Call(ctx, resilience.ClassOrder, rest.EndpointSendOrder, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "send order", Message: res.Message}
	}

	receipt := decodeReceipt(res)
	s.logger.Info().
		Str("symbol", req.Symbol).
		Str("direction", string(direction)).
		Str("reference", receipt.Reference).
		Msg("order placed")
	return receipt, nil
}

// ModifyOrder changes a resting order's price and/or lot.
func (s *Service) ModifyOrder(ctx context.Context, req ModifyRequest) (*OrderReceipt, error) {
	if req.OrderID == "" {
		return nil, &ValidationError{Field: "id", Value: "", Reason: "order id is required"}
	}
	if req.Price == "" && req.Lot == "" {
		return nil, &ValidationError{Field: "price", Value: "", Reason: "modify needs a new price or lot"}
	}
	if req.Price != "" {
		if err := validateDecimal("price", req.Price); err != nil {
			return nil, err
		}
	}
	if req.Lot != "" {
		if err := validateLot(req.Lot); err != nil {
			return nil, err
		}
	}

	payload := rest.NewPayload().
		Set("id", req.OrderID).
		Set("price", req.Price).
		Set("lot", req.Lot).
		Set("viop", req.Viop).
		Set("subAccount", req.SubAccount)

	res, err := s.client.Call(ctx, resilience.ClassOrder, rest.EndpointModifyOrder, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "modify order", Message: res.Message}
	}

	receipt := decodeReceipt(res)
	s.logger.Info().Str("order_id", req.OrderID).Msg("order modified")
	return receipt, nil
}

// DeleteOrder cancels a resting order.
func (s *Service) DeleteOrder(ctx context.Context, req DeleteRequest) error {
	if req.OrderID == "" {
		return &ValidationError{Field: "id", Value: "", Reason: "order id is required"}
	}

	payload := rest.NewPayload().
		Set("id", req.OrderID).
		Set("subAccount", req.SubAccount)

	res, err := s.client.Call(ctx, resilience.ClassOrder, rest.EndpointDeleteOrder, payload)
	if err != nil {
		return err
	}
	if !res.Success {
		return &RejectedError{Op: "delete order", Message: res.Message}
	}

	s.logger.Info().Str("order_id", req.OrderID).Msg("order cancelled")
	return nil
}

func validateOrderFields(req OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return &ValidationError{Field: "symbol", Value: req.Symbol, Reason: "symbol is required"}
	}
	switch req.PriceType {
	case PriceTypeLimit:
		if req.Price == "" {
			return &ValidationError{Field: "price", Value: "", Reason: "limit orders need a price"}
		}
		if err := validateDecimal("price", req.Price); err != nil {
			return err
		}
	case PriceTypeMarket:
		// Market orders carry an empty price.
	default:
		return &ValidationError{Field: "pricetype", Value: string(req.PriceType), Reason: "must be limit or piyasa"}
	}
	return validateLot(req.Lot)
}

// validateDecimal checks the text parses as a positive decimal. The original
// text is what gets signed and sent; it is never reformatted.
func validateDecimal(field, text string) error {
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v <= 0 {
		return &ValidationError{Field: field, Value: text, Reason: "must be a positive decimal"}
	}
	return nil
}

func validateLot(text string) error {
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return &ValidationError{Field: "lot", Value: text, Reason: "must be a positive integer"}
	}
	return nil
}

// decodeReceipt extracts the broker order reference. The broker answers with
// either a bare string or an object carrying the reference.
func decodeReceipt(res *rest.Result) *OrderReceipt {
	receipt := &OrderReceipt{Message: res.Message}
	var ref string
	if err := json.Unmarshal(res.Content, &ref); err == nil {
		receipt.Reference = ref
		return receipt
	}
	var obj struct {
		Reference string `json:"atpref"`
	}
	if err := json.Unmarshal(res.Content, &obj); err == nil {
		receipt.Reference = obj.Reference
	}
	return receipt
}
