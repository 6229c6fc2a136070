package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
)

// GetSubAccounts lists the brokerage sub-accounts. The same endpoint doubles
// as the auth service's liveness ping; listing goes through the read class
// so an outage can serve the last-good roster.
func (s *Service) GetSubAccounts(ctx context.Context) ([]SubAccount, error) {
	res, err := s.client.Call(ctx, resilience.ClassRead, rest.EndpointGetSubAccounts, nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "get sub accounts", Message: res.Message}
	}

	var accounts []SubAccount
	if err := json.Unmarshal(res.Content, &accounts); err != nil {
		return nil, fmt.Errorf("decode sub accounts: %w", err)
	}
	return accounts, nil
}

// InstantPosition returns the current holdings for a sub-account. Served
// from the fallback cache (or the dev mock) when the broker is unreachable;
// Result.Cached marks that path upstream.
func (s *Service) InstantPosition(ctx context.Context, subAccount string) ([]Position, error) {
	payload := rest.NewPayload().Set("subAccount", subAccount)

	res, err := s.client.Call(ctx, resilience.ClassRead, rest.EndpointInstantPosition, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "instant position", Message: res.Message}
	}

	var positions []Position
	if err := json.Unmarshal(res.Content, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	if res.Cached {
		s.logger.Info().Int("rows", len(positions)).Msg("positions served from fallback")
	}
	return positions, nil
}

// TodaysTransaction returns today's order activity for a sub-account.
func (s *Service) TodaysTransaction(ctx context.Context, subAccount string) ([]Transaction, error) {
	payload := rest.NewPayload().Set("subAccount", subAccount)

	res, err := s.client.Call(ctx, resilience.ClassRead, rest.EndpointTodaysTransaction, payload)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &RejectedError{Op: "todays transaction", Message: res.Message}
	}

	var txs []Transaction
	if err := json.Unmarshal(res.Content, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}

// PendingOrders filters today's activity down to resting orders.
func (s *Service) PendingOrders(ctx context.Context, subAccount string) ([]Transaction, error) {
	txs, err := s.TodaysTransaction(ctx, subAccount)
	if err != nil {
		return nil, err
	}

	pending := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if strings.EqualFold(strings.TrimSpace(tx.Status), statusWaiting) {
			pending = append(pending, tx)
		}
	}
	return pending, nil
}
