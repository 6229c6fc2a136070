package broker

import (
	"context"
	"testing"
	"time"

	"github.com/intradayhq/algolab-gateway/internal/rest"
)

func TestPendingOrdersFilter(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(rest.EndpointTodaysTransaction, true, "", `[
		{"atpref":"R1","ticker":"GARAN","equityStatusDescription":"WAITING"},
		{"atpref":"R2","ticker":"AKBNK","equityStatusDescription":"DONE"},
		{"atpref":"R3","ticker":"THYAO","equityStatusDescription":"waiting"},
		{"atpref":"R4","ticker":"SISE","equityStatusDescription":" WAITING "},
		{"atpref":"R5","ticker":"EREGL","equityStatusDescription":"DELETED"}
	]`)
	svc := NewService(caller)

	pending, err := svc.PendingOrders(context.Background(), "")
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d rows, want 3", len(pending))
	}
	for _, tx := range pending {
		if tx.OrderRef == "R2" || tx.OrderRef == "R5" {
			t.Errorf("non-waiting order %s in pending set", tx.OrderRef)
		}
	}
}

func TestInstantPositionDecodes(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(rest.EndpointInstantPosition, true, "", `[
		{"code":"GARAN","totalstock":"100","cost":"40.00","unitprice":"45.50","profit":"550.00"}
	]`)
	svc := NewService(caller)

	positions, err := svc.InstantPosition(context.Background(), "100")
	if err != nil {
		t.Fatalf("InstantPosition: %v", err)
	}
	if len(positions) != 1 || positions[0].Code != "GARAN" || positions[0].TotalStock != "100" {
		t.Errorf("positions = %+v", positions)
	}

	if got := caller.lastCall(t).body; got != `{"subAccount":"100"}` {
		t.Errorf("body = %s, want subAccount payload", got)
	}
}

func TestGetSubAccountsDecodes(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(rest.EndpointGetSubAccounts, true, "", `[
		{"number":"100","tradeLimit":"5000.00"},
		{"number":"101","tradeLimit":"0.00"}
	]`)
	svc := NewService(caller)

	accounts, err := svc.GetSubAccounts(context.Background())
	if err != nil {
		t.Fatalf("GetSubAccounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Number != "100" {
		t.Errorf("accounts = %+v", accounts)
	}
}

func TestGetEquityInfoMemoizes(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(rest.EndpointGetEquityInfo, true, "", `{"name":"GARAN","bid":"45.40","ask":"45.50","lst":"45.44"}`)

	now := time.Now()
	svc := NewService(caller, WithClock(func() time.Time { return now }))

	first, err := svc.GetEquityInfo(context.Background(), "garan ")
	if err != nil {
		t.Fatalf("GetEquityInfo: %v", err)
	}
	if first.Symbol != "GARAN" || first.Last != "45.44" {
		t.Errorf("info = %+v", first)
	}

	// Second lookup inside the quote window stays off the wire.
	if _, err := svc.GetEquityInfo(context.Background(), "GARAN"); err != nil {
		t.Fatalf("second GetEquityInfo: %v", err)
	}
	if caller.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (memoized)", caller.callCount())
	}

	now = now.Add(quoteTTL + time.Second)
	if _, err := svc.GetEquityInfo(context.Background(), "GARAN"); err != nil {
		t.Fatalf("third GetEquityInfo: %v", err)
	}
	if caller.callCount() != 2 {
		t.Errorf("calls = %d, want 2 after the window lapsed", caller.callCount())
	}
}

func TestGetEquityInfoSkipsMemoizingFallback(t *testing.T) {
	caller := newFakeCaller()
	caller.responses[rest.EndpointGetEquityInfo] = &rest.Result{
		Success: true,
		Content: []byte(`{"name":"GARAN","lst":"45.44"}`),
		Cached:  true,
	}
	svc := NewService(caller)

	if _, err := svc.GetEquityInfo(context.Background(), "GARAN"); err != nil {
		t.Fatalf("GetEquityInfo: %v", err)
	}
	if _, err := svc.GetEquityInfo(context.Background(), "GARAN"); err != nil {
		t.Fatalf("second GetEquityInfo: %v", err)
	}
	if caller.callCount() != 2 {
		t.Errorf("calls = %d, want 2 (fallback data never memoized)", caller.callCount())
	}
}

func TestGetCandleDataMapsRows(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(rest.EndpointGetCandleData, true, "", `[
		{"date":1717320600000,"open":45.10,"high":45.60,"low":45.00,"close":45.44,"volume":120000},
		{"date":1717320660000,"open":45.44,"high":45.50,"low":45.30,"close":45.36,"volume":80000}
	]`)
	svc := NewService(caller)

	candles, err := svc.GetCandleData(context.Background(), "GARAN", "1")
	if err != nil {
		t.Fatalf("GetCandleData: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if candles[0].Symbol != "GARAN" || candles[0].Time != 1717320600000 || candles[0].Close != 45.44 {
		t.Errorf("first candle = %+v", candles[0])
	}

	if got := caller.lastCall(t).body; got != `{"symbol":"GARAN","period":"1"}` {
		t.Errorf("body = %s", got)
	}

	if _, err := svc.GetCandleData(context.Background(), "GARAN", ""); err == nil {
		t.Error("accepted empty period")
	}
}
