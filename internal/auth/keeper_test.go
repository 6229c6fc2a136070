package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/rest"
)

func TestKeeperRefreshesOnTick(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)
	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	base := caller.callCount()

	tick := make(chan time.Time)
	k := NewKeeper(svc, time.Hour, zerolog.Nop())
	k.tick = tick
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer k.Stop(context.Background())

	for i := 0; i < 3; i++ {
		tick <- time.Now()
	}
	k.Stop(context.Background())

	refreshes := 0
	caller.mu.Lock()
	for _, c := range caller.calls[base:] {
		if c.endpoint == rest.EndpointSessionRefresh {
			refreshes++
		}
	}
	caller.mu.Unlock()
	if refreshes != 3 {
		t.Errorf("refresh calls = %d, want 3", refreshes)
	}
}

func TestKeeperSkipsWhenLoggedOut(t *testing.T) {
	svc, caller, _, _ := newTestService(t)

	tick := make(chan time.Time)
	k := NewKeeper(svc, time.Hour, zerolog.Nop())
	k.tick = tick
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tick <- time.Now()
	k.Stop(context.Background())

	if n := caller.callCount(); n != 0 {
		t.Errorf("logged-out keeper issued %d calls, want 0", n)
	}
}
