package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intradayhq/algolab-gateway/internal/model"
)

type fakeAuth struct{ ok atomic.Bool }

func (f *fakeAuth) IsAuthenticated() bool { return f.ok.Load() }

func newTestManager(t *testing.T, url string) (*Manager, *fakeAuth) {
	t.Helper()
	auth := &fakeAuth{}
	auth.ok.Store(true)
	return NewManager(ManagerConfig{
		URL:               url,
		HeartbeatInterval: time.Second,
		ConnectionTimeout: 2 * time.Second,
		WriteTimeout:      time.Second,
		BufferSize:        100,
		ReconnectEnabled:  true,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		Multiplier:        2,
	}, testCreds(t), &staticTokens{token: "T1", hash: "H1"}, auth), auth
}

// frameRecorder runs a server that forwards every received text frame.
func frameRecorder(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	frames := make(chan string, 32)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	})
	return server, frames
}

func TestSubscribeSendsOneFramePerIntent(t *testing.T) {
	server, frames := frameRecorder(t)
	defer server.Close()

	m, _ := newTestManager(t, wsURL(server))
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := m.Subscribe(model.ChannelTick, "garan"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Same intent modulo case and spacing: no second frame.
	if err := m.Subscribe(model.ChannelTick, " GARAN "); err != nil {
		t.Fatalf("duplicate Subscribe: %v", err)
	}

	select {
	case frame := <-frames:
		want := `{"type":"subscribe","channel":"T","symbol":"GARAN"}`
		if frame != want {
			t.Fatalf("frame = %s, want %s", frame, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no subscribe frame received")
	}

	select {
	case frame := <-frames:
		t.Fatalf("unexpected second frame %s", frame)
	case <-time.After(100 * time.Millisecond):
	}

	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}
}

func TestSubscribeWhileDisconnectedKeepsNoIntent(t *testing.T) {
	m, _ := newTestManager(t, "ws://localhost:1")
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	err := m.Subscribe(model.ChannelTick, "GARAN")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Subscribe error = %v, want ErrNotConnected", err)
	}
	if got := len(m.Subscriptions()); got != 0 {
		t.Fatalf("subscriptions = %d, want 0", got)
	}
}

func TestConnectRequiresAuthentication(t *testing.T) {
	server, _ := frameRecorder(t)
	defer server.Close()

	m, auth := newTestManager(t, wsURL(server))
	auth.ok.Store(false)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Connect(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("Connect error = %v, want ErrNotAuthenticated", err)
	}
	if m.IsConnected() {
		t.Error("IsConnected true after refused connect")
	}
}

func TestConnectRequiresStart(t *testing.T) {
	m, _ := newTestManager(t, "ws://localhost:1")
	if err := m.Connect(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Connect error = %v, want ErrNotStarted", err)
	}
}

func TestUnsubscribeSendsFrameOnce(t *testing.T) {
	server, frames := frameRecorder(t)
	defer server.Close()

	m, _ := newTestManager(t, wsURL(server))
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := m.Subscribe(model.ChannelTrade, "THYAO"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Unsubscribe(model.ChannelTrade, "THYAO"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	// Absent intent: no frame, no error.
	if err := m.Unsubscribe(model.ChannelTrade, "THYAO"); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}

	want := []string{
		`{"type":"subscribe","channel":"O","symbol":"THYAO"}`,
		`{"type":"unsubscribe","channel":"O","symbol":"THYAO"}`,
	}
	for i, w := range want {
		select {
		case frame := <-frames:
			if frame != w {
				t.Fatalf("frame %d = %s, want %s", i, frame, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}

	select {
	case frame := <-frames:
		t.Fatalf("unexpected third frame %s", frame)
	case <-time.After(100 * time.Millisecond):
	}

	if got := len(m.Subscriptions()); got != 0 {
		t.Fatalf("subscriptions = %d, want 0", got)
	}
}

func TestSubscribeAllTracksWildcard(t *testing.T) {
	server, frames := frameRecorder(t)
	defer server.Close()

	m, _ := newTestManager(t, wsURL(server))
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := m.SubscribeAll(model.ChannelTick); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	select {
	case frame := <-frames:
		want := `{"type":"subscribe","channel":"T","symbol":"ALL"}`
		if frame != want {
			t.Fatalf("frame = %s, want %s", frame, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no wildcard frame received")
	}

	if !m.IsSubscribedToAll(model.ChannelTick) {
		t.Error("IsSubscribedToAll(tick) = false")
	}
	if m.IsSubscribedToAll(model.ChannelTrade) {
		t.Error("IsSubscribedToAll(trade) = true")
	}
	// The wildcard is one registry entry, not a per-symbol expansion.
	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	var connCount atomic.Int32
	replayed := make(chan string, 32)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if connCount.Add(1) == 1 {
			// Drain the initial subscribes, then drop the connection hard.
			for i := 0; i < 3; i++ {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			replayed <- string(data)
		}
	}))
	defer server.Close()

	m, _ := newTestManager(t, wsURL(server))
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for _, sub := range []struct {
		ch  model.Channel
		sym string
	}{
		{model.ChannelTick, "GARAN"},
		{model.ChannelTick, "THYAO"},
		{model.ChannelOrderBook, "GARAN"},
	} {
		if err := m.Subscribe(sub.ch, sub.sym); err != nil {
			t.Fatalf("Subscribe %s %s: %v", sub.ch, sub.sym, err)
		}
	}

	// The server kills the first connection after the third subscribe; the
	// manager reconnects and replays the whole set.
	got := map[string]bool{}
	timeout := time.After(3 * time.Second)
	for len(got) < 3 {
		select {
		case frame := <-replayed:
			got[frame] = true
		case <-timeout:
			t.Fatalf("timed out, replayed %d of 3: %v", len(got), got)
		}
	}

	for _, want := range []string{
		`{"type":"subscribe","channel":"T","symbol":"GARAN"}`,
		`{"type":"subscribe","channel":"T","symbol":"THYAO"}`,
		`{"type":"subscribe","channel":"D","symbol":"GARAN"}`,
	} {
		if !got[want] {
			t.Errorf("replay missing %s", want)
		}
	}

	// Replay failures would have kept the intents too; success must not
	// change the set either.
	if got := len(m.Subscriptions()); got != 3 {
		t.Errorf("subscriptions = %d, want 3", got)
	}

	var reconnects, disconnects int
drain:
	for {
		select {
		case ev := <-m.Events():
			switch ev.Kind {
			case EventReconnected:
				reconnects++
			case EventDisconnected:
				disconnects++
			}
		default:
			break drain
		}
	}
	if reconnects < 2 {
		t.Errorf("reconnected events = %d, want at least 2", reconnects)
	}
	if disconnects < 1 {
		t.Errorf("disconnected events = %d, want at least 1", disconnects)
	}
}
