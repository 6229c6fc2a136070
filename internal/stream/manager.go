package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// EventKind tags stream lifecycle notifications.
type EventKind string

const (
	// EventReconnected fires on every successful connect, first or not.
	EventReconnected EventKind = "reconnected"
	// EventDisconnected fires when the transport drops or goes stale.
	EventDisconnected EventKind = "disconnected"
)

// Event is one stream lifecycle notification.
type Event struct {
	Kind EventKind
	Err  error
}

// Authenticator gates connection attempts: the handshake needs a hash the
// broker still accepts.
type Authenticator interface {
	IsAuthenticated() bool
}

// ManagerConfig configures the stream manager.
type ManagerConfig struct {
	URL               string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	WriteTimeout      time.Duration
	BufferSize        int

	ReconnectEnabled bool
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	MaxAttempts      int // 0 = unlimited
}

func (c *ManagerConfig) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
}

// ManagerConfigFrom maps gateway configuration onto a ManagerConfig.
func ManagerConfigFrom(api config.APIConfig, ws config.WebSocketConfig) ManagerConfig {
	return ManagerConfig{
		URL:               api.WebSocketURL,
		HeartbeatInterval: ws.HeartbeatInterval(),
		ConnectionTimeout: ws.ConnectionTimeout(),
		ReconnectEnabled:  ws.Reconnect.ReconnectEnabled(),
		InitialDelay:      ws.Reconnect.InitialDelay(),
		MaxDelay:          ws.Reconnect.MaxDelay(),
		Multiplier:        ws.Reconnect.Multiplier,
		MaxAttempts:       ws.Reconnect.MaxAttempts,
	}
}

// Manager owns the stream lifecycle: it connects only while a session is
// installed, supervises the live connection, reconnects with exponential
// backoff, and replays the subscription set after every reconnect.
type Manager struct {
	cfg      ManagerConfig
	creds    *crypto.Credentials
	tokens   TokenReader
	auth     Authenticator
	registry *Registry
	dispatch *Dispatcher
	logger   zerolog.Logger

	mu      sync.Mutex
	client  *Client
	started bool
	closed  bool

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger.With().Str("component", "stream").Logger() }
}

// WithDispatcher replaces the frame dispatcher.
func WithDispatcher(d *Dispatcher) ManagerOption {
	return func(m *Manager) { m.dispatch = d }
}

// NewManager wires the stream manager. tokens and auth come from the
// authentication service; handlers are registered on the dispatcher.
func NewManager(cfg ManagerConfig, creds *crypto.Credentials, tokens TokenReader, auth Authenticator, opts ...ManagerOption) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		creds:    creds,
		tokens:   tokens,
		auth:     auth,
		registry: NewRegistry(),
		logger:   zerolog.Nop(),
		events:   make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatch == nil {
		m.dispatch = NewDispatcher(Handlers{}, m.logger)
	}
	return m
}

// Start arms the supervision context. It does not connect; connects are
// event-driven (authentication completed) or explicit.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAlreadyClosed
	}
	if m.started {
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	return nil
}

// Stop closes the connection, cancels pending reconnects, and waits for the
// supervision goroutines bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	client := m.client
	m.client = nil
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn().Msg("stream shutdown timeout")
	}

	metrics.SetStreamConnected(false)
	m.logger.Info().Msg("stream stopped")
	return nil
}

// Events returns the lifecycle notification channel. Publishes never block;
// an undrained channel drops events.
func (m *Manager) Events() <-chan Event { return m.events }

// IsConnected reports whether a live connection is installed.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	return client != nil && client.IsConnected()
}

// Connect dials the broker and hands the connection to the supervisor.
// Requires an authenticated session; already connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.client != nil && m.client.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !m.auth.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	client := NewClient(ClientConfig{
		URL:               m.cfg.URL,
		HeartbeatInterval: m.cfg.HeartbeatInterval,
		ConnectionTimeout: m.cfg.ConnectionTimeout,
		WriteTimeout:      m.cfg.WriteTimeout,
		BufferSize:        m.cfg.BufferSize,
	}, m.creds, m.tokens, m.logger)

	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return ErrAlreadyClosed
	}
	old := m.client
	m.client = client
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	metrics.SetStreamConnected(true)
	m.logger.Info().Msg("stream connected")

	m.wg.Add(1)
	go m.watch(client)

	m.publish(Event{Kind: EventReconnected})
	m.replay(client)
	return nil
}

// Disconnect closes the connection without tearing the manager down. The
// next Connect re-establishes it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	metrics.SetStreamConnected(false)
}

// Subscribe adds a (channel, symbol) intent and sends the subscribe frame.
// Duplicates are a no-op. A send failure removes the intent and surfaces
// the error.
func (m *Manager) Subscribe(channel model.Channel, symbol string) error {
	sym := normalizeSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("subscribe %s: symbol is required", channel)
	}
	sub := model.Subscription{Channel: channel, Symbol: sym}
	if !m.registry.Add(sub) {
		return nil
	}
	if err := m.send(cmdSubscribe, sub); err != nil {
		m.registry.Remove(sub)
		return fmt.Errorf("subscribe %s: %w", sub.Key(), err)
	}
	m.logger.Debug().Str("subscription", sub.Key()).Msg("subscribed")
	return nil
}

// SubscribeAll subscribes the wildcard symbol: one server-side subscription
// covering every instrument on the channel.
func (m *Manager) SubscribeAll(channel model.Channel) error {
	return m.Subscribe(channel, model.SymbolAll)
}

// Unsubscribe removes a (channel, symbol) intent and sends the unsubscribe
// frame. Absent intents are a no-op.
func (m *Manager) Unsubscribe(channel model.Channel, symbol string) error {
	sub := model.Subscription{Channel: channel, Symbol: normalizeSymbol(symbol)}
	if !m.registry.Remove(sub) {
		return nil
	}
	if err := m.send(cmdUnsubscribe, sub); err != nil {
		m.logger.Warn().Str("subscription", sub.Key()).Err(err).Msg("unsubscribe frame failed")
		return fmt.Errorf("unsubscribe %s: %w", sub.Key(), err)
	}
	m.logger.Debug().Str("subscription", sub.Key()).Msg("unsubscribed")
	return nil
}

// IsSubscribedToAll reports whether the channel carries the wildcard
// subscription.
func (m *Manager) IsSubscribedToAll(channel model.Channel) bool {
	return m.registry.Contains(model.Subscription{Channel: channel, Symbol: model.SymbolAll})
}

// Subscriptions returns the active set sorted by key.
func (m *Manager) Subscriptions() []model.Subscription {
	return m.registry.Snapshot()
}

func (m *Manager) send(verb string, sub model.Subscription) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(Command{Type: verb, Channel: sub.Channel.Code(), Symbol: sub.Symbol})
	if err != nil {
		return err
	}
	return client.Send(data)
}

// watch routes frames to the dispatcher until the connection dies.
func (m *Manager) watch(client *Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-client.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn().Err(err).Msg("stream transport error")
			m.handleDisconnect(client, err)
			return

		case frame, ok := <-client.Messages():
			if !ok {
				return
			}
			m.dispatch.Dispatch(frame)
		}
	}
}

// handleDisconnect tears down the dead connection and, when enabled, starts
// the reconnect loop.
func (m *Manager) handleDisconnect(client *Client, cause error) {
	client.Close()

	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()

	metrics.SetStreamConnected(false)
	m.publish(Event{Kind: EventDisconnected, Err: cause})

	if !m.cfg.ReconnectEnabled {
		m.logger.Info().Msg("reconnect disabled, stream stays down")
		return
	}

	m.wg.Add(1)
	go m.reconnect()
}

// reconnect retries with exponential backoff until connected, the attempt
// budget is spent, or the manager stops. Losing the session abandons the
// loop; the next authentication event connects fresh.
func (m *Manager) reconnect() {
	defer m.wg.Done()

	wait := m.cfg.InitialDelay
	attempt := 0

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}

		attempt++
		if m.cfg.MaxAttempts > 0 && attempt > m.cfg.MaxAttempts {
			m.logger.Error().Int("attempts", attempt-1).Msg("reconnect budget exhausted")
			return
		}

		if !m.auth.IsAuthenticated() {
			m.logger.Info().Msg("reconnect abandoned, no session")
			return
		}

		metrics.StreamReconnects.Inc()
		m.logger.Info().Int("attempt", attempt).Msg("reconnecting stream")

		if err := m.Connect(m.ctx); err != nil {
			wait = time.Duration(float64(wait) * m.cfg.Multiplier)
			if wait > m.cfg.MaxDelay {
				wait = m.cfg.MaxDelay
			}
			m.logger.Warn().Err(err).Dur("next_wait", wait).Msg("reconnect failed")
			continue
		}
		return
	}
}

// replay re-sends every active subscription on a fresh connection. Failures
// keep the intent; the next reconnect tries again.
func (m *Manager) replay(client *Client) {
	subs := m.registry.Snapshot()
	if len(subs) == 0 {
		return
	}

	replayed, failed := 0, 0
	for _, sub := range subs {
		data, err := json.Marshal(Command{Type: cmdSubscribe, Channel: sub.Channel.Code(), Symbol: sub.Symbol})
		if err == nil {
			err = client.Send(data)
		}
		if err != nil {
			failed++
			metrics.SubscriptionReplays.WithLabelValues("failure").Inc()
			m.logger.Warn().Str("subscription", sub.Key()).Err(err).Msg("replay failed")
			continue
		}
		replayed++
		metrics.SubscriptionReplays.WithLabelValues("success").Inc()
	}
	m.logger.Info().Int("replayed", replayed).Int("failed", failed).Msg("subscriptions replayed")
}

// publish is non-blocking; a full channel drops the event.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Str("kind", string(ev.Kind)).Msg("stream event dropped, channel full")
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
