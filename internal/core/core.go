// Package core assembles the gateway: configuration in, running process
// out. Build wires the components in dependency order; Start launches the
// run loops; Close tears everything down and marks the persisted session.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/intradayhq/algolab-gateway/internal/auth"
	"github.com/intradayhq/algolab-gateway/internal/broker"
	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
	"github.com/intradayhq/algolab-gateway/internal/session"
	"github.com/intradayhq/algolab-gateway/internal/stream"
	"github.com/intradayhq/algolab-gateway/internal/tickcache"
)

// devPositions is the canned InstantPosition payload served behind
// resilience.fallback.devPositions. Never enabled in production.
var devPositions = []byte(`[{"code":"TRY","totalstock":"100000","cost":"0","unitprice":"1","profit":"0","explanation":"dev fallback","type":"CASH"}]`)

// Core owns every gateway component and their run loops.
type Core struct {
	cfg    config.GatewayConfig
	logger zerolog.Logger

	creds   *crypto.Credentials
	tokens  *auth.TokenHolder
	rest    *rest.Client
	store   session.Store
	auth    *auth.Service
	keeper  *auth.Keeper
	janitor *session.Janitor
	broker  *broker.Service
	stream  *stream.Manager
	cache   *tickcache.Cache

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Build wires the gateway from cfg in dependency order. The session store
// is connected eagerly so a bad backend fails startup; broker and Redis
// connections are made lazily on first use.
func Build(ctx context.Context, cfg config.GatewayConfig, logger zerolog.Logger) (*Core, error) {
	creds, err := crypto.LoadCredentials(cfg.API.Key, cfg.API.Hostname)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	tokens := auth.NewTokenHolder()

	restOpts := []rest.Option{
		rest.WithLogger(logger),
		rest.WithRateLimit(cfg.API.RateLimit),
		rest.WithBreaker(resilience.NewBreaker("broker", breakerSettings(cfg.Resilience.CircuitBreaker), nil)),
		rest.WithRetry(retrySettings(cfg.Resilience.Retry)),
		rest.WithTimeLimit(timeLimitSettings(cfg.Resilience.TimeLimiter)),
		rest.WithFallbackTTL(cfg.Resilience.Fallback.TTL()),
	}
	if cfg.Resilience.Fallback.DevPositions {
		restOpts = append(restOpts, rest.WithMockFallback(rest.EndpointInstantPosition, devPositions))
	}
	restClient := rest.NewClient(cfg.API.URL, creds, tokens, restOpts...)

	store, err := session.NewStore(ctx, cfg.Session, logger)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	authSvc := auth.NewService(creds, restClient, tokens, store,
		auth.WithLogger(logger),
		auth.WithExpiration(cfg.Session.Expiration()),
	)

	c := &Core{
		cfg:     cfg,
		logger:  logger.With().Str("component", "core").Logger(),
		creds:   creds,
		tokens:  tokens,
		rest:    restClient,
		store:   store,
		auth:    authSvc,
		keeper:  auth.NewKeeper(authSvc, cfg.Auth.RefreshInterval(), logger),
		janitor: session.NewJanitor(store, cfg.Session, logger),
		broker:  broker.NewService(restClient, broker.WithLogger(logger)),
		cache:   tickcache.New(cfg.Cache, logger),
	}

	dispatcher := stream.NewDispatcher(stream.Handlers{
		OnTick:      c.onTick,
		OnOrderBook: c.onOrderBook,
		OnTrade:     c.onTrade,
	}, logger)
	c.stream = stream.NewManager(
		stream.ManagerConfigFrom(cfg.API, cfg.WebSocket),
		creds, tokens, authSvc,
		stream.WithLogger(logger),
		stream.WithDispatcher(dispatcher),
	)

	return c, nil
}

// Start launches the run loops: event pumps, session keeper, cleanup
// janitor, and stream supervision. When auto-login is on, the persisted
// session is restored in the background; the authenticated event then
// brings the stream up.
func (c *Core) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	c.group = g

	if c.cfg.WebSocket.StreamEnabled() {
		if err := c.stream.Start(gctx); err != nil {
			cancel()
			return fmt.Errorf("core: %w", err)
		}
	}
	if c.cfg.Auth.KeepAliveEnabled() {
		if err := c.keeper.Start(gctx); err != nil {
			cancel()
			return fmt.Errorf("core: %w", err)
		}
	}
	if c.cfg.Session.AutoCleanupEnabled() {
		if err := c.janitor.Start(); err != nil {
			cancel()
			return fmt.Errorf("core: %w", err)
		}
	}

	g.Go(func() error { c.pumpAuthEvents(gctx); return nil })
	g.Go(func() error { c.pumpStreamEvents(gctx); return nil })

	if c.cfg.Auth.AutoLoginEnabled() {
		g.Go(func() error {
			if !c.auth.Restore(gctx) {
				c.logger.Info().Msg("no session restored, waiting for login")
			}
			return nil
		})
	}

	c.logger.Info().
		Bool("stream", c.cfg.WebSocket.StreamEnabled()).
		Bool("keep_alive", c.cfg.Auth.KeepAliveEnabled()).
		Bool("cache", c.cfg.Cache.Enabled).
		Msg("gateway started")
	return nil
}

// Close shuts the gateway down: stream first so no frames race the cache,
// then the schedulers, then the persisted session is marked SHUTDOWN.
// Redis writes in flight finish on their own client timeouts.
func (c *Core) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.cfg.WebSocket.StreamEnabled() {
		if err := c.stream.Stop(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("stream stop failed")
		}
	}
	if c.cfg.Auth.KeepAliveEnabled() {
		if err := c.keeper.Stop(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("keeper stop failed")
		}
	}
	if c.cfg.Session.AutoCleanupEnabled() {
		c.janitor.Stop(ctx)
	}

	if c.auth.IsAuthenticated() {
		c.auth.Clear(ctx, model.TerminationShutdown)
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
	}

	if err := c.cache.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("cache close failed")
	}
	c.store.Close()
	c.logger.Info().Msg("gateway stopped")
	return nil
}

// pumpAuthEvents reacts to session lifecycle changes. Authentication brings
// the stream up when auto-connect is on; losing the session takes it down.
func (c *Core) pumpAuthEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.auth.Events():
			switch ev.Kind {
			case auth.EventAuthenticated:
				if !c.cfg.WebSocket.StreamEnabled() || !c.cfg.WebSocket.AutoConnectEnabled() {
					continue
				}
				if err := c.stream.Connect(ctx); err != nil {
					c.logger.Warn().Err(err).Msg("stream connect after authentication failed")
				}
			case auth.EventSessionExpired, auth.EventCleared:
				c.stream.Disconnect()
			}
		}
	}
}

// pumpStreamEvents mirrors the stream state onto the persisted session so
// a restore knows whether the stream was up.
func (c *Core) pumpStreamEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.stream.Events():
			switch ev.Kind {
			case stream.EventReconnected:
				c.auth.NoteStreamState(ctx, true)
			case stream.EventDisconnected:
				c.auth.NoteStreamState(ctx, false)
			}
		}
	}
}

// Stream handlers feed the cache. Background contexts here are deliberate:
// the Redis client's own timeouts bound the writes, and a shutdown must not
// cancel an insert mid-pipeline.
func (c *Core) onTick(td model.TickDatum) { c.cache.AddTick(context.Background(), td) }

func (c *Core) onOrderBook(ob model.OrderBookDatum) {
	c.cache.AddOrderBook(context.Background(), ob)
}

func (c *Core) onTrade(tr model.TradeDatum) { c.cache.AddTrade(context.Background(), tr) }

// Health composes component states. DOWN without a session; DEGRADED when
// the stream or the Redis tier lags behind an authenticated session; UP
// otherwise. Disabled components never degrade the verdict.
func (c *Core) Health(ctx context.Context) metrics.Health {
	h := metrics.Health{Components: map[string]any{}}

	authed := c.auth.IsAuthenticated()
	h.Components["auth"] = c.auth.State().String()

	wsEnabled := c.cfg.WebSocket.StreamEnabled()
	connected := c.stream.IsConnected()
	if wsEnabled {
		h.Components["websocket"] = map[string]any{
			"connected":     connected,
			"subscriptions": len(c.stream.Subscriptions()),
		}
	} else {
		h.Components["websocket"] = "disabled"
	}

	redisOK := true
	if c.cache.RedisEnabled() {
		redisOK = c.cache.RedisHealthy(ctx)
		state := "connected"
		if !redisOK {
			state = "disconnected"
		}
		h.Components["cache"] = state
	} else {
		h.Components["cache"] = "disabled"
	}

	switch {
	case !authed:
		h.Status = metrics.StatusDown
	case (wsEnabled && !connected) || (c.cache.RedisEnabled() && !redisOK):
		h.Status = metrics.StatusDegraded
	default:
		h.Status = metrics.StatusUp
	}
	return h
}

func breakerSettings(cfg config.BreakerConfig) resilience.BreakerSettings {
	return resilience.BreakerSettings{
		FailureRateThreshold:  cfg.FailureRateThreshold,
		SlowCallDuration:      cfg.SlowCallDuration(),
		SlowCallRateThreshold: cfg.SlowCallRateThreshold,
		OpenStateWait:         cfg.WaitDurationInOpenState(),
		HalfOpenCalls:         cfg.HalfOpenPermittedCalls,
		MinCalls:              cfg.MinimumNumberOfCalls,
		WindowSize:            cfg.SlidingWindowSize,
	}
}

func retrySettings(cfg config.RetryConfig) resilience.RetrySettings {
	return resilience.RetrySettings{
		MaxAttempts: cfg.MaxAttempts,
		Wait:        cfg.WaitDuration(),
		Exponential: cfg.ExponentialBackoffEnabled(),
		Multiplier:  cfg.BackoffMultiplier,
	}
}

func timeLimitSettings(cfg config.TimeLimiterConfig) resilience.TimeLimitSettings {
	return resilience.TimeLimitSettings{
		Timeout:       cfg.Timeout(),
		CancelRunning: cfg.CancelEnabled(),
	}
}
