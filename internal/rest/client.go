package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/resilience"
)

// Broker endpoints. Paths are broker-defined; treat as opaque identifiers.
const (
	EndpointLoginUser         = "/api/LoginUser"
	EndpointLoginUserControl  = "/api/LoginUserControl"
	EndpointSessionRefresh    = "/api/SessionRefresh"
	EndpointGetSubAccounts    = "/api/GetSubAccounts"
	EndpointSendOrder         = "/api/SendOrder"
	EndpointModifyOrder       = "/api/ModifyOrder"
	EndpointDeleteOrder       = "/api/DeleteOrder"
	EndpointInstantPosition   = "/api/InstantPosition"
	EndpointTodaysTransaction = "/api/TodaysTransaction"
	EndpointGetEquityInfo     = "/api/GetEquityInfo"
	EndpointGetCandleData     = "/api/GetCandleData"
)

// TokenReader provides the live session pair. Written only by the
// authentication service; read fresh on every attempt so a retry never
// reuses a stale hash.
type TokenReader interface {
	Token() string
	Hash() string
}

// Envelope is the broker's response shape on every endpoint.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

// Result is a completed call. Cached marks responses served from the
// fallback cache (or a dev mock) rather than the upstream.
type Result struct {
	Success bool
	Message string
	Content json.RawMessage
	Cached  bool
}

// DecodeError reports a 2xx response whose body did not match the envelope.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("broker api %s returned an unexpected body: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client issues signed POST requests to the broker through the resilience
// envelope: rate limit, circuit breaker, retry, time limit, call.
type Client struct {
	baseURL    string
	creds      *crypto.Credentials
	tokens     TokenReader
	httpClient *http.Client
	logger     zerolog.Logger

	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	retry     resilience.RetrySettings
	timeLimit resilience.TimeLimitSettings
	fallback  *fallbackCache
	mocks     map[string][]byte

	now   func() time.Time
	sleep resilience.Sleeper
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "rest").Logger() }
}

// WithRateLimit sets the permit rate in calls per second.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry sets the retry policy for retryable endpoint classes.
func WithRetry(s resilience.RetrySettings) Option {
	return func(c *Client) { c.retry = s }
}

// WithTimeLimit sets the per-call cap.
func WithTimeLimit(s resilience.TimeLimitSettings) Option {
	return func(c *Client) { c.timeLimit = s }
}

// WithFallbackTTL sets the last-good response freshness window.
func WithFallbackTTL(ttl time.Duration) Option {
	return func(c *Client) { c.fallback = newFallbackCache(ttl, c.now) }
}

// WithMockFallback registers a canned content payload served when endpoint
// falls back with nothing cached. Dev deployments only.
func WithMockFallback(endpoint string, content []byte) Option {
	return func(c *Client) { c.mocks[endpoint] = content }
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
		c.fallback.now = now
	}
}

// WithSleeper injects the retry sleeper for tests.
func WithSleeper(s resilience.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient builds a broker REST client. Defaults mirror the broker
// contract: 0.2 permits/s, 3 attempts at 2s doubling, 10s per-call cap,
// 5 minute fallback TTL.
func NewClient(baseURL string, creds *crypto.Credentials, tokens TokenReader, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		creds:      creds,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
		limiter:    rate.NewLimiter(rate.Limit(0.2), 1),
		breaker: resilience.NewBreaker("broker", resilience.BreakerSettings{
			FailureRateThreshold:  50,
			SlowCallDuration:      5 * time.Second,
			SlowCallRateThreshold: 100,
			OpenStateWait:         60 * time.Second,
			HalfOpenCalls:         10,
			MinCalls:              5,
			WindowSize:            100,
		}, nil),
		retry:     resilience.RetrySettings{MaxAttempts: 3, Wait: 2 * time.Second, Exponential: true, Multiplier: 2},
		timeLimit: resilience.TimeLimitSettings{Timeout: 10 * time.Second, CancelRunning: true},
		mocks:     make(map[string][]byte),
		now:       time.Now,
	}
	c.fallback = newFallbackCache(5*time.Minute, c.now)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker returns the client's circuit breaker for operator controls.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Stats is an observability snapshot of the resilience envelope.
type Stats struct {
	Breaker  resilience.BreakerStats
	Fallback FallbackStats
}

// Stats returns current envelope counters.
func (c *Client) Stats() Stats {
	return Stats{
		Breaker:  c.breaker.Snapshot(),
		Fallback: c.fallback.Stats(),
	}
}

// Call posts payload to endpoint under the policy of class. payload may be
// nil for endpoints that take no body; the Checker then covers the empty
// string. On envelope rejection (circuit, exhausted retries) the class's
// fallback decides the outcome.
func (c *Client) Call(ctx context.Context, class resilience.Class, endpoint string, payload *Payload) (*Result, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", endpoint, err)
		}
		body = b
	}

	if err := c.acquirePermit(ctx); err != nil {
		return nil, err
	}

	done, rejected := c.breaker.Allow()
	if rejected != nil {
		c.logger.Warn().Str("endpoint", endpoint).Str("class", class.String()).Msg("circuit rejected call")
		metrics.ObserveRequest(endpoint, class.String(), "rejected", 0)
		return c.serveFallback(class, endpoint, rejected)
	}

	start := c.now()
	res, err := c.callWithRetry(ctx, class, endpoint, body)
	elapsed := c.now().Sub(start)
	done(err, elapsed)
	metrics.BreakerState.Set(float64(c.breaker.State()))

	if err != nil {
		metrics.ObserveRequest(endpoint, class.String(), outcomeOf(err), elapsed)
		c.logger.Warn().Str("endpoint", endpoint).Err(err).Msg("broker call failed")
		// A 4xx is a definitive upstream answer, not an outage; it is never
		// masked by the fallback handler.
		var ae *APIError
		if errors.As(err, &ae) && !ae.IsRetryable() {
			return nil, err
		}
		return c.serveFallback(class, endpoint, err)
	}

	metrics.ObserveRequest(endpoint, class.String(), "success", elapsed)
	return res, nil
}

// acquirePermit blocks for a rate-limit permit, bounded by the per-call cap.
func (c *Client) acquirePermit(ctx context.Context) error {
	wctx := ctx
	if c.timeLimit.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.timeLimit.Timeout)
		defer cancel()
	}
	start := c.now()
	if err := c.limiter.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return resilience.ErrRateLimitExceeded
	}
	metrics.RateLimitWait.Observe(c.now().Sub(start).Seconds())
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, class resilience.Class, endpoint string, body []byte) (*Result, error) {
	var res *Result
	attempt := 0

	retryable := func(err error) bool {
		return class.AllowsRetry() && Retryable(err)
	}

	err := resilience.Retry(ctx, c.retry, c.sleep, retryable, func() error {
		attempt++
		if attempt > 1 {
			metrics.RESTRetries.WithLabelValues(endpoint).Inc()
			c.logger.Debug().Str("endpoint", endpoint).Int("attempt", attempt).Msg("retrying broker call")
		}
		return resilience.TimeLimit(ctx, c.timeLimit, nil, func(tctx context.Context) error {
			r, err := c.post(tctx, endpoint, body)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// post performs one signed POST attempt and parses the envelope.
func (c *Client) post(ctx context.Context, endpoint string, body []byte) (*Result, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")
	hash := ""
	if c.tokens != nil {
		hash = c.tokens.Hash()
	}
	for k, v := range c.creds.SignRequest(endpoint, body, hash) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: raw}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}

	if env.Success {
		c.fallback.Store(endpoint, raw)
	}

	return &Result{Success: env.Success, Message: env.Message, Content: env.Content}, nil
}

// serveFallback resolves a refused or failed call per endpoint class.
// Reads may be satisfied from the last-good cache; order placement always
// surfaces the explicit not-placed verdict; auth errors pass through.
func (c *Client) serveFallback(class resilience.Class, endpoint string, cause error) (*Result, error) {
	switch class {
	case resilience.ClassAuth:
		return nil, cause

	case resilience.ClassOrder:
		metrics.FallbackServed.WithLabelValues(endpoint, "order_refused").Inc()
		return nil, ErrOrderNotPlaced

	case resilience.ClassWrite:
		metrics.FallbackServed.WithLabelValues(endpoint, "refused").Inc()
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, cause)
	}

	// ClassRead: last-good body within TTL, then dev mock, then unavailable.
	if raw, ok := c.fallback.Load(endpoint); ok {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err == nil {
			metrics.FallbackServed.WithLabelValues(endpoint, "cached").Inc()
			c.logger.Info().Str("endpoint", endpoint).Msg("serving cached response")
			return &Result{Success: env.Success, Message: env.Message, Content: env.Content, Cached: true}, nil
		}
	}
	if mock, ok := c.mocks[endpoint]; ok {
		metrics.FallbackServed.WithLabelValues(endpoint, "mock").Inc()
		return &Result{Success: true, Message: "mock fallback", Content: mock, Cached: true}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, cause)
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, resilience.ErrCallTimeout) {
		return "timeout"
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return "api_error"
	}
	return "transport"
}
