// Package broker exposes the brokerage operations the platform consumes:
// order placement and management, account queries, and reference data. Every
// operation builds its payload through one canonical insertion-ordered
// builder so the signed body is identical across call sites.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
)

// Caller is the slice of the REST client the broker service uses.
type Caller interface {
	Call(ctx context.Context, class resilience.Class, endpoint string, payload *rest.Payload) (*rest.Result, error)
}

// quoteTTL bounds how long a quote lookup is answered from memory. One rate
// permit is five seconds; collapsing repeat lookups inside that window keeps
// permits for calls that need the wire.
const quoteTTL = 5 * time.Second

type quoteEntry struct {
	info    *EquityInfo
	fetched time.Time
}

// Service issues brokerage operations through the resilient REST client.
type Service struct {
	client Caller
	logger zerolog.Logger
	now    func() time.Time

	quoteMu sync.Mutex
	quotes  map[string]quoteEntry
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger.With().Str("component", "broker").Logger() }
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the broker operations over client.
func NewService(client Caller, opts ...ServiceOption) *Service {
	s := &Service{
		client: client,
		logger: zerolog.Nop(),
		now:    time.Now,
		quotes: make(map[string]quoteEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
