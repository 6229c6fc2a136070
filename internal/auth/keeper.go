package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Keeper drives the scheduled session refresh while keep-alive is on. It
// only refreshes an authenticated session; when the service is logged out
// the tick is skipped rather than erroring.
type Keeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger

	// tick overrides the interval ticker in tests.
	tick <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKeeper builds a keeper refreshing every interval.
func NewKeeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Keeper {
	return &Keeper{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "session-keeper").Logger(),
	}
}

// Start begins the refresh loop.
func (k *Keeper) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go k.run()

	k.logger.Info().Dur("interval", k.interval).Msg("session keeper started")
	return nil
}

// Stop halts the loop and waits for a refresh in flight.
func (k *Keeper) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		k.logger.Info().Msg("session keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Keeper) run() {
	defer k.wg.Done()

	tick := k.tick
	if tick == nil {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-tick:
			k.refreshOnce()
		}
	}
}

// refreshOnce runs one keep-alive cycle. Failures are logged, never fatal:
// a 401 already cleared the session inside Refresh, and transient errors
// get another chance on the next tick.
func (k *Keeper) refreshOnce() {
	if !k.svc.IsAuthenticated() {
		k.logger.Debug().Msg("skipping refresh, not authenticated")
		return
	}
	if err := k.svc.Refresh(k.ctx); err != nil {
		k.logger.Warn().Err(err).Msg("session refresh failed")
	}
}
