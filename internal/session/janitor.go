package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
)

// Janitor runs the scheduled store cleanup: expired active sessions are
// deactivated and inactive rows past the retention window are purged. Both
// passes run on the configured cron schedule and are idempotent.
type Janitor struct {
	store     Store
	schedule  string
	retention time.Duration
	logger    zerolog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// NewJanitor builds a janitor over store from the session configuration.
func NewJanitor(store Store, cfg config.SessionConfig, logger zerolog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		schedule:  cfg.CleanupCron,
		retention: cfg.Retention(),
		logger:    logger.With().Str("component", "session-janitor").Logger(),
		now:       time.Now,
	}
}

// Start registers the cleanup job and begins the scheduler.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(j.schedule, j.runCleanup); err != nil {
		return fmt.Errorf("schedule session cleanup %q: %w", j.schedule, err)
	}
	j.cron.Start()
	j.logger.Info().Str("schedule", j.schedule).Dur("retention", j.retention).Msg("session janitor started")
	return nil
}

// Stop halts the scheduler and waits for a running cleanup to finish.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		j.logger.Warn().Msg("session janitor stop timed out")
	}
}

func (j *Janitor) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := j.RunExpiry(ctx); err != nil {
		j.logger.Error().Err(err).Msg("expiry pass failed")
	}
	if _, err := j.RunPurge(ctx); err != nil {
		j.logger.Error().Err(err).Msg("purge pass failed")
	}
}

// RunExpiry deactivates active sessions whose expiry has passed.
func (j *Janitor) RunExpiry(ctx context.Context) (int64, error) {
	n, err := j.store.DeactivateExpired(ctx, j.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info().Int64("deactivated", n).Msg("expired sessions deactivated")
	}
	return n, nil
}

// RunPurge removes inactive sessions older than the retention window.
func (j *Janitor) RunPurge(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.PurgeInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("inactive sessions purged")
	}
	return n, nil
}
