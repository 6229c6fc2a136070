package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS broker_sessions (
	id                          UUID PRIMARY KEY,
	token                       TEXT NOT NULL,
	hash                        TEXT NOT NULL,
	created_at                  TIMESTAMPTZ NOT NULL,
	expires_at                  TIMESTAMPTZ NOT NULL,
	last_refresh_at             TIMESTAMPTZ,
	websocket_connected         BOOLEAN NOT NULL DEFAULT FALSE,
	websocket_last_connected_at TIMESTAMPTZ,
	active                      BOOLEAN NOT NULL DEFAULT TRUE,
	termination_reason          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS broker_sessions_active_idx
	ON broker_sessions (active, created_at DESC);
`

// PGStore persists sessions as rows in Postgres. Deactivated rows are kept
// for the retention window so operators can audit termination reasons.
type PGStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGStore wraps an established pool. Call EnsureSchema before first use.
func NewPGStore(pool *pgxpool.Pool, logger zerolog.Logger) *PGStore {
	return &PGStore{
		pool:   pool,
		logger: logger.With().Str("component", "session-store").Str("backend", "database").Logger(),
	}
}

// EnsureSchema creates the sessions table and index when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

// Save upserts sess as the sole active row. Prior actives are deactivated
// with reason REPLACED inside the same transaction.
func (s *PGStore) Save(ctx context.Context, sess *model.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("begin session save: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE broker_sessions
		SET active = FALSE, termination_reason = $1, websocket_connected = FALSE
		WHERE active AND id <> $2
	`, model.TerminationReplaced, sess.ID)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("deactivate prior sessions: %w", err)
	}
	if n := ct.RowsAffected(); n > 0 {
		s.logger.Info().Int64("replaced", n).Msg("deactivated prior active sessions")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO broker_sessions
			(id, token, hash, created_at, expires_at, last_refresh_at,
			 websocket_connected, websocket_last_connected_at, active, termination_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, '')
		ON CONFLICT (id) DO UPDATE SET
			token = EXCLUDED.token,
			hash = EXCLUDED.hash,
			expires_at = EXCLUDED.expires_at,
			last_refresh_at = EXCLUDED.last_refresh_at,
			websocket_connected = EXCLUDED.websocket_connected,
			websocket_last_connected_at = EXCLUDED.websocket_last_connected_at,
			active = TRUE,
			termination_reason = ''
	`, sess.ID, sess.Token, sess.Hash, sess.CreatedAt, sess.ExpiresAt,
		sess.LastRefreshAt, sess.WebSocketConnected, sess.WebSocketLastConnAt)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("commit session save: %w", err)
	}
	metrics.SessionStoreOps.WithLabelValues("save", "ok").Inc()
	s.logger.Debug().Str("session_id", sess.ID.String()).Msg("session saved")
	return nil
}

// Load returns the most recent active row.
func (s *PGStore) Load(ctx context.Context) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, token, hash, created_at, expires_at, last_refresh_at,
		       websocket_connected, websocket_last_connected_at, active, termination_reason
		FROM broker_sessions
		WHERE active
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var sess model.Session
	err := row.Scan(&sess.ID, &sess.Token, &sess.Hash, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.LastRefreshAt, &sess.WebSocketConnected, &sess.WebSocketLastConnAt,
		&sess.Active, &sess.TerminationReason)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.SessionStoreOps.WithLabelValues("load", "miss").Inc()
		return nil, ErrNoSession
	}
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("load session: %w", err)
	}
	metrics.SessionStoreOps.WithLabelValues("load", "ok").Inc()
	return &sess, nil
}

// Deactivate marks one row inactive with a reason. Deactivating an already
// inactive or unknown row is a no-op.
func (s *PGStore) Deactivate(ctx context.Context, id uuid.UUID, reason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE broker_sessions
		SET active = FALSE, termination_reason = $2, websocket_connected = FALSE
		WHERE id = $1 AND active
	`, id, reason)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("deactivate", "error").Inc()
		return fmt.Errorf("deactivate session: %w", err)
	}
	metrics.SessionStoreOps.WithLabelValues("deactivate", "ok").Inc()
	if ct.RowsAffected() > 0 {
		s.logger.Info().Str("session_id", id.String()).Str("reason", reason).Msg("session deactivated")
	}
	return nil
}

// DeactivateExpired bulk-deactivates active rows past their expiry.
func (s *PGStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE broker_sessions
		SET active = FALSE, termination_reason = $2, websocket_connected = FALSE
		WHERE active AND expires_at <= $1
	`, now, model.TerminationExpired)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("expire", "error").Inc()
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	metrics.SessionStoreOps.WithLabelValues("expire", "ok").Inc()
	return ct.RowsAffected(), nil
}

// PurgeInactive deletes inactive rows created before the cutoff.
func (s *PGStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM broker_sessions
		WHERE NOT active AND created_at < $1
	`, cutoff)
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("purge", "error").Inc()
		return 0, fmt.Errorf("purge inactive sessions: %w", err)
	}
	metrics.SessionStoreOps.WithLabelValues("purge", "ok").Inc()
	return ct.RowsAffected(), nil
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
