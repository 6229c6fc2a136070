package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/database"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// ErrNoSession is returned by Load when no usable session is persisted.
// Missing and malformed stores both map to it.
var ErrNoSession = errors.New("no persisted session")

// Store persists broker sessions. Exactly one session is active at a time;
// Save deactivates any prior active session.
type Store interface {
	// Save persists s as the sole active session.
	Save(ctx context.Context, s *model.Session) error

	// Load returns the most recent active session, or ErrNoSession.
	Load(ctx context.Context) (*model.Session, error)

	// Deactivate marks the identified session inactive with a reason.
	Deactivate(ctx context.Context, id uuid.UUID, reason string) error

	// DeactivateExpired deactivates active sessions whose expiry has passed.
	// Returns how many were deactivated.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeInactive removes inactive sessions created before the cutoff.
	// Returns how many were removed.
	PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close()
}

// NewStore builds the backend selected by cfg.Storage.
func NewStore(ctx context.Context, cfg config.SessionConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Storage {
	case config.StorageDatabase:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		st := NewPGStore(pool, logger)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		return st, nil
	case config.StorageFile:
		return NewFileStore(cfg.FilePath, cfg.Expiration(), logger), nil
	default:
		return nil, fmt.Errorf("session store: unknown storage %q", cfg.Storage)
	}
}
