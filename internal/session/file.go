package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
)

// fileDoc is the on-disk session document. One document per store; saving
// overwrites it whole, so the last writer wins.
type fileDoc struct {
	ID                  uuid.UUID  `json:"id"`
	Token               string     `json:"token"`
	Hash                string     `json:"hash"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	LastRefreshAt       *time.Time `json:"lastRefreshAt,omitempty"`
	WebSocketConnected  bool       `json:"websocketConnected"`
	WebSocketLastConnAt *time.Time `json:"websocketLastConnectedAt,omitempty"`
	LastUpdate          time.Time  `json:"lastUpdate"`
}

// FileStore persists the single live session as a JSON document. It is the
// lightweight backend for deployments without Postgres: saving overwrites
// the document and deactivation removes it, so no history is retained.
type FileStore struct {
	path       string
	expiration time.Duration
	logger     zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore builds a store writing to path. expiration backfills the
// expiry of documents written before the field existed.
func NewFileStore(path string, expiration time.Duration, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:       path,
		expiration: expiration,
		logger:     logger.With().Str("component", "session-store").Str("backend", "file").Logger(),
		now:        time.Now,
	}
}

// Save overwrites the document with sess. The write goes through a temp file
// and rename so a crash never leaves a torn document; mode 0600 because the
// document carries the live session credential.
func (s *FileStore) Save(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fileDoc{
		ID:                  sess.ID,
		Token:               sess.Token,
		Hash:                sess.Hash,
		CreatedAt:           sess.CreatedAt,
		ExpiresAt:           sess.ExpiresAt,
		LastRefreshAt:       sess.LastRefreshAt,
		WebSocketConnected:  sess.WebSocketConnected,
		WebSocketLastConnAt: sess.WebSocketLastConnAt,
		LastUpdate:          s.now(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("encode session document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("write session document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		metrics.SessionStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("replace session document: %w", err)
	}

	metrics.SessionStoreOps.WithLabelValues("save", "ok").Inc()
	s.logger.Debug().Str("session_id", sess.ID.String()).Msg("session saved")
	return nil
}

// Load reads the document. A missing file is no session; a malformed one is
// logged and treated the same so a corrupt store never blocks a fresh login.
func (s *FileStore) Load(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		metrics.SessionStoreOps.WithLabelValues("load", "miss").Inc()
		return nil, ErrNoSession
	}
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("read session document: %w", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		metrics.SessionStoreOps.WithLabelValues("load", "error").Inc()
		s.logger.Warn().Err(err).Str("path", s.path).Msg("session document malformed, treating as missing")
		return nil, ErrNoSession
	}
	if doc.Token == "" || doc.Hash == "" {
		metrics.SessionStoreOps.WithLabelValues("load", "miss").Inc()
		s.logger.Warn().Str("path", s.path).Msg("session document incomplete, treating as missing")
		return nil, ErrNoSession
	}

	if doc.ExpiresAt.IsZero() && s.expiration > 0 {
		base := doc.CreatedAt
		if base.IsZero() {
			base = doc.LastUpdate
		}
		doc.ExpiresAt = base.Add(s.expiration)
	}

	metrics.SessionStoreOps.WithLabelValues("load", "ok").Inc()
	return &model.Session{
		ID:                  doc.ID,
		Token:               doc.Token,
		Hash:                doc.Hash,
		CreatedAt:           doc.CreatedAt,
		ExpiresAt:           doc.ExpiresAt,
		LastRefreshAt:       doc.LastRefreshAt,
		WebSocketConnected:  doc.WebSocketConnected,
		WebSocketLastConnAt: doc.WebSocketLastConnAt,
		Active:              true,
	}, nil
}

// Deactivate removes the document. The file backend keeps no terminated
// history, so the reason only reaches the log.
func (s *FileStore) Deactivate(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.remove(); err != nil {
		metrics.SessionStoreOps.WithLabelValues("deactivate", "error").Inc()
		return err
	}
	metrics.SessionStoreOps.WithLabelValues("deactivate", "ok").Inc()
	s.logger.Info().Str("session_id", id.String()).Str("reason", reason).Msg("session deactivated")
	return nil
}

// DeactivateExpired removes the document when its session has expired.
func (s *FileStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		metrics.SessionStoreOps.WithLabelValues("expire", "error").Inc()
		return 0, fmt.Errorf("read session document: %w", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		// A malformed document is dead weight either way.
		if err := s.remove(); err != nil {
			metrics.SessionStoreOps.WithLabelValues("expire", "error").Inc()
			return 0, err
		}
		metrics.SessionStoreOps.WithLabelValues("expire", "ok").Inc()
		s.logger.Warn().Str("path", s.path).Msg("removed malformed session document")
		return 1, nil
	}

	if doc.ExpiresAt.IsZero() || now.Before(doc.ExpiresAt) {
		return 0, nil
	}
	if err := s.remove(); err != nil {
		metrics.SessionStoreOps.WithLabelValues("expire", "error").Inc()
		return 0, err
	}
	metrics.SessionStoreOps.WithLabelValues("expire", "ok").Inc()
	s.logger.Info().Str("session_id", doc.ID.String()).Time("expired_at", doc.ExpiresAt).Msg("expired session removed")
	return 1, nil
}

// PurgeInactive is a no-op: deactivation already deletes the document.
func (s *FileStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() {}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session document: %w", err)
	}
	return nil
}
