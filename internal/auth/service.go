package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
	"github.com/intradayhq/algolab-gateway/internal/session"
)

// State is the login lifecycle position.
type State int32

const (
	StateUnauthenticated State = iota
	StateAwaitingOtp
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAwaitingOtp:
		return "AWAITING_OTP"
	case StateAuthenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// EventKind tags lifecycle notifications.
type EventKind string

const (
	EventAuthenticated  EventKind = "authenticated"   // Two-step login or validated restore
	EventSessionExpired EventKind = "session_expired" // Refresh got a 401
	EventCleared        EventKind = "cleared"         // Explicit or forced logout
)

// Event is one lifecycle notification. Reason carries the termination
// reason for cleared/expired events.
type Event struct {
	Kind   EventKind
	Reason string
}

// Caller is the slice of the REST client the auth service uses.
type Caller interface {
	Call(ctx context.Context, class resilience.Class, endpoint string, payload *rest.Payload) (*rest.Result, error)
}

// Service drives the two-step broker login and owns the session lifecycle.
// All state transitions happen under one mutex; token and hash live in the
// TokenHolder so readers never block on a login in progress.
type Service struct {
	creds      *crypto.Credentials
	client     Caller
	tokens     *TokenHolder
	store      session.Store
	expiration time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state State
	// token bridges LoginUser and LoginUserControl; promoted into the
	// TokenHolder only after the OTP step succeeds.
	token string
	sess  *model.Session

	events chan Event
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger.With().Str("component", "auth").Logger() }
}

// WithExpiration sets the local session lifetime recorded at login.
func WithExpiration(d time.Duration) ServiceOption {
	return func(s *Service) { s.expiration = d }
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the auth service. tokens is shared with the REST and
// stream clients; store persists sessions across restarts.
func NewService(creds *crypto.Credentials, client Caller, tokens *TokenHolder, store session.Store, opts ...ServiceOption) *Service {
	s := &Service{
		creds:      creds,
		client:     client,
		tokens:     tokens,
		store:      store,
		expiration: 24 * time.Hour,
		logger:     zerolog.Nop(),
		now:        time.Now,
		events:     make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the lifecycle notification channel. Publishes never block:
// when no one drains the channel, events are dropped.
func (s *Service) Events() <-chan Event { return s.events }

// State returns the current lifecycle position.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsAuthenticated reports whether a verified session is installed.
func (s *Service) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// Login runs the first step: posts encrypted credentials and holds the
// returned token for the OTP step. The broker sends the SMS on success.
func (s *Service) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return &AuthError{Code: CodeInvalidCredentials, Message: "username and password are required"}
	}
	// A live session never silently drops back to AwaitingOtp; the caller
	// logs out first. Repeating Login from AwaitingOtp re-requests the SMS.
	if s.State() == StateAuthenticated {
		return &AuthError{Code: CodeAlreadyAuthenticated, Message: "already authenticated, clear the session to log in again"}
	}

	encUser, err := s.creds.Encrypt(username)
	if err != nil {
		return &AuthError{Code: CodeInvalidCredentials, Message: "encrypt username", Err: err}
	}
	encPass, err := s.creds.Encrypt(password)
	if err != nil {
		return &AuthError{Code: CodeInvalidCredentials, Message: "encrypt password", Err: err}
	}

	payload := rest.NewPayload().
		Set("username", encUser).
		Set("password", encPass)

	res, err := s.client.Call(ctx, resilience.ClassAuth, rest.EndpointLoginUser, payload)
	if err != nil {
		return err
	}
	if !res.Success {
		return &AuthError{Code: CodeBrokerRejected, Message: res.Message}
	}

	var content struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(res.Content, &content); err != nil || content.Token == "" {
		return &AuthError{Code: CodeUnexpectedBody, Message: "login response carried no token", Err: err}
	}

	s.mu.Lock()
	s.state = StateAwaitingOtp
	s.token = content.Token
	s.mu.Unlock()

	metrics.AuthState.Set(float64(StateAwaitingOtp))
	s.logger.Info().Msg("login accepted, awaiting otp")
	return nil
}

// VerifyOTP runs the second step: posts the encrypted token and SMS code,
// installs the returned hash, and persists the session.
func (s *Service) VerifyOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.state != StateAwaitingOtp {
		state := s.state
		s.mu.Unlock()
		return &AuthError{Code: CodeMissingPriorStep, Message: "otp verification requires a login, state is " + state.String()}
	}
	token := s.token
	s.mu.Unlock()

	encToken, err := s.creds.Encrypt(token)
	if err != nil {
		return &AuthError{Code: CodeInvalidCredentials, Message: "encrypt token", Err: err}
	}
	encCode, err := s.creds.Encrypt(code)
	if err != nil {
		return &AuthError{Code: CodeInvalidCredentials, Message: "encrypt otp code", Err: err}
	}

	// The broker's control endpoint reuses the password field for the code.
	payload := rest.NewPayload().
		Set("token", encToken).
		Set("password", encCode)

	res, err := s.client.Call(ctx, resilience.ClassAuth, rest.EndpointLoginUserControl, payload)
	if err != nil {
		return err
	}
	if !res.Success {
		return &AuthError{Code: CodeBrokerRejected, Message: res.Message}
	}

	var content struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(res.Content, &content); err != nil || content.Hash == "" {
		return &AuthError{Code: CodeUnexpectedBody, Message: "otp response carried no hash", Err: err}
	}

	now := s.now()
	sess := &model.Session{
		ID:        uuid.New(),
		Token:     token,
		Hash:      content.Hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiration),
		Active:    true,
	}

	s.tokens.Set(token, content.Hash)

	s.mu.Lock()
	s.state = StateAuthenticated
	s.token = ""
	s.sess = sess
	s.mu.Unlock()

	// The broker-side login already happened; a store outage must not force
	// the user through another OTP round. The session simply won't restore.
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Error().Err(err).Msg("session persist failed, session is memory-only")
	}

	metrics.AuthState.Set(float64(StateAuthenticated))
	s.logger.Info().Str("session_id", sess.ID.String()).Time("expires_at", sess.ExpiresAt).Msg("authenticated")
	s.publish(Event{Kind: EventAuthenticated})
	return nil
}

// Restore loads the persisted session and validates it against the broker.
// Returns true only when the liveness check passes; any other outcome leaves
// the service unauthenticated. Validation is mandatory: the stream handshake
// needs a hash the broker still accepts.
func (s *Service) Restore(ctx context.Context) bool {
	sess, err := s.store.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		s.logger.Debug().Msg("no persisted session to restore")
		return false
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("session load failed")
		return false
	}

	if sess.Expired(s.now()) {
		s.logger.Info().Str("session_id", sess.ID.String()).Msg("persisted session expired")
		if err := s.store.Deactivate(ctx, sess.ID, model.TerminationExpired); err != nil {
			s.logger.Warn().Err(err).Msg("deactivate expired session failed")
		}
		return false
	}

	// Install the pair before the liveness call: Alive goes out signed. The
	// state machine stays Unauthenticated until validation passes.
	s.tokens.Set(sess.Token, sess.Hash)
	if !s.Alive(ctx) {
		s.tokens.Clear()
		s.logger.Info().Str("session_id", sess.ID.String()).Msg("persisted session failed validation")
		if err := s.store.Deactivate(ctx, sess.ID, model.TerminationValidation); err != nil {
			s.logger.Warn().Err(err).Msg("deactivate invalid session failed")
		}
		return false
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.sess = sess
	s.mu.Unlock()

	metrics.AuthState.Set(float64(StateAuthenticated))
	s.logger.Info().Str("session_id", sess.ID.String()).Msg("session restored")
	s.publish(Event{Kind: EventAuthenticated})
	return true
}

// Alive issues the cheap authenticated ping. True iff 2xx with success=true.
func (s *Service) Alive(ctx context.Context) bool {
	res, err := s.client.Call(ctx, resilience.ClassAuth, rest.EndpointGetSubAccounts, nil)
	return err == nil && res.Success
}

// Refresh extends the broker session. A 401 is authoritative regardless of
// local expiry: the session is cleared and an expiry event published. Other
// failures leave the session installed for the next keeper cycle.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.IsAuthenticated() {
		return &AuthError{Code: CodeNotAuthenticated, Message: "refresh requires an active session"}
	}

	res, err := s.client.Call(ctx, resilience.ClassAuth, rest.EndpointSessionRefresh, nil)
	if err != nil {
		var ae *rest.APIError
		if errors.As(err, &ae) && ae.Unauthorized() {
			s.logger.Warn().Msg("session refresh unauthorized, clearing session")
			s.Clear(ctx, model.TerminationRefresh)
			s.publish(Event{Kind: EventSessionExpired, Reason: model.TerminationRefresh})
			return &AuthError{Code: CodeSessionExpired, Message: "unauthorized, please log in again", Err: err}
		}
		return err
	}
	if !res.Success {
		return &AuthError{Code: CodeBrokerRejected, Message: res.Message}
	}

	now := s.now()
	s.mu.Lock()
	var sess *model.Session
	if s.sess != nil {
		s.sess.LastRefreshAt = &now
		copied := *s.sess
		sess = &copied
	}
	s.mu.Unlock()

	if sess != nil {
		if err := s.store.Save(ctx, sess); err != nil {
			s.logger.Warn().Err(err).Msg("refresh timestamp persist failed")
		}
	}
	s.logger.Debug().Msg("session refreshed")
	return nil
}

// NoteStreamState records the stream connection state on the persisted
// session so a restore knows whether the stream was up.
func (s *Service) NoteStreamState(ctx context.Context, connected bool) {
	now := s.now()
	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return
	}
	s.sess.WebSocketConnected = connected
	if connected {
		s.sess.WebSocketLastConnAt = &now
	}
	copied := *s.sess
	s.mu.Unlock()

	if err := s.store.Save(ctx, &copied); err != nil {
		s.logger.Warn().Err(err).Msg("stream state persist failed")
	}
}

// Clear drops the in-memory pair, resets the state machine, and marks the
// persisted session inactive with reason.
func (s *Service) Clear(ctx context.Context, reason string) {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.token = ""
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	s.tokens.Clear()
	metrics.AuthState.Set(float64(StateUnauthenticated))

	if sess != nil {
		if err := s.store.Deactivate(ctx, sess.ID, reason); err != nil {
			s.logger.Warn().Err(err).Str("reason", reason).Msg("session deactivate failed")
		}
	}
	s.logger.Info().Str("reason", reason).Msg("session cleared")
	s.publish(Event{Kind: EventCleared, Reason: reason})
}

// publish is non-blocking; a full channel drops the event.
func (s *Service) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("kind", string(ev.Kind)).Msg("event dropped, channel full")
	}
}
