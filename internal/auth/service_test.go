package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/crypto"
	"github.com/intradayhq/algolab-gateway/internal/model"
	"github.com/intradayhq/algolab-gateway/internal/resilience"
	"github.com/intradayhq/algolab-gateway/internal/rest"
	"github.com/intradayhq/algolab-gateway/internal/session"
)

// testKeyCode is the base64 form of the 16-byte key "0123456789abcdef".
const testKeyCode = "MDEyMzQ1Njc4OWFiY2RlZg=="

type recordedCall struct {
	class    resilience.Class
	endpoint string
	body     string
}

// fakeCaller scripts REST responses per endpoint.
type fakeCaller struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]*rest.Result
	errs      map[string]error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: make(map[string]*rest.Result),
		errs:      make(map[string]error),
	}
}

func (f *fakeCaller) Call(ctx context.Context, class resilience.Class, endpoint string, payload *rest.Payload) (*rest.Result, error) {
	var body string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = string(raw)
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{class: class, endpoint: endpoint, body: body})
	f.mu.Unlock()

	if err, ok := f.errs[endpoint]; ok {
		return nil, err
	}
	if res, ok := f.responses[endpoint]; ok {
		return res, nil
	}
	return &rest.Result{Success: true, Content: json.RawMessage(`{}`)}, nil
}

func (f *fakeCaller) respond(endpoint string, success bool, message, content string) {
	f.responses[endpoint] = &rest.Result{
		Success: success,
		Message: message,
		Content: json.RawMessage(content),
	}
}

func (f *fakeCaller) lastCall(t *testing.T) recordedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no REST calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memStore is an in-memory session.Store capturing lifecycle calls.
type memStore struct {
	mu          sync.Mutex
	saved       []*model.Session
	deactivated map[uuid.UUID]string
	loadSess    *model.Session
	loadErr     error
	saveErr     error
}

func newMemStore() *memStore {
	return &memStore{deactivated: make(map[uuid.UUID]string), loadErr: session.ErrNoSession}
}

func (m *memStore) Save(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *s
	m.saved = append(m.saved, &copied)
	return nil
}

func (m *memStore) Load(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	copied := *m.loadSess
	return &copied, nil
}

func (m *memStore) Deactivate(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated[id] = reason
	return nil
}

func (m *memStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) Close() {}

func (m *memStore) lastSaved(t *testing.T) *model.Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		t.Fatal("no session saved")
	}
	return m.saved[len(m.saved)-1]
}

func newTestService(t *testing.T) (*Service, *fakeCaller, *memStore, *TokenHolder) {
	t.Helper()
	creds, err := crypto.LoadCredentials("API-KEY-"+testKeyCode, "https://broker.test")
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	caller := newFakeCaller()
	store := newMemStore()
	tokens := NewTokenHolder()
	svc := NewService(creds, caller, tokens, store,
		WithLogger(zerolog.Nop()),
		WithExpiration(24*time.Hour),
	)
	return svc, caller, store, tokens
}

func encryptField(t *testing.T, plaintext string) string {
	t.Helper()
	enc, err := crypto.NewEncryptor(testKeyCode)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	out, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return out
}

func TestLoginHappyPath(t *testing.T) {
	svc, caller, _, tokens := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)

	if err := svc.Login(context.Background(), "tc11111111111", "P@ss"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := svc.State(); got != StateAwaitingOtp {
		t.Errorf("state = %v, want AwaitingOtp", got)
	}
	if tokens.Hash() != "" || tokens.Token() != "" {
		t.Error("token holder populated before OTP verification")
	}

	// Zero-IV encryption is deterministic, so the wire body is predictable.
	call := caller.lastCall(t)
	if call.endpoint != rest.EndpointLoginUser || call.class != resilience.ClassAuth {
		t.Errorf("call = %s %v, want auth-class LoginUser", call.endpoint, call.class)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(call.body), &body); err != nil {
		t.Fatalf("decode call body: %v", err)
	}
	if body["username"] != encryptField(t, "tc11111111111") {
		t.Error("username not encrypted with the configured key")
	}
	if body["password"] != encryptField(t, "P@ss") {
		t.Error("password not encrypted with the configured key")
	}
}

func TestLoginValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"blank username", "", "pass"},
		{"blank password", "user", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, caller, _, _ := newTestService(t)
			err := svc.Login(context.Background(), tt.username, tt.password)
			if !IsCode(err, CodeInvalidCredentials) {
				t.Errorf("err = %v, want InvalidCredentials", err)
			}
			if caller.callCount() != 0 {
				t.Error("blank credentials reached the broker")
			}
		})
	}
}

func TestLoginBrokerRejection(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	caller.respond(rest.EndpointLoginUser, false, "kullanici bulunamadi", `{}`)

	err := svc.Login(context.Background(), "u", "p")
	if !IsCode(err, CodeBrokerRejected) {
		t.Fatalf("err = %v, want BrokerRejected", err)
	}
	if svc.State() != StateUnauthenticated {
		t.Error("rejected login changed state")
	}
}

func TestLoginUnexpectedBody(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"unrelated":1}`)

	if err := svc.Login(context.Background(), "u", "p"); !IsCode(err, CodeUnexpectedBody) {
		t.Errorf("err = %v, want UnexpectedBody", err)
	}
}

func TestLoginTransportErrorPassesThrough(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	caller.errs[rest.EndpointLoginUser] = &rest.TransportError{Endpoint: rest.EndpointLoginUser, Err: errors.New("dial tcp: refused")}

	err := svc.Login(context.Background(), "u", "p")
	var te *rest.TransportError
	if !errors.As(err, &te) {
		t.Errorf("err = %v, want *rest.TransportError untouched", err)
	}
}

func TestVerifyOTPRequiresLogin(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	err := svc.VerifyOTP(context.Background(), "123456")
	if !IsCode(err, CodeMissingPriorStep) {
		t.Errorf("err = %v, want MissingPriorStep", err)
	}
	if caller.callCount() != 0 {
		t.Error("OTP without login reached the broker")
	}
}

func TestVerifyOTPHappyPath(t *testing.T) {
	svc, caller, store, tokens := newTestService(t)
	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)

	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	if svc.State() != StateAuthenticated {
		t.Errorf("state = %v, want Authenticated", svc.State())
	}
	if tokens.Token() != "T1" || tokens.Hash() != "H1" {
		t.Errorf("token holder = (%q, %q), want (T1, H1)", tokens.Token(), tokens.Hash())
	}

	call := caller.lastCall(t)
	var body map[string]string
	if err := json.Unmarshal([]byte(call.body), &body); err != nil {
		t.Fatalf("decode call body: %v", err)
	}
	if body["token"] != encryptField(t, "T1") || body["password"] != encryptField(t, "123456") {
		t.Error("OTP step fields not encrypted")
	}

	sess := store.lastSaved(t)
	if sess.Token != "T1" || sess.Hash != "H1" || !sess.Active {
		t.Errorf("persisted session = %+v, want active T1/H1", sess)
	}
	if !sess.ExpiresAt.Equal(at.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want createdAt+24h", sess.ExpiresAt)
	}

	select {
	case ev := <-svc.Events():
		if ev.Kind != EventAuthenticated {
			t.Errorf("event = %v, want authenticated", ev.Kind)
		}
	default:
		t.Error("no authenticated event published")
	}
}

func TestVerifyOTPSurvivesStoreOutage(t *testing.T) {
	svc, caller, store, _ := newTestService(t)
	store.saveErr = errors.New("pg down")
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)

	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP with store down: %v", err)
	}
	if !svc.IsAuthenticated() {
		t.Error("store outage lost the authenticated state")
	}
}

func TestLoginWhileAuthenticatedRefused(t *testing.T) {
	svc, caller, _, _ := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)

	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	if err := svc.Login(context.Background(), "u", "p"); !IsCode(err, CodeAlreadyAuthenticated) {
		t.Errorf("err = %v, want AlreadyAuthenticated", err)
	}
	if svc.State() != StateAuthenticated {
		t.Error("refused login changed state")
	}
}

func TestRestoreValidatesPersistedSession(t *testing.T) {
	svc, caller, store, tokens := newTestService(t)
	store.loadErr = nil
	store.loadSess = &model.Session{
		ID:        uuid.New(),
		Token:     "T1",
		Hash:      "H1",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(23 * time.Hour),
		Active:    true,
	}
	caller.respond(rest.EndpointGetSubAccounts, true, "", `[]`)

	if !svc.Restore(context.Background()) {
		t.Fatal("Restore = false, want true")
	}
	if !svc.IsAuthenticated() {
		t.Error("restored service not authenticated")
	}
	if tokens.Token() != "T1" || tokens.Hash() != "H1" {
		t.Error("restore did not install the persisted pair")
	}
	if call := caller.lastCall(t); call.endpoint != rest.EndpointGetSubAccounts {
		t.Errorf("validation call = %s, want GetSubAccounts", call.endpoint)
	}
}

func TestRestoreOutcomes(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		svc, caller, _, _ := newTestService(t)
		if svc.Restore(context.Background()) {
			t.Error("Restore = true with an empty store")
		}
		if caller.callCount() != 0 {
			t.Error("restore without a session contacted the broker")
		}
	})

	t.Run("expired session", func(t *testing.T) {
		svc, caller, store, _ := newTestService(t)
		id := uuid.New()
		store.loadErr = nil
		store.loadSess = &model.Session{
			ID: id, Token: "T1", Hash: "H1",
			CreatedAt: time.Now().Add(-48 * time.Hour),
			ExpiresAt: time.Now().Add(-24 * time.Hour),
			Active:    true,
		}
		if svc.Restore(context.Background()) {
			t.Error("Restore = true for an expired session")
		}
		if caller.callCount() != 0 {
			t.Error("expired session was validated against the broker")
		}
		if store.deactivated[id] != model.TerminationExpired {
			t.Errorf("termination reason = %q, want EXPIRED", store.deactivated[id])
		}
	})

	t.Run("validation fails", func(t *testing.T) {
		svc, caller, store, tokens := newTestService(t)
		id := uuid.New()
		store.loadErr = nil
		store.loadSess = &model.Session{
			ID: id, Token: "T1", Hash: "H1",
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(24 * time.Hour), Active: true,
		}
		caller.respond(rest.EndpointGetSubAccounts, false, "yetkisiz", `{}`)

		if svc.Restore(context.Background()) {
			t.Error("Restore = true despite failed validation")
		}
		if svc.IsAuthenticated() {
			t.Error("failed validation left service authenticated")
		}
		if tokens.Hash() != "" {
			t.Error("failed validation left hash installed")
		}
		if store.deactivated[id] != model.TerminationValidation {
			t.Errorf("termination reason = %q, want VALIDATION_FAILED", store.deactivated[id])
		}
	})
}

func TestRefreshUnauthorizedClearsSession(t *testing.T) {
	svc, caller, store, tokens := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)
	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	sessID := store.lastSaved(t).ID
	for len(svc.Events()) > 0 {
		<-svc.Events()
	}

	caller.errs[rest.EndpointSessionRefresh] = &rest.APIError{
		StatusCode: http.StatusUnauthorized,
		Endpoint:   rest.EndpointSessionRefresh,
	}

	err := svc.Refresh(context.Background())
	if !IsCode(err, CodeSessionExpired) {
		t.Fatalf("err = %v, want SessionExpired", err)
	}
	if svc.IsAuthenticated() {
		t.Error("401 refresh left service authenticated")
	}
	if tokens.Hash() != "" {
		t.Error("401 refresh left hash installed")
	}
	if store.deactivated[sessID] != model.TerminationRefresh {
		t.Errorf("termination reason = %q, want REFRESH_UNAUTHORIZED", store.deactivated[sessID])
	}

	var sawExpired bool
	for len(svc.Events()) > 0 {
		if ev := <-svc.Events(); ev.Kind == EventSessionExpired {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Error("no session_expired event published")
	}
}

func TestRefreshTransientErrorKeepsSession(t *testing.T) {
	svc, caller, _, tokens := newTestService(t)
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)
	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	caller.errs[rest.EndpointSessionRefresh] = &rest.TransportError{
		Endpoint: rest.EndpointSessionRefresh, Err: errors.New("reset by peer"),
	}

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh swallowed the transport error")
	}
	if !svc.IsAuthenticated() || tokens.Hash() != "H1" {
		t.Error("transient refresh failure dropped the session")
	}
}

func TestRefreshRecordsTimestamp(t *testing.T) {
	svc, caller, store, _ := newTestService(t)
	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	caller.respond(rest.EndpointLoginUser, true, "", `{"token":"T1"}`)
	caller.respond(rest.EndpointLoginUserControl, true, "", `{"hash":"H1"}`)
	if err := svc.Login(context.Background(), "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.VerifyOTP(context.Background(), "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	at = at.Add(5 * time.Minute)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	sess := store.lastSaved(t)
	if sess.LastRefreshAt == nil || !sess.LastRefreshAt.Equal(at) {
		t.Errorf("LastRefreshAt = %v, want %v", sess.LastRefreshAt, at)
	}
}

func TestRefreshRequiresAuthentication(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if err := svc.Refresh(context.Background()); !IsCode(err, CodeNotAuthenticated) {
		t.Errorf("err = %v, want NotAuthenticated", err)
	}
}
