package auth

import "sync/atomic"

type tokenPair struct {
	token string
	hash  string
}

// TokenHolder is the single writer-owned home of the live (token, hash)
// pair. The auth service writes it; the REST and stream clients read it
// through the rest.TokenReader contract. Reads never observe a torn pair.
type TokenHolder struct {
	pair atomic.Pointer[tokenPair]
}

// NewTokenHolder starts empty.
func NewTokenHolder() *TokenHolder {
	h := &TokenHolder{}
	h.pair.Store(&tokenPair{})
	return h
}

// Set atomically replaces both values.
func (h *TokenHolder) Set(token, hash string) {
	h.pair.Store(&tokenPair{token: token, hash: hash})
}

// Clear atomically empties both values.
func (h *TokenHolder) Clear() {
	h.pair.Store(&tokenPair{})
}

// Token returns the opaque broker token, "" when logged out.
func (h *TokenHolder) Token() string {
	return h.pair.Load().token
}

// Hash returns the session authorization hash, "" when logged out.
func (h *TokenHolder) Hash() string {
	return h.pair.Load().hash
}
