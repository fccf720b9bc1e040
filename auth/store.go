package auth

import (
	"context"
	"sync"
)

// TokenStore holds the single access token of the process.
//
// One slot for the whole process is only sound for the single-operator case
// (stdio transport or the CLI login). HTTP callers must carry their own token
// on the request context; see WithToken and Resolve.
type TokenStore struct {
	mu    sync.RWMutex
	token AccessToken
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Get returns the current token and whether one is set.
func (s *TokenStore) Get() (AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, !s.token.IsZero()
}

// Set replaces the stored token as a whole.
func (s *TokenStore) Set(token AccessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear drops the token. Calling it on an empty store is a no-op.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = AccessToken{}
}

// IsAuthenticated reports whether a non-empty token is stored.
func (s *TokenStore) IsAuthenticated() bool {
	_, ok := s.Get()
	return ok
}

// Resolve prefers the caller's token from ctx and falls back to the stored one.
func (s *TokenStore) Resolve(ctx context.Context) (AccessToken, bool) {
	if tok, ok := TokenFromContext(ctx); ok {
		return tok, true
	}
	if s == nil {
		return AccessToken{}, false
	}
	return s.Get()
}
