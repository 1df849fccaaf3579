// Package auth holds the bearer token of the current session.
package auth

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tOgg1/pushdeck/internal/logging"
)

// Session is the token holder shared by the API client and the stream.
// It implements api.TokenSource.
type Session struct {
	mu             sync.RWMutex
	token          string
	onChange       map[string]func(token string)
	onUnauthorized map[string]func()
}

// NewSession creates a session holding token. An empty token means logged out.
func NewSession(token string) *Session {
	return &Session{
		token:          strings.TrimSpace(token),
		onChange:       make(map[string]func(string)),
		onUnauthorized: make(map[string]func()),
	}
}

// Token returns the current bearer token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// SetToken replaces the token and notifies change listeners when it differs.
func (s *Session) SetToken(token string) {
	token = strings.TrimSpace(token)

	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	listeners := make([]func(string), 0, len(s.onChange))
	for _, fn := range s.onChange {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// Logout drops the token.
func (s *Session) Logout() {
	s.SetToken("")
}

// Unauthorized records that the server rejected the token. The token is
// dropped and unauthenticated listeners run.
func (s *Session) Unauthorized() {
	logger := logging.Component("auth")
	logger.Warn().Msg("server rejected token")

	s.mu.RLock()
	listeners := make([]func(), 0, len(s.onUnauthorized))
	for _, fn := range s.onUnauthorized {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	s.Logout()
	for _, fn := range listeners {
		fn()
	}
}

// OnTokenChanged registers fn and returns its unsubscribe func.
func (s *Session) OnTokenChanged(fn func(token string)) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.onChange[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.onChange, id)
		s.mu.Unlock()
	}
}

// OnUnauthenticated registers fn and returns its unsubscribe func.
func (s *Session) OnUnauthenticated(fn func()) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.onUnauthorized[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.onUnauthorized, id)
		s.mu.Unlock()
	}
}
