package core

import (
	"sync"
	"time"
)

// DelegationState is the member the session currently acts as, it is replaced
// as a whole on every delegation.
type DelegationState struct {
	ActiveMemberId string
}

type sessionState struct {
	authenticated   bool
	authenticatedAt time.Time
	lastAttemptAt   time.Time
	lastVerifiedAt  time.Time
	generation      uint64
}

// Session is the authentication and delegation state of a Client. Only the login
// flow and the Gate mutate the authentication half of it.
type Session struct {
	mutex       sync.RWMutex
	accessToken string
	state       sessionState
	delegation  DelegationState
}

func (s *Session) AccessToken() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.accessToken
}

func (s *Session) Authenticated() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.authenticated
}

// Generation increments on every successful login.
func (s *Session) Generation() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.generation
}

// LastAttempt returns when the last login attempt started, the zero time if
// there was none.
func (s *Session) LastAttempt() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.lastAttemptAt
}

func (s *Session) AuthenticatedAt() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.authenticatedAt
}

func (s *Session) Delegation() DelegationState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.delegation
}

// Invalidate marks the session as logged out, the next EnsureAuthenticated will
// log in again.
func (s *Session) Invalidate() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.authenticated = false
}

// InvalidateGeneration is Invalidate limited to the login generation observed
// before a request, a login that completed meanwhile is kept.
func (s *Session) InvalidateGeneration(generation uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state.generation != generation {
		return false
	}
	s.state.authenticated = false
	return true
}

func (s *Session) snapshot() sessionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

func (s *Session) markAttempt(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.lastAttemptAt = now
	s.state.authenticated = false
}

func (s *Session) markAuthenticated(token string, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.accessToken = token
	s.state.authenticated = true
	s.state.authenticatedAt = now
	s.state.lastVerifiedAt = now
	s.state.generation++
	// a fresh login never carries over a delegation
	s.delegation = DelegationState{}
}

func (s *Session) markVerified(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state.authenticated {
		s.state.lastVerifiedAt = now
	}
}

func (s *Session) setAccessToken(token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.accessToken = token
}

func (s *Session) setDelegation(state DelegationState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.delegation = state
}
