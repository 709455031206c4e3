// Package session holds the authenticated identity shared by the transport
// and REST clients. It is the single subscription point for token refreshes;
// components read it at use time instead of re-reading ambient storage.
package session

import "sync"

// Session is the current user identity plus bearer token. Safe for
// concurrent use.
type Session struct {
	mu       sync.RWMutex
	token    string
	userID   string
	userName string
}

// New creates a session for the given user. An empty token means the session
// is not (yet) valid and no connection will be opened.
func New(token, userID, userName string) *Session {
	return &Session{token: token, userID: userID, userName: userName}
}

// UpdateToken replaces the bearer token after a refresh. An empty token
// invalidates the session.
func (s *Session) UpdateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the local user's id.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// UserName returns the local user's display name.
func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

// Valid reports whether both a token and a user id are present. Connections
// are only opened, and reconnects only scheduled, while this holds.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.userID != ""
}
