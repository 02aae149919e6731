// Package session maps opaque session identifiers to backend continuation
// tokens for the lifetime of the host process.
package session

import "sync"

type key struct {
	backendID string
	sessionID string
}

// Store is the process-wide session table. Keys are partitioned by
// (backendID, sessionID), so a session created by one backend is invisible
// to every other backend. Construct one per host process and inject it.
type Store struct {
	mu     sync.Mutex
	tokens map[key]string
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{tokens: map[key]string{}}
}

// Resolve returns the continuation token recorded for the session, if any.
// Unknown sessions report no continuation; starting fresh is never an error.
func (s *Store) Resolve(backendID, sessionID string) (string, bool) {
	if s == nil || backendID == "" || sessionID == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[key{backendID: backendID, sessionID: sessionID}]
	return token, ok
}

// Record stores the latest continuation token for the session. The write is
// atomic per key; concurrent callers never observe a torn value.
func (s *Store) Record(backendID, sessionID, token string) {
	if s == nil || backendID == "" || sessionID == "" || token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key{backendID: backendID, sessionID: sessionID}] = token
}

// Clear removes one session mapping. This is an administrative operation,
// never part of the invocation path.
func (s *Store) Clear(backendID, sessionID string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{backendID: backendID, sessionID: sessionID}
	_, ok := s.tokens[k]
	delete(s.tokens, k)
	return ok
}

// Len reports the number of recorded sessions.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
