package memory

import (
	"sync"

	"trivia-host/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Controller),
	}
}

func (s *SessionStore) Put(hostID string, c *app.Controller) (*app.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sessions[hostID]
	s.sessions[hostID] = c
	return prev, ok
}

func (s *SessionStore) Get(hostID string) (*app.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[hostID]
	return c, ok
}

func (s *SessionStore) DeleteIf(hostID string, c *app.Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[hostID] != c {
		return false
	}
	delete(s.sessions, hostID)
	return true
}
