package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"trivia-host/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Controllers live in a local map; a session's state is only ever written
//     by the host process that owns it.
//   - Redis holds a liveness marker per host so other instances can tell that
//     a host already has a live session.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Controller
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Controller),
	}
}

func (s *SessionStore) Put(hostID string, c *app.Controller) (*app.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sessions[hostID]
	s.sessions[hostID] = c
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(hostID), c.Config().SessionName, s.ttl).Err()
	return prev, ok
}

func (s *SessionStore) Get(hostID string) (*app.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[hostID]
	if ok {
		_ = s.client.Expire(context.Background(), s.key(hostID), s.ttl).Err()
	}
	return c, ok
}

func (s *SessionStore) DeleteIf(hostID string, c *app.Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[hostID] != c {
		return false
	}
	delete(s.sessions, hostID)
	_ = s.client.Del(context.Background(), s.key(hostID)).Err()
	return true
}

// Live reports whether any instance has marked hostID as running a session.
func (s *SessionStore) Live(ctx context.Context, hostID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(hostID)).Result()
	return n > 0, err
}

func (s *SessionStore) key(hostID string) string {
	return "trivia:session:" + hostID
}
