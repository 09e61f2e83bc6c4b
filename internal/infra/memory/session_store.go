package memory

import (
	"sync"

	"psychoprep-engine/internal/app"
)

// SessionStore is the in-process registry of live sessions. Sessions hold
// running timers and cannot be serialized, so even multi-node deployments
// keep the live machine here and route by session id.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.TestSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*app.TestSession)}
}

func (s *SessionStore) Put(ts *app.TestSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ts.ID] = ts
}

func (s *SessionStore) Get(id string) (*app.TestSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.sessions[id]
	return ts, ok
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of live sessions, for health endpoints and tests.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
