package ucp

import (
	"context"
	"sync"

	"github.com/sumup/agentpay/reason"
)

// ErrSessionNotFound is returned for unknown session ids. It matches any
// *reason.Error carrying reason.UCPSessionNotFound under errors.Is.
var ErrSessionNotFound = reason.NewError(reason.UCPSessionNotFound, "")

// SessionStore persists checkout sessions. Update must apply fn atomically
// with respect to other updates of the same session.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// Range calls fn for a snapshot of every stored session id.
	Range(ctx context.Context, fn func(id string) bool) error
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore is an in-process [SessionStore].
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemorySessionStore builds an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Create implements [SessionStore].
func (m *MemorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return reason.Errorf(reason.UCPInvalidOperation, "checkout session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.clone()
	return nil
}

// Get implements [SessionStore].
func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// Update implements [SessionStore]. fn works on a copy; the stored session
// changes only when fn succeeds.
func (m *MemorySessionStore) Update(_ context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := s.clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	m.sessions[id] = cp
	return cp.clone(), nil
}

// Range implements [SessionStore].
func (m *MemorySessionStore) Range(ctx context.Context, fn func(id string) bool) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(id) {
			return nil
		}
	}
	return nil
}

// Delete implements [SessionStore].
func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len reports the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
