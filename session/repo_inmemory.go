package session

import (
	"context"
	"sync"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a process-local Store. A restart loses the session.
type InMemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewInMemoryStore creates an empty in-memory token store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (m *InMemoryStore) Get(_ context.Context) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return Session{}, autherrors.ErrNoSession
	}
	return *m.session, nil
}

func (m *InMemoryStore) Set(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = &s
	return nil
}

func (m *InMemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	return nil
}
