package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSessionNotFound is returned by Persister.Load when no record exists.
var ErrSessionNotFound = errors.New("session not found")

// Persister durably stores one record per session id.
type Persister interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, state *SessionState) error
}

// LoadOrCreate returns the stored state for sessionID, or a fresh state when
// none exists.
func LoadOrCreate(ctx context.Context, p Persister, sessionID string) (*SessionState, error) {
	if p == nil {
		return NewSessionState(sessionID), nil
	}
	state, err := p.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return NewSessionState(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return state, nil
}

// MemoryPersister keeps records in memory.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string]*SessionState
	saves   int
}

// NewMemoryPersister creates an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: make(map[string]*SessionState)}
}

func (m *MemoryPersister) Load(_ context.Context, sessionID string) (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryPersister) Save(_ context.Context, state *SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[state.Meta.SessionID] = state.Clone()
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
