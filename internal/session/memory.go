package session

import (
	"context"
	"sync"
	"time"

	"tollfree-ivr/internal/calls"
)

// MemoryStore is a single-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]calls.Session

	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]calls.Session{}, Now: time.Now}
}

func (m *MemoryStore) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *MemoryStore) Get(_ context.Context, callID string) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return calls.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) GetOrCreate(_ context.Context, seed calls.Session) (calls.Session, bool, error) {
	if err := validateSeed(seed); err != nil {
		return calls.Session{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[seed.CallID]; ok {
		return s, false, nil
	}
	now := m.now().UTC()
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = now
	}
	seed.UpdatedAt = now
	m.sessions[seed.CallID] = seed
	return seed, true, nil
}

func (m *MemoryStore) Update(_ context.Context, callID string, fn Mutator) (calls.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[callID]
	if !ok {
		return calls.Session{}, ErrSessionNotFound
	}
	next, err := apply(cur, fn, m.now())
	if err != nil {
		return calls.Session{}, err
	}
	m.sessions[callID] = next
	return next, nil
}

func (m *MemoryStore) Terminate(ctx context.Context, callID string) error {
	_, err := m.Update(ctx, callID, terminate)
	return err
}

func (m *MemoryStore) ExpireOlderThan(_ context.Context, age time.Duration) ([]calls.Session, error) {
	cutoff := m.now().Add(-age)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.Session
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			out = append(out, s)
		}
	}
	return out, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
