package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ssklabs/agentbridge/internal/domain"
)

// MemoryStore is an in-memory Repository for tests and local runs without
// a database file. Records are deep-copied on the way in and out so
// callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.UserSession
	closed   bool
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.UserSession),
	}
}

func copySession(s *domain.UserSession) (*domain.UserSession, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("copy user session: %w", err)
	}
	var out domain.UserSession
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copy user session: %w", err)
	}
	if out.PendingFeedback == nil {
		out.PendingFeedback = make(map[string]domain.PendingFeedback)
	}
	return &out, nil
}

// GetUserSession retrieves the session record for a user.
func (m *MemoryStore) GetUserSession(_ context.Context, userID string) (*domain.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return copySession(s)
}

// UpsertUserSession creates or replaces a user's session record.
func (m *MemoryStore) UpsertUserSession(_ context.Context, session *domain.UserSession) error {
	stored, err := copySession(session)
	if err != nil {
		return err
	}
	stored.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.UserID] = stored
	return nil
}

// DeleteUserSession removes a user's session record.
func (m *MemoryStore) DeleteUserSession(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// CleanupStaleSessions removes records not updated within retention.
func (m *MemoryStore) CleanupStaleSessions(_ context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(threshold) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping reports whether the store is usable.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Repository = (*MemoryStore)(nil)
