package remote

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory ConversationClient for tests and for running the
// dev console without a live agent engine. By default every query is
// answered with a single content event echoing the message.
type Fake struct {
	mu       sync.Mutex
	sessions map[string][]Session // userID -> ordered sessions, most recent last
	deleted  []string

	// Reply builds the event stream for a query. Nil means echo.
	Reply func(userID, sessionID, message string) []*StreamEvent
	// Now supplies lastUpdateTime for created sessions.
	Now func() time.Time

	streamCalls []string
}

// NewFake creates an empty fake remote service.
func NewFake() *Fake {
	return &Fake{
		sessions: make(map[string][]Session),
		Now:      time.Now,
	}
}

// ListSessions returns the user's sessions, most recent last.
func (f *Fake) ListSessions(_ context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Session, len(f.sessions[userID]))
	copy(out, f.sessions[userID])
	return out, nil
}

// CreateSession appends a fresh session for the user.
func (f *Fake) CreateSession(_ context.Context, userID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := Session{
		ID:             uuid.NewString(),
		LastUpdateTime: f.Now(),
	}
	f.sessions[userID] = append(f.sessions[userID], session)
	return &session, nil
}

// DeleteSession removes a session belonging to the user.
func (f *Fake) DeleteSession(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.sessions[userID][:0]
	found := false
	for _, s := range f.sessions[userID] {
		if s.ID == sessionID {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return fmt.Errorf("session %s not found for user %s", sessionID, userID)
	}
	f.sessions[userID] = kept
	f.deleted = append(f.deleted, sessionID)
	return nil
}

// StreamQuery yields the scripted (or echoed) events for the message.
func (f *Fake) StreamQuery(_ context.Context, userID, sessionID, message string) iter.Seq2[*StreamEvent, error] {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, message)
	reply := f.Reply
	f.mu.Unlock()

	return func(yield func(*StreamEvent, error) bool) {
		var events []*StreamEvent
		if reply != nil {
			events = reply(userID, sessionID, message)
		} else {
			events = []*StreamEvent{{
				Content: &Content{Parts: []Part{{Text: "echo: " + message}}},
			}}
		}
		for _, event := range events {
			if !yield(event, nil) {
				return
			}
		}
	}
}

// Close is a no-op.
func (f *Fake) Close() {}

// SetSessionTime backdates a session's lastUpdateTime for staleness tests.
func (f *Fake) SetSessionTime(userID, sessionID string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sessions[userID] {
		if s.ID == sessionID {
			f.sessions[userID][i].LastUpdateTime = t
		}
	}
}

// DeletedSessions returns the ids of deleted sessions in deletion order.
func (f *Fake) DeletedSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

// StreamedMessages returns the messages passed to StreamQuery in order.
func (f *Fake) StreamedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.streamCalls))
	copy(out, f.streamCalls)
	return out
}

var _ ConversationClient = (*Fake)(nil)
