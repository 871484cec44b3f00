// Package remote wraps the remote conversational agent service. The bridge
// treats the service as opaque: sessions are resources to list, create and
// delete, and queries stream back events whose internals are never
// inspected beyond id, timestamp and response text.
package remote

import (
	"context"
	"iter"
	"time"
)

// Session identifies a remote conversation session. LastUpdateTime is
// server-reported and used only for staleness comparison; the bridge never
// writes it.
type Session struct {
	ID             string
	LastUpdateTime time.Time
}

// Part is one segment of a response payload.
type Part struct {
	Text string `json:"text"`
}

// Content is the response payload of a streamed event.
type Content struct {
	Parts []Part `json:"parts"`
}

// StreamEvent is one event of a streamed query response. An event without
// Content is treated as a remote-side failure for the turn.
type StreamEvent struct {
	Content *Content `json:"content,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ConversationClient is the capability contract over the remote agent
// service. The stream returned by StreamQuery is finite and not
// restartable mid-stream.
type ConversationClient interface {
	// ListSessions returns the user's sessions in the service's own
	// ordering; the most recently created session is the last element.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// CreateSession creates a fresh session for the user.
	CreateSession(ctx context.Context, userID string) (*Session, error)

	// DeleteSession deletes a session belonging to the user.
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// StreamQuery sends a message to a session and yields response events.
	StreamQuery(ctx context.Context, userID, sessionID, message string) iter.Seq2[*StreamEvent, error]

	// Close releases client resources.
	Close()
}
