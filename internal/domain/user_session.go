// Package domain contains core domain types for the agent bridge.
package domain

import (
	"time"
)

// PendingFeedback caches the question/response pair of an answered turn
// that is still awaiting a feedback reaction.
type PendingFeedback struct {
	Question  string `json:"question"`
	Response  string `json:"response"`
	CreatedAt int64  `json:"created_at"`
}

// UserSession is the per-user state record tracked by the bridge.
// It is lazily created on first contact and never explicitly destroyed;
// staleness is handled by rotating the remote session, not by deleting
// the record.
type UserSession struct {
	UserID             string                     `json:"user_id"`
	RemoteSessionID    string                     `json:"remote_session_id,omitempty"`
	MessageCount       int                        `json:"message_count"`
	PendingFeedback    map[string]PendingFeedback `json:"pending_feedback"`
	LastFeedbackCardID string                     `json:"last_feedback_card_id,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// NewUserSession returns a default-initialized record for a first-contact user.
func NewUserSession(userID string) *UserSession {
	now := time.Now()
	return &UserSession{
		UserID:          userID,
		PendingFeedback: make(map[string]PendingFeedback),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// RegisterFeedback records an answered turn under the feedback card's
// message id. When the cache exceeds limit entries, the oldest entries
// are evicted.
func (s *UserSession) RegisterFeedback(messageID, question, response string, limit int) {
	if s.PendingFeedback == nil {
		s.PendingFeedback = make(map[string]PendingFeedback)
	}
	s.PendingFeedback[messageID] = PendingFeedback{
		Question:  question,
		Response:  response,
		CreatedAt: time.Now().UnixNano(),
	}
	if limit <= 0 {
		return
	}
	for len(s.PendingFeedback) > limit {
		oldestID := ""
		oldestAt := int64(0)
		for id, entry := range s.PendingFeedback {
			if oldestID == "" || entry.CreatedAt < oldestAt {
				oldestID = id
				oldestAt = entry.CreatedAt
			}
		}
		delete(s.PendingFeedback, oldestID)
	}
}

// FeedbackFor returns the cached question/response pair for a message id.
// Absent entries degrade to empty strings rather than failing.
func (s *UserSession) FeedbackFor(messageID string) PendingFeedback {
	if s.PendingFeedback == nil {
		return PendingFeedback{}
	}
	return s.PendingFeedback[messageID]
}

// ResetForRotation applies the local side of a session rotation: the
// message counter restarts from zero and the feedback cache is cleared
// wholesale.
func (s *UserSession) ResetForRotation(remoteSessionID string) {
	s.RemoteSessionID = remoteSessionID
	s.MessageCount = 0
	s.PendingFeedback = make(map[string]PendingFeedback)
}
