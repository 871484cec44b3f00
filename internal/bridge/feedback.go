package bridge

import (
	"context"
	"fmt"

	"github.com/ssklabs/agentbridge/internal/convlog"
	"github.com/ssklabs/agentbridge/internal/domain"
)

// FeedbackOutcome classifies how a feedback tap was resolved.
type FeedbackOutcome string

const (
	// FeedbackIgnored means the tap carried no recognized feedback value.
	FeedbackIgnored FeedbackOutcome = "ignored"

	// FeedbackAcknowledged means a Like or Dislike was recorded and the
	// card was updated in place.
	FeedbackAcknowledged FeedbackOutcome = "acknowledged"

	// FeedbackRestarted means the tap rotated the user's session.
	FeedbackRestarted FeedbackOutcome = "restarted"
)

// HandleFeedback processes a tap on a feedback card. cardMessageID is the
// platform id of the card the user tapped. Taps referencing cards no
// longer in the pending cache are still processed, just without the
// original question and response attached.
func (c *Controller) HandleFeedback(ctx context.Context, conv Conversation, userID, cardMessageID string, value domain.FeedbackValue) (FeedbackOutcome, error) {
	if value == domain.FeedbackNone {
		return FeedbackIgnored, nil
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	session, err := c.loadOrInit(ctx, userID)
	if err != nil {
		return "", err
	}

	if value == domain.FeedbackRestart {
		return c.restartSession(ctx, conv, session, cardMessageID)
	}
	return c.acknowledgeFeedback(ctx, conv, session, cardMessageID, value)
}

// acknowledgeFeedback records a Like or Dislike and swaps the tapped card
// for its acknowledged form.
func (c *Controller) acknowledgeFeedback(ctx context.Context, conv Conversation, session *domain.UserSession, cardMessageID string, value domain.FeedbackValue) (FeedbackOutcome, error) {
	entry := session.FeedbackFor(cardMessageID)

	c.logger.Info("user feedback received",
		"user_id", session.UserID,
		"feedback", string(value),
		"question", entry.Question,
		"response", convlog.Sanitize(entry.Response))
	if c.clog != nil {
		c.clog.Log(convlog.Event{
			UserID:    session.UserID,
			Channel:   conv.Channel(),
			Direction: "inbound",
			EventType: "feedback",
			Question:  entry.Question,
			Content:   string(value),
			Meta:      map[string]any{"response": convlog.Sanitize(entry.Response)},
		})
	}

	newID, err := conv.UpdateMessage(ctx, cardMessageID, AcknowledgedCard(value))
	if err != nil {
		return "", fmt.Errorf("update feedback card: %w", err)
	}
	session.LastFeedbackCardID = newID
	if err := c.repo.UpsertUserSession(ctx, session); err != nil {
		return "", fmt.Errorf("persist feedback state: %w", err)
	}
	return FeedbackAcknowledged, nil
}

// restartSession rotates the user's remote session on an explicit tap,
// disables the tapped card, and announces the fresh session with a new
// card of its own.
func (c *Controller) restartSession(ctx context.Context, conv Conversation, session *domain.UserSession, cardMessageID string) (FeedbackOutcome, error) {
	activeID := ""
	sessions, err := c.remote.ListSessions(ctx, session.UserID)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) > 0 {
		activeID = sessions[len(sessions)-1].ID
	}

	if _, err := c.rotate(ctx, session, activeID); err != nil {
		return "", err
	}

	// The tapped card loses its actions; a failure here is cosmetic and
	// must not block the announcement of the already-rotated session.
	if _, err := conv.UpdateMessage(ctx, cardMessageID, DisabledCard()); err != nil {
		c.logger.Warn("failed to disable tapped feedback card",
			"user_id", session.UserID, "message_id", cardMessageID, "error", err)
	}

	if _, err := conv.SendText(ctx, RestartAnnouncementText); err != nil {
		return "", fmt.Errorf("send restart announcement: %w", err)
	}
	cardID, err := conv.SendCard(ctx, FeedbackCard())
	if err != nil {
		return "", fmt.Errorf("send feedback card: %w", err)
	}

	session.RegisterFeedback(cardID, "", RestartAnnouncementText, c.cacheSize)
	session.LastFeedbackCardID = cardID
	if err := c.repo.UpsertUserSession(ctx, session); err != nil {
		return "", fmt.Errorf("persist restarted session: %w", err)
	}

	c.logger.Info("session restarted by user", "user_id", session.UserID)
	if c.clog != nil {
		c.clog.Log(convlog.Event{
			UserID:    session.UserID,
			SessionID: session.RemoteSessionID,
			Channel:   conv.Channel(),
			Direction: "inbound",
			EventType: "restart",
		})
	}
	return FeedbackRestarted, nil
}
