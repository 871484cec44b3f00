// Package bridge routes user chat traffic between a messaging channel and
// a remote conversational agent engine. It owns per-user session state:
// which remote session a user talks to, how many messages it has carried,
// and which feedback cards are still pending a tap.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssklabs/agentbridge/internal/convlog"
	"github.com/ssklabs/agentbridge/internal/domain"
	"github.com/ssklabs/agentbridge/internal/remote"
	"github.com/ssklabs/agentbridge/internal/store"
)

// Conversation is the outbound side of one user conversation, supplied by
// the transport handling the turn. Implementations return the platform
// message id of whatever they delivered.
type Conversation interface {
	// Channel names the transport for logging ("webhook", "console").
	Channel() string

	// SendText delivers a plain text message to the user.
	SendText(ctx context.Context, text string) (string, error)

	// SendCard delivers an interactive card to the user.
	SendCard(ctx context.Context, card domain.Card) (string, error)

	// UpdateMessage replaces a previously delivered message in place and
	// returns the id the updated message is addressable by.
	UpdateMessage(ctx context.Context, messageID string, card domain.Card) (string, error)
}

// TurnLogger receives conversation events for offline analysis.
type TurnLogger interface {
	Log(event convlog.Event)
}

// OutcomeKind classifies how a routed message was resolved.
type OutcomeKind string

const (
	// OutcomeReply means the agent answered and the reply was delivered.
	OutcomeReply OutcomeKind = "reply"

	// OutcomeRotated means the turn was consumed by a quota rotation and
	// the question was never forwarded to the agent.
	OutcomeRotated OutcomeKind = "rotated"
)

// TurnResult reports what a RouteMessage call did.
type TurnResult struct {
	Kind    OutcomeKind
	Reply   string
	CardID  string
	Rotated bool
}

// Config carries the session policy knobs.
type Config struct {
	// SessionMaxAge is how stale a remote session may be before the next
	// turn rotates it. Sessions exactly this old are still usable.
	SessionMaxAge time.Duration

	// SessionQuota is the number of messages a session may carry. A turn
	// arriving at the quota rotates the session and drops the question.
	SessionQuota int

	// FeedbackCacheSize bounds the pending feedback entries kept per user.
	FeedbackCacheSize int
}

// Controller implements the session lifecycle and routing policy.
type Controller struct {
	repo   store.Repository
	remote remote.ConversationClient
	clog   TurnLogger
	logger *slog.Logger
	locks  *userLocks

	maxAge    time.Duration
	quota     int
	cacheSize int

	now func() time.Time
}

// New creates a Controller. turnLog may be nil to disable conversation
// logging.
func New(repo store.Repository, client remote.ConversationClient, turnLog TurnLogger, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = 24 * time.Hour
	}
	if cfg.SessionQuota <= 0 {
		cfg.SessionQuota = 10
	}
	if cfg.FeedbackCacheSize <= 0 {
		cfg.FeedbackCacheSize = 20
	}
	return &Controller{
		repo:      repo,
		remote:    client,
		clog:      turnLog,
		logger:    logger,
		locks:     newUserLocks(),
		maxAge:    cfg.SessionMaxAge,
		quota:     cfg.SessionQuota,
		cacheSize: cfg.FeedbackCacheSize,
		now:       time.Now,
	}
}

// RouteMessage handles one user question end to end: resolve the active
// remote session, apply the staleness and quota policies, forward the
// question, deliver the reply with its feedback card, and persist the
// updated session record. Turns for the same user are serialized.
func (c *Controller) RouteMessage(ctx context.Context, conv Conversation, userID, question string) (*TurnResult, error) {
	unlock := c.locks.lock(userID)
	defer unlock()

	session, err := c.loadOrInit(ctx, userID)
	if err != nil {
		return nil, err
	}

	active, err := c.ensureActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve active session: %w", err)
	}

	rotated := false
	if c.now().Sub(active.LastUpdateTime) > c.maxAge {
		c.logger.Info("rotating stale session",
			"user_id", userID, "session_id", active.ID,
			"last_update", active.LastUpdateTime)
		active, err = c.rotate(ctx, session, active.ID)
		if err != nil {
			return nil, err
		}
		rotated = true
	}

	if session.MessageCount >= c.quota {
		c.logger.Info("rotating session at message quota, dropping question",
			"user_id", userID, "session_id", active.ID,
			"message_count", session.MessageCount)
		if _, err := c.rotate(ctx, session, active.ID); err != nil {
			return nil, err
		}
		if _, err := conv.SendText(ctx, QuotaRotationText); err != nil {
			return nil, fmt.Errorf("send rotation notice: %w", err)
		}
		c.logTurn(conv, userID, "", "rotation_notice", question, QuotaRotationText)
		return &TurnResult{Kind: OutcomeRotated, Rotated: true}, nil
	}

	if session.RemoteSessionID != active.ID {
		session.RemoteSessionID = active.ID
	}

	result, err := c.forward(ctx, conv, session, active.ID, question)
	if err != nil {
		return nil, err
	}
	result.Rotated = result.Rotated || rotated
	return result, nil
}

// forward streams the question to the agent and delivers each content
// event as a reply plus feedback card.
func (c *Controller) forward(ctx context.Context, conv Conversation, session *domain.UserSession, sessionID, question string) (*TurnResult, error) {
	result := &TurnResult{Kind: OutcomeReply}
	gotContent := false

	for event, err := range c.remote.StreamQuery(ctx, session.UserID, sessionID, question) {
		if err != nil {
			return nil, c.apologize(ctx, conv, session.UserID, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err))
		}
		if event.Content == nil {
			remoteErr := event.Error
			if remoteErr == "" {
				remoteErr = "event without content"
			}
			return nil, c.apologize(ctx, conv, session.UserID, fmt.Errorf("%w: %s", ErrRemoteUnavailable, remoteErr))
		}

		text, err := ExtractReplyText(event)
		if err != nil {
			return nil, c.apologize(ctx, conv, session.UserID, err)
		}
		gotContent = true

		session.MessageCount++
		if err := c.repo.UpsertUserSession(ctx, session); err != nil {
			return nil, fmt.Errorf("persist message count: %w", err)
		}

		if _, err := conv.SendText(ctx, text); err != nil {
			return nil, fmt.Errorf("send reply: %w", err)
		}
		cardID, err := conv.SendCard(ctx, FeedbackCard())
		if err != nil {
			return nil, fmt.Errorf("send feedback card: %w", err)
		}

		session.RegisterFeedback(cardID, question, text, c.cacheSize)
		session.LastFeedbackCardID = cardID
		if err := c.repo.UpsertUserSession(ctx, session); err != nil {
			return nil, fmt.Errorf("persist feedback state: %w", err)
		}

		c.logger.Info("answered question",
			"user_id", session.UserID,
			"session_id", sessionID,
			"question", question,
			"answer", convlog.Sanitize(text))
		c.logTurn(conv, session.UserID, sessionID, "reply", question, text)
		result.Reply = text
		result.CardID = cardID
	}

	if !gotContent {
		return nil, c.apologize(ctx, conv, session.UserID, fmt.Errorf("%w: stream ended without content", ErrRemoteUnavailable))
	}
	return result, nil
}

// rotate discards the active remote session and starts a fresh one,
// resetting the user's counters. When the delete fails the rotation
// continues; a fresh session matters more than tearing down the old one.
func (c *Controller) rotate(ctx context.Context, session *domain.UserSession, activeID string) (*remote.Session, error) {
	if activeID != "" {
		if err := c.remote.DeleteSession(ctx, activeID, session.UserID); err != nil {
			c.logger.Warn("failed to delete remote session during rotation",
				"user_id", session.UserID, "session_id", activeID, "error", err)
		}
	}
	created, err := c.remote.CreateSession(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("create replacement session: %w", err)
	}
	session.ResetForRotation(created.ID)
	if err := c.repo.UpsertUserSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist rotated session: %w", err)
	}
	return created, nil
}

// ensureActiveSession lists the user's remote sessions, creating one when
// none exist. The most recently created session is listed last and is the
// active one.
func (c *Controller) ensureActiveSession(ctx context.Context, userID string) (*remote.Session, error) {
	sessions, err := c.remote.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		if _, err := c.remote.CreateSession(ctx, userID); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sessions, err = c.remote.ListSessions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("relist sessions: %w", err)
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("session created but not listed for user %s", userID)
		}
	}
	active := sessions[len(sessions)-1]
	return &active, nil
}

// loadOrInit fetches the user's session record, initializing and
// persisting a fresh one on first contact.
func (c *Controller) loadOrInit(ctx context.Context, userID string) (*domain.UserSession, error) {
	session, err := c.repo.GetUserSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user session: %w", err)
	}
	if session == nil {
		session = domain.NewUserSession(userID)
		if err := c.repo.UpsertUserSession(ctx, session); err != nil {
			return nil, fmt.Errorf("persist new user session: %w", err)
		}
	}
	return session, nil
}

// apologize tells the user the agent is down, then reports the underlying
// failure. A send failure at this point is logged, not returned; the
// original error is the one worth surfacing.
func (c *Controller) apologize(ctx context.Context, conv Conversation, userID string, cause error) error {
	c.logger.Error("agent engine failed to answer", "user_id", userID, "error", cause)
	if _, err := conv.SendText(ctx, ApologyText); err != nil {
		c.logger.Warn("failed to deliver apology", "user_id", userID, "error", err)
	}
	return cause
}

func (c *Controller) logTurn(conv Conversation, userID, sessionID, eventType, question, content string) {
	if c.clog == nil {
		return
	}
	c.clog.Log(convlog.Event{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   conv.Channel(),
		Direction: "outbound",
		EventType: eventType,
		Question:  question,
		Content:   content,
	})
}
