// Package channel connects the bridge to the messaging platform: inbound
// webhook events with HMAC verification, the outbound REST client, and a
// WebSocket dev console for talking to the agent without a platform
// account.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ssklabs/agentbridge/internal/bridge"
	"github.com/ssklabs/agentbridge/internal/domain"
)

const maxWebhookBody = 1 << 20

// Dispatcher routes normalized inbound events. Implemented by
// bridge.Controller.
type Dispatcher interface {
	RouteMessage(ctx context.Context, conv bridge.Conversation, userID, question string) (*bridge.TurnResult, error)
	HandleFeedback(ctx context.Context, conv bridge.Conversation, userID, cardMessageID string, value domain.FeedbackValue) (bridge.FeedbackOutcome, error)
}

// ConversationFactory builds the outbound conversation for a user.
type ConversationFactory func(userID string) bridge.Conversation

// WebhookHandler receives platform webhook callbacks.
type WebhookHandler struct {
	dispatcher    Dispatcher
	conversations ConversationFactory
	secret        string
	logger        *slog.Logger
}

// NewWebhookHandler creates the webhook endpoint handler.
func NewWebhookHandler(d Dispatcher, conversations ConversationFactory, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		dispatcher:    d,
		conversations: conversations,
		secret:        secret,
		logger:        logger,
	}
}

// Platform wire format for webhook callbacks.
type webhookEnvelope struct {
	Events []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type     string         `json:"type"`
	Source   eventSource    `json:"source"`
	Message  *eventMessage  `json:"message,omitempty"`
	Feedback *eventFeedback `json:"feedback,omitempty"`
}

type eventSource struct {
	UserID string `json:"userId"`
}

type eventMessage struct {
	Text string `json:"text"`
}

type eventFeedback struct {
	MessageID string `json:"messageId"`
	Value     string `json:"value"`
}

// HandleEvents is the POST webhook callback. The raw body is verified
// against the channel signature before parsing. Events are processed in
// order; a failing event is logged and does not fail the callback, so
// the platform does not redeliver the whole batch.
func (h *WebhookHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, `{"error":"body too large or unreadable"}`, http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature verification failed", "ip", r.RemoteAddr)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	for _, raw := range envelope.Events {
		event, ok := normalizeEvent(raw)
		if !ok {
			h.logger.Debug("skipping unsupported webhook event", "type", raw.Type)
			continue
		}
		h.dispatch(r.Context(), event)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) dispatch(ctx context.Context, event domain.InboundEvent) {
	conv := h.conversations(event.UserID)
	switch event.Kind {
	case domain.EventMessage:
		if _, err := h.dispatcher.RouteMessage(ctx, conv, event.UserID, event.Text); err != nil {
			// The user already saw the apology for engine failures.
			level := slog.LevelError
			if errors.Is(err, bridge.ErrRemoteUnavailable) || errors.Is(err, bridge.ErrMalformedResponse) {
				level = slog.LevelWarn
			}
			h.logger.Log(ctx, level, "failed to route message", "user_id", event.UserID, "error", err)
		}
	case domain.EventFeedback:
		if _, err := h.dispatcher.HandleFeedback(ctx, conv, event.UserID, event.ReplyContextID, event.Feedback); err != nil {
			h.logger.Error("failed to handle feedback", "user_id", event.UserID, "error", err)
		}
	}
}

// normalizeEvent maps a platform event onto the transport-agnostic form.
func normalizeEvent(raw webhookEvent) (domain.InboundEvent, bool) {
	if raw.Source.UserID == "" {
		return domain.InboundEvent{}, false
	}
	switch raw.Type {
	case "message":
		if raw.Message == nil || raw.Message.Text == "" {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			Kind:   domain.EventMessage,
			UserID: raw.Source.UserID,
			Text:   raw.Message.Text,
		}, true
	case "feedback":
		if raw.Feedback == nil || raw.Feedback.MessageID == "" {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			Kind:           domain.EventFeedback,
			UserID:         raw.Source.UserID,
			ReplyContextID: raw.Feedback.MessageID,
			Feedback:       domain.ParseFeedbackValue(raw.Feedback.Value),
		}, true
	default:
		return domain.InboundEvent{}, false
	}
}

// HandleLiveness answers GET probes from the platform's endpoint checks.
func (h *WebhookHandler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"listening"}`))
}
