package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ssklabs/agentbridge/internal/domain"
	"github.com/ssklabs/agentbridge/internal/identity"
)

// ConsoleHandler serves the WebSocket dev console: a local stand-in for
// the messaging platform so the bridge can be exercised without channel
// credentials. Each connection is its own conversation.
type ConsoleHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewConsoleHandler creates the dev console handler.
func NewConsoleHandler(d Dispatcher, logger *slog.Logger) *ConsoleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleHandler{dispatcher: d, logger: logger}
}

// consoleInbound is a frame sent by the console client.
type consoleInbound struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Value     string `json:"value,omitempty"`
}

// consoleOutbound is a frame sent to the console client.
type consoleOutbound struct {
	Type     string       `json:"type"`
	ID       string       `json:"id,omitempty"`
	Replaces string       `json:"replaces,omitempty"`
	Text     string       `json:"text,omitempty"`
	Card     *domain.Card `json:"card,omitempty"`
}

// ServeHTTP upgrades the connection and pumps console frames through the
// dispatcher until the client goes away.
func (h *ConsoleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "identity required", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept console websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "console closed"); closeErr != nil {
			h.logger.Debug("failed to close console websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.logger.Info("console connected", "user_id", userID, "ip", r.RemoteAddr)

	conv := &consoleConversation{ws: ws, ctx: r.Context()}
	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || r.Context().Err() != nil {
				h.logger.Info("console disconnected", "user_id", userID)
			} else {
				h.logger.Warn("console read failed", "user_id", userID, "error", err)
			}
			return
		}

		var frame consoleInbound
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conv.writeFrame(consoleOutbound{Type: "error", Text: "malformed frame"})
			continue
		}
		h.handleFrame(r.Context(), conv, userID, frame)
	}
}

func (h *ConsoleHandler) handleFrame(ctx context.Context, conv *consoleConversation, userID string, frame consoleInbound) {
	switch frame.Type {
	case "message":
		if frame.Text == "" {
			_ = conv.writeFrame(consoleOutbound{Type: "error", Text: "empty message"})
			return
		}
		if _, err := h.dispatcher.RouteMessage(ctx, conv, userID, frame.Text); err != nil {
			h.logger.Warn("console message failed", "user_id", userID, "error", err)
		}
	case "feedback":
		if _, err := h.dispatcher.HandleFeedback(ctx, conv, userID, frame.MessageID, domain.ParseFeedbackValue(frame.Value)); err != nil {
			h.logger.Warn("console feedback failed", "user_id", userID, "error", err)
		}
	default:
		_ = conv.writeFrame(consoleOutbound{Type: "error", Text: "unknown frame type " + frame.Type})
	}
}

// consoleConversation delivers bridge output back over the same socket.
// Message ids are minted locally; the update frame carries both the old
// and new id so the client can swap cards in place.
type consoleConversation struct {
	ws  *websocket.Conn
	ctx context.Context

	writeMu sync.Mutex
}

func (c *consoleConversation) Channel() string { return "console" }

func (c *consoleConversation) SendText(_ context.Context, text string) (string, error) {
	id := uuid.NewString()
	if err := c.writeFrame(consoleOutbound{Type: "text", ID: id, Text: text}); err != nil {
		return "", err
	}
	return id, nil
}

func (c *consoleConversation) SendCard(_ context.Context, card domain.Card) (string, error) {
	id := uuid.NewString()
	if err := c.writeFrame(consoleOutbound{Type: "card", ID: id, Card: &card}); err != nil {
		return "", err
	}
	return id, nil
}

func (c *consoleConversation) UpdateMessage(_ context.Context, messageID string, card domain.Card) (string, error) {
	id := uuid.NewString()
	if err := c.writeFrame(consoleOutbound{Type: "update", ID: id, Replaces: messageID, Card: &card}); err != nil {
		return "", err
	}
	return id, nil
}

func (c *consoleConversation) writeFrame(frame consoleOutbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal console frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write console frame: %w", err)
	}
	return nil
}
