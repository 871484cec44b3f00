package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ssklabs/agentbridge/internal/bridge"
	"github.com/ssklabs/agentbridge/internal/domain"
)

// Client talks to the messaging platform's REST API with a bearer token.
type Client struct {
	base   string
	token  string
	httpc  *http.Client
	logger *slog.Logger
}

// NewClient creates a platform API client. base is the API root, token
// the channel access token.
func NewClient(base, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		token:  token,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// ConversationFor returns the outbound side of one user's conversation,
// suitable for handing to the bridge.
func (c *Client) ConversationFor(conversationID string) bridge.Conversation {
	return &apiConversation{client: c, conversationID: conversationID}
}

// outboundMessage is the platform wire format for sends and updates.
// Exactly one of Text or Card is set.
type outboundMessage struct {
	Text string       `json:"text,omitempty"`
	Card *domain.Card `json:"card,omitempty"`
}

type messageResponse struct {
	MessageID string `json:"messageId"`
}

type apiConversation struct {
	client         *Client
	conversationID string
}

func (c *apiConversation) Channel() string { return "webhook" }

func (c *apiConversation) SendText(ctx context.Context, text string) (string, error) {
	return c.client.postMessage(ctx, c.conversationID, outboundMessage{Text: text})
}

func (c *apiConversation) SendCard(ctx context.Context, card domain.Card) (string, error) {
	return c.client.postMessage(ctx, c.conversationID, outboundMessage{Card: &card})
}

func (c *apiConversation) UpdateMessage(ctx context.Context, messageID string, card domain.Card) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages/%s",
		c.client.base, url.PathEscape(c.conversationID), url.PathEscape(messageID))
	return c.client.send(ctx, http.MethodPut, endpoint, outboundMessage{Card: &card})
}

func (c *Client) postMessage(ctx context.Context, conversationID string, msg outboundMessage) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages", c.base, url.PathEscape(conversationID))
	return c.send(ctx, http.MethodPost, endpoint, msg)
}

func (c *Client) send(ctx context.Context, method, endpoint string, msg outboundMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal outbound message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, snippet)
	}

	var parsed messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode message response: %w", err)
	}
	if parsed.MessageID == "" {
		return "", fmt.Errorf("%s %s: response missing messageId", method, endpoint)
	}
	return parsed.MessageID, nil
}
