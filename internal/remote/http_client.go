package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	errEngineNotReady = errors.New("agent engine not ready")
	errRequestFailed  = errors.New("agent engine request failed")
)

// HTTPClient talks to the agent engine's REST API. Responses to streamed
// queries arrive as newline-delimited JSON events.
type HTTPClient struct {
	base       string
	engineID   string
	httpc      *http.Client
	reqTimeout time.Duration
	logger     *slog.Logger
}

// HTTPClientConfig holds configuration for the agent engine client.
type HTTPClientConfig struct {
	BaseURL        string
	EngineID       string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:        getEnv("REMOTE_AGENT_BASE_URL", "http://localhost:8700"),
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewHTTPClient creates a client for the agent engine and probes its
// health endpoint so bad endpoints fail at startup rather than on the
// first user turn.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPClientConfig().BaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultHTTPClientConfig().ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultHTTPClientConfig().RequestTimeout
	}
	if cfg.EngineID == "" {
		return nil, fmt.Errorf("agent engine id is required")
	}

	c := &HTTPClient{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		engineID: cfg.EngineID,
		// No overall client timeout: streamed queries are long-lived.
		// Unary calls get per-request timeouts instead.
		httpc:      &http.Client{},
		reqTimeout: cfg.RequestTimeout,
		logger:     logger,
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := c.probe(probeCtx); err != nil {
		return nil, fmt.Errorf("agent engine at %s not ready: %w", cfg.BaseURL, err)
	}

	logger.Info("Connected to agent engine", "base_url", cfg.BaseURL, "engine_id", cfg.EngineID)
	return c, nil
}

func (c *HTTPClient) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer drainAndClose(resp.Body, c.logger)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", errEngineNotReady, resp.StatusCode)
	}
	return nil
}

// Close releases client resources.
func (c *HTTPClient) Close() {
	c.httpc.CloseIdleConnections()
}

func (c *HTTPClient) sessionsURL() string {
	return c.base + "/v1/engines/" + url.PathEscape(c.engineID) + "/sessions"
}

// wireSession is the service's session representation. lastUpdateTime is
// epoch seconds with a fractional part.
type wireSession struct {
	ID             string  `json:"id"`
	LastUpdateTime float64 `json:"lastUpdateTime"`
}

func (w wireSession) toSession() Session {
	sec := int64(w.LastUpdateTime)
	nsec := int64((w.LastUpdateTime - float64(sec)) * 1e9)
	return Session{
		ID:             w.ID,
		LastUpdateTime: time.Unix(sec, nsec),
	}
}

// ListSessions returns the user's sessions, most recent last.
func (c *HTTPClient) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	endpoint := c.sessionsURL() + "?userId=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list sessions request: %w", err)
	}

	var payload struct {
		Sessions []wireSession `json:"sessions"`
	}
	if err := c.doJSON(req, &payload); err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}

	sessions := make([]Session, 0, len(payload.Sessions))
	for _, w := range payload.Sessions {
		sessions = append(sessions, w.toSession())
	}
	return sessions, nil
}

// CreateSession creates a fresh session for the user.
func (c *HTTPClient) CreateSession(ctx context.Context, userID string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("marshal create session request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var created wireSession
	if err := c.doJSON(req, &created); err != nil {
		return nil, fmt.Errorf("create session for %s: %w", userID, err)
	}
	session := created.toSession()
	return &session, nil
}

// DeleteSession deletes a session belonging to the user.
func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID, userID string) error {
	endpoint := c.sessionsURL() + "/" + url.PathEscape(sessionID) + "?userId=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build delete session request: %w", err)
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// StreamQuery sends a message to a session and yields response events as
// they arrive on the wire.
func (c *HTTPClient) StreamQuery(ctx context.Context, userID, sessionID, message string) iter.Seq2[*StreamEvent, error] {
	return func(yield func(*StreamEvent, error) bool) {
		body, err := json.Marshal(map[string]string{
			"userId":  userID,
			"message": message,
		})
		if err != nil {
			yield(nil, fmt.Errorf("marshal stream query request: %w", err))
			return
		}

		endpoint := c.sessionsURL() + "/" + url.PathEscape(sessionID) + ":streamQuery"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("build stream query request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.httpc.Do(req)
		if err != nil {
			yield(nil, fmt.Errorf("stream query failed: %w", err))
			return
		}
		defer drainAndClose(resp.Body, c.logger)

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield(nil, fmt.Errorf("%w: stream status %d: %s", errRequestFailed, resp.StatusCode, strings.TrimSpace(string(snippet))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var event StreamEvent
			if err := json.Unmarshal(line, &event); err != nil {
				yield(nil, fmt.Errorf("decode stream event: %w", err))
				return
			}
			if !yield(&event, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read stream: %w", err))
		}
	}
}

// doJSON executes a unary request and decodes a JSON response into out
// when out is non-nil.
func (c *HTTPClient) doJSON(req *http.Request, out any) error {
	ctx, cancel := context.WithTimeout(req.Context(), c.reqTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp.Body, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", errRequestFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drainAndClose(body io.ReadCloser, logger *slog.Logger) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 1<<20)); err != nil {
		logger.Debug("failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		logger.Debug("failed to close response body", "error", err)
	}
}

// Helper function.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var _ ConversationClient = (*HTTPClient)(nil)
