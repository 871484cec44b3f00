package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ssklabs/agentbridge/internal/bridge"
	"github.com/ssklabs/agentbridge/internal/remote"
	"github.com/ssklabs/agentbridge/internal/store"
)

const testSecret = "webhook-secret"

// platformRecorder fakes the messaging platform API, recording every
// message it is asked to deliver or update.
type platformRecorder struct {
	mu      sync.Mutex
	nextID  int
	sent    []outboundMessage
	updates map[string]outboundMessage
}

func newPlatformRecorder() *platformRecorder {
	return &platformRecorder{updates: make(map[string]outboundMessage)}
}

func (p *platformRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations/{conv}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg outboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.nextID++
		id := fmt.Sprintf("pm-%d", p.nextID)
		p.sent = append(p.sent, msg)
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(messageResponse{MessageID: id})
	})
	mux.HandleFunc("PUT /v1/conversations/{conv}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		var msg outboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := r.PathValue("id")
		p.mu.Lock()
		p.updates[id] = msg
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(messageResponse{MessageID: "upd-" + id})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (p *platformRecorder) sentMessages() []outboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]outboundMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *platformRecorder, *store.MemoryStore, *remote.Fake) {
	t.Helper()
	platform := newPlatformRecorder()
	srv := platform.server(t)

	repo := store.NewMemory()
	fake := remote.NewFake()
	ctrl := bridge.New(repo, fake, nil, bridge.Config{}, nil)
	client := NewClient(srv.URL, "test-token", nil)
	handler := NewWebhookHandler(ctrl, func(userID string) bridge.Conversation {
		return client.ConversationFor(userID)
	}, testSecret, nil)
	return handler, platform, repo, fake
}

func postSigned(t *testing.T, handler *WebhookHandler, secret string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign(secret, body))
	rec := httptest.NewRecorder()
	handler.HandleEvents(rec, req)
	return rec
}

func TestWebhookMessageEventEndToEnd(t *testing.T) {
	t.Parallel()
	handler, platform, repo, _ := newWebhookFixture(t)

	rec := postSigned(t, handler, testSecret, webhookEnvelope{Events: []webhookEvent{{
		Type:    "message",
		Source:  eventSource{UserID: "U-1"},
		Message: &eventMessage{Text: "hello"},
	}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	sent := platform.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected reply + card, platform got %d messages", len(sent))
	}
	if sent[0].Text != "echo: hello" {
		t.Errorf("reply text %q", sent[0].Text)
	}
	if sent[1].Card == nil || len(sent[1].Card.Actions) != 3 {
		t.Errorf("second message should be a feedback card, got %+v", sent[1])
	}

	record, err := repo.GetUserSession(context.Background(), "U-1")
	if err != nil || record == nil {
		t.Fatalf("GetUserSession: record=%v err=%v", record, err)
	}
	if record.MessageCount != 1 {
		t.Errorf("message count %d, want 1", record.MessageCount)
	}
	// The card id minted by the platform is the pending feedback key.
	if entry := record.FeedbackFor("pm-2"); entry.Question != "hello" {
		t.Errorf("pending feedback entry = %+v", entry)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()
	handler, platform, _, fake := newWebhookFixture(t)

	rec := postSigned(t, handler, "wrong-secret", webhookEnvelope{Events: []webhookEvent{{
		Type:    "message",
		Source:  eventSource{UserID: "U-1"},
		Message: &eventMessage{Text: "hello"},
	}}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(platform.sentMessages()) != 0 {
		t.Error("no messages should be sent for a rejected callback")
	}
	if len(fake.StreamedMessages()) != 0 {
		t.Error("nothing should reach the agent for a rejected callback")
	}
}

func TestWebhookFeedbackLikeUpdatesCard(t *testing.T) {
	t.Parallel()
	handler, platform, _, _ := newWebhookFixture(t)

	postSigned(t, handler, testSecret, webhookEnvelope{Events: []webhookEvent{{
		Type:    "message",
		Source:  eventSource{UserID: "U-1"},
		Message: &eventMessage{Text: "hello"},
	}}})

	rec := postSigned(t, handler, testSecret, webhookEnvelope{Events: []webhookEvent{{
		Type:     "feedback",
		Source:   eventSource{UserID: "U-1"},
		Feedback: &eventFeedback{MessageID: "pm-2", Value: "Like"},
	}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	platform.mu.Lock()
	updated, ok := platform.updates["pm-2"]
	platform.mu.Unlock()
	if !ok {
		t.Fatal("expected the tapped card to be updated")
	}
	if updated.Card == nil || len(updated.Card.Actions) != 1 {
		t.Errorf("acknowledged card should keep only restart, got %+v", updated)
	}
}

func TestWebhookSkipsUnsupportedEvents(t *testing.T) {
	t.Parallel()
	handler, platform, _, _ := newWebhookFixture(t)

	rec := postSigned(t, handler, testSecret, webhookEnvelope{Events: []webhookEvent{
		{Type: "follow", Source: eventSource{UserID: "U-1"}},
		{Type: "message", Source: eventSource{UserID: ""}, Message: &eventMessage{Text: "no user"}},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(platform.sentMessages()) != 0 {
		t.Errorf("unsupported events must not produce messages, got %d", len(platform.sentMessages()))
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	t.Parallel()
	handler, _, _, _ := newWebhookFixture(t)

	body := []byte(`{"events":`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign(testSecret, body))
	rec := httptest.NewRecorder()
	handler.HandleEvents(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
