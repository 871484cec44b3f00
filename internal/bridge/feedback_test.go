package bridge

import (
	"context"
	"testing"

	"github.com/ssklabs/agentbridge/internal/domain"
)

func TestHandleFeedbackLikeAcknowledgesCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl, repo, _ := newTestController(t, Config{})
	conv := newFakeConversation()

	result, err := ctrl.RouteMessage(ctx, conv, "user-1", "hello")
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}

	outcome, err := ctrl.HandleFeedback(ctx, conv, "user-1", result.CardID, domain.FeedbackLike)
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if outcome != FeedbackAcknowledged {
		t.Fatalf("expected acknowledged, got %q", outcome)
	}

	card, ok := conv.updates[result.CardID]
	if !ok {
		t.Fatalf("tapped card was not updated")
	}
	if len(card.Actions) != 1 || card.Actions[0].Value != string(domain.FeedbackRestart) {
		t.Errorf("acknowledged card should keep only restart, got %+v", card.Actions)
	}

	record, _ := repo.GetUserSession(ctx, "user-1")
	if record.LastFeedbackCardID != "upd-"+result.CardID {
		t.Errorf("expected updated card id tracked, got %q", record.LastFeedbackCardID)
	}
}

func TestHandleFeedbackUnknownCardStillAcknowledged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl, _, _ := newTestController(t, Config{})
	conv := newFakeConversation()

	outcome, err := ctrl.HandleFeedback(ctx, conv, "user-1", "never-seen", domain.FeedbackDislike)
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if outcome != FeedbackAcknowledged {
		t.Fatalf("expected acknowledged, got %q", outcome)
	}
	if _, ok := conv.updates["never-seen"]; !ok {
		t.Error("expected the referenced card to be updated anyway")
	}
}

func TestHandleFeedbackNoneIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl, _, _ := newTestController(t, Config{})
	conv := newFakeConversation()

	outcome, err := ctrl.HandleFeedback(ctx, conv, "user-1", "msg-1", domain.FeedbackNone)
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if outcome != FeedbackIgnored {
		t.Fatalf("expected ignored, got %q", outcome)
	}
	if len(conv.texts) != 0 || len(conv.updates) != 0 {
		t.Error("no messages should be sent for an ignored tap")
	}
}

func TestHandleFeedbackRestartRotatesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl, repo, fake := newTestController(t, Config{})
	conv := newFakeConversation()

	result, err := ctrl.RouteMessage(ctx, conv, "user-1", "hello")
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	before, _ := repo.GetUserSession(ctx, "user-1")
	oldSessionID := before.RemoteSessionID

	outcome, err := ctrl.HandleFeedback(ctx, conv, "user-1", result.CardID, domain.FeedbackRestart)
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if outcome != FeedbackRestarted {
		t.Fatalf("expected restarted, got %q", outcome)
	}

	if deleted := fake.DeletedSessions(); len(deleted) != 1 || deleted[0] != oldSessionID {
		t.Errorf("expected old remote session deleted, got %v", deleted)
	}

	card, ok := conv.updates[result.CardID]
	if !ok {
		t.Fatal("tapped card was not disabled")
	}
	if len(card.Actions) != 0 {
		t.Errorf("disabled card must carry no actions, got %+v", card.Actions)
	}

	if conv.lastText() != RestartAnnouncementText {
		t.Errorf("expected restart announcement, got %q", conv.lastText())
	}
	if len(conv.cards) != 2 {
		t.Fatalf("expected a fresh feedback card, got %d cards", len(conv.cards))
	}

	record, _ := repo.GetUserSession(ctx, "user-1")
	if record.MessageCount != 0 {
		t.Errorf("expected count reset, got %d", record.MessageCount)
	}
	if record.RemoteSessionID == oldSessionID || record.RemoteSessionID == "" {
		t.Errorf("expected fresh remote session, got %q", record.RemoteSessionID)
	}

	newCardID := conv.cardIDs[len(conv.cardIDs)-1]
	entry := record.FeedbackFor(newCardID)
	if entry.Question != "" || entry.Response != RestartAnnouncementText {
		t.Errorf("fresh card entry = %+v", entry)
	}
	if record.LastFeedbackCardID != newCardID {
		t.Errorf("expected fresh card tracked, got %q", record.LastFeedbackCardID)
	}
}

func TestHandleFeedbackRestartWithoutRemoteSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl, repo, fake := newTestController(t, Config{})
	conv := newFakeConversation()

	outcome, err := ctrl.HandleFeedback(ctx, conv, "user-1", "card-1", domain.FeedbackRestart)
	if err != nil {
		t.Fatalf("HandleFeedback: %v", err)
	}
	if outcome != FeedbackRestarted {
		t.Fatalf("expected restarted, got %q", outcome)
	}
	if deleted := fake.DeletedSessions(); len(deleted) != 0 {
		t.Errorf("nothing to delete, got %v", deleted)
	}
	record, _ := repo.GetUserSession(ctx, "user-1")
	if record.RemoteSessionID == "" {
		t.Error("expected a fresh remote session to be created")
	}
}
