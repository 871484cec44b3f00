package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssklabs/agentbridge/internal/domain"
)

func newTestSQLite(t *testing.T) Repository {
	t.Helper()

	repo, err := NewSQLite(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteUserSessionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestSQLite(t)

	session := domain.NewUserSession("user-1")
	session.RemoteSessionID = "sess-1"
	session.MessageCount = 3
	session.LastFeedbackCardID = "card-9"
	session.RegisterFeedback("card-9", "what is go", "a language", 0)

	if err := repo.UpsertUserSession(ctx, session); err != nil {
		t.Fatalf("UpsertUserSession failed: %v", err)
	}

	loaded, err := repo.GetUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserSession failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected session to be loaded")
	}
	if loaded.RemoteSessionID != "sess-1" {
		t.Errorf("unexpected remote session id: %q", loaded.RemoteSessionID)
	}
	if loaded.MessageCount != 3 {
		t.Errorf("unexpected message count: %d", loaded.MessageCount)
	}
	if loaded.LastFeedbackCardID != "card-9" {
		t.Errorf("unexpected card id: %q", loaded.LastFeedbackCardID)
	}
	entry := loaded.FeedbackFor("card-9")
	if entry.Question != "what is go" || entry.Response != "a language" {
		t.Errorf("pending feedback did not survive round trip: %+v", entry)
	}
}

func TestSQLiteGetUserSessionAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestSQLite(t)

	loaded, err := repo.GetUserSession(ctx, "never-seen")
	if err != nil {
		t.Fatalf("GetUserSession failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for never-seen user, got %+v", loaded)
	}
}

func TestSQLiteUpsertReplacesExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestSQLite(t)

	session := domain.NewUserSession("user-1")
	session.MessageCount = 1
	if err := repo.UpsertUserSession(ctx, session); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	session.MessageCount = 2
	session.RemoteSessionID = "sess-2"
	if err := repo.UpsertUserSession(ctx, session); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	loaded, err := repo.GetUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserSession failed: %v", err)
	}
	if loaded.MessageCount != 2 || loaded.RemoteSessionID != "sess-2" {
		t.Errorf("record not replaced: %+v", loaded)
	}
}

func TestSQLiteDeleteUserSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestSQLite(t)

	if err := repo.UpsertUserSession(ctx, domain.NewUserSession("user-1")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := repo.DeleteUserSession(ctx, "user-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	loaded, err := repo.GetUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserSession failed: %v", err)
	}
	if loaded != nil {
		t.Error("record should be gone after delete")
	}
}

func TestMemoryStoreMatchesRepositoryContract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemory()

	loaded, err := repo.GetUserSession(ctx, "user-1")
	if err != nil || loaded != nil {
		t.Fatalf("expected (nil, nil) for absent record, got (%+v, %v)", loaded, err)
	}

	session := domain.NewUserSession("user-1")
	session.RegisterFeedback("c1", "q", "r", 0)
	if err := repo.UpsertUserSession(ctx, session); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	first, err := repo.GetUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	first.MessageCount = 99
	first.PendingFeedback["c2"] = domain.PendingFeedback{Question: "x"}

	second, err := repo.GetUserSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if second.MessageCount == 99 {
		t.Error("store should return independent copies")
	}
	if _, ok := second.PendingFeedback["c2"]; ok {
		t.Error("pending feedback map should not be shared with callers")
	}
}

func TestCleanupStaleSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemory()

	old := domain.NewUserSession("old-user")
	if err := repo.UpsertUserSession(ctx, old); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	// Backdate the stored record.
	repo.mu.Lock()
	repo.sessions["old-user"].UpdatedAt = time.Now().Add(-48 * time.Hour)
	repo.mu.Unlock()

	fresh := domain.NewUserSession("fresh-user")
	if err := repo.UpsertUserSession(ctx, fresh); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	deleted, err := repo.CleanupStaleSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected exactly one stale record deleted, got %d", deleted)
	}

	if s, _ := repo.GetUserSession(ctx, "old-user"); s != nil {
		t.Error("stale record should be deleted")
	}
	if s, _ := repo.GetUserSession(ctx, "fresh-user"); s == nil {
		t.Error("fresh record should survive cleanup")
	}
}
