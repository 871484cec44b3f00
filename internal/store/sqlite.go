package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ssklabs/agentbridge/internal/domain"
	"github.com/ssklabs/agentbridge/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS user_sessions (
		user_id TEXT PRIMARY KEY,
		remote_session_id TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		pending_feedback_json TEXT NOT NULL DEFAULT '{}',
		last_feedback_card_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_sessions_updated ON user_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserSession retrieves the session record for a user.
func (s *SQLiteStore) GetUserSession(ctx context.Context, userID string) (*domain.UserSession, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
		SELECT user_id, remote_session_id, message_count,
		       pending_feedback_json, last_feedback_card_id, created_at, updated_at
		FROM user_sessions WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var session domain.UserSession
	var pendingJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.UserID, &session.RemoteSessionID, &session.MessageCount,
		&pendingJSON, &session.LastFeedbackCardID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(pendingJSON), &session.PendingFeedback); err != nil {
		slog.Warn("failed to unmarshal pending feedback, starting empty",
			"user_id", userID, "error", err)
		session.PendingFeedback = make(map[string]domain.PendingFeedback)
	}
	if session.PendingFeedback == nil {
		session.PendingFeedback = make(map[string]domain.PendingFeedback)
	}

	return &session, nil
}

// UpsertUserSession creates or replaces a user's session record.
func (s *SQLiteStore) UpsertUserSession(ctx context.Context, session *domain.UserSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	pending := session.PendingFeedback
	if pending == nil {
		pending = make(map[string]domain.PendingFeedback)
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending feedback: %w", err)
	}

	query := `
		INSERT INTO user_sessions (
			user_id, remote_session_id, message_count,
			pending_feedback_json, last_feedback_card_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			remote_session_id = excluded.remote_session_id,
			message_count = excluded.message_count,
			pending_feedback_json = excluded.pending_feedback_json,
			last_feedback_card_id = excluded.last_feedback_card_id,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		session.UserID, session.RemoteSessionID, session.MessageCount,
		string(pendingJSON), session.LastFeedbackCardID,
		session.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user session: %w", err)
	}
	return nil
}

// DeleteUserSession removes a user's session record.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteUserSession(ctx context.Context, userID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteUserSessionOnce(ctx, userID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("DeleteUserSession failed with SQLITE_BUSY, retrying",
					"user_id", userID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("failed to delete user session for %s after %d attempts: %w", userID, maxRetries, err)
	}

	return nil
}

func (s *SQLiteStore) deleteUserSessionOnce(ctx context.Context, userID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `DELETE FROM user_sessions WHERE user_id = ?`
	_, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("delete user session: %w", err)
	}
	return nil
}

// CleanupStaleSessions removes records not updated within retention.
func (s *SQLiteStore) CleanupStaleSessions(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	query := `DELETE FROM user_sessions WHERE updated_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
