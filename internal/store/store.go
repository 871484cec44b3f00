// Package store provides persistence for per-user bridge session state.
package store

import (
	"context"
	"time"

	"github.com/ssklabs/agentbridge/internal/domain"
)

// Repository defines the interface for persisting UserSession records.
//
// Read-modify-write sequences on a single user's record are not atomic at
// this layer; callers must hold the per-user lock for the whole sequence.
type Repository interface {
	// GetUserSession retrieves the record for a user.
	// Returns (nil, nil) when the user has never been seen.
	GetUserSession(ctx context.Context, userID string) (*domain.UserSession, error)

	// UpsertUserSession creates or replaces a user's record.
	UpsertUserSession(ctx context.Context, session *domain.UserSession) error

	// DeleteUserSession removes a user's record.
	DeleteUserSession(ctx context.Context, userID string) error

	// CleanupStaleSessions removes records not updated within retention.
	// This is storage hygiene only; session lifecycle is handled by
	// rotation, not record deletion.
	CleanupStaleSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the backing store.
	Close() error
}
