package store

import (
	"context"
	"log/slog"
	"time"
)

const cleanupWorkerInterval = 1 * time.Hour

// StartCleanupWorker runs a background goroutine that periodically prunes
// user session records not updated within retention. Pruning a record does
// not affect any remote session; the next message from that user simply
// re-materializes a default record.
func StartCleanupWorker(ctx context.Context, repo Repository, retention time.Duration) {
	ticker := time.NewTicker(cleanupWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session cleanup worker started",
			"interval", cleanupWorkerInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				deleted, err := repo.CleanupStaleSessions(ctx, retention)
				if err != nil {
					slog.Error("session cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("session cleanup removed stale records", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("session cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
