package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// RunPeriodicCleanup removes expired records from store every interval until
// ctx is cancelled. It blocks and should run in its own goroutine.
func RunPeriodicCleanup(ctx context.Context, store *InMemoryStore, interval, expiry time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if deleted := store.DeleteOlderThan(expiry); deleted > 0 {
				logger.Info("cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
			}
		case <-ctx.Done():
			return
		}
	}
}
