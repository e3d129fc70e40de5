package changes

import (
	"context"
	"log/slog"
	"time"

	"github.com/discsync/discsync-server/internal/domain"
)

// RunReaper fails runs that have been processing for too long.
type RunReaper interface {
	ReapStaleRuns(ctx context.Context, olderThan time.Duration) ([]*domain.ProcessingRun, error)
}

// ReapInterval is how often ReapStaleRunsEvery checks for stale runs given a timeout.
func ReapInterval(olderThan time.Duration) time.Duration {
	return max(olderThan/4, time.Minute)
}

// ReapStaleRunsEvery fails runs older than olderThan once at start and then on
// every tick of interval, until ctx is canceled.
func ReapStaleRunsEvery(ctx context.Context, r RunReaper, olderThan, interval time.Duration, log *slog.Logger) {
	reap := func() {
		runs, err := r.ReapStaleRuns(ctx, olderThan)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("Stale run reaping failed", "error", err)
			}
			return
		}
		for _, run := range runs {
			log.Warn("Stale run marked failed",
				"run_id", run.ID,
				"entity_type", run.EntityType,
				"started_at", run.StartedAt,
			)
		}
	}

	reap()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			reap()
		case <-ctx.Done():
			return
		}
	}
}
