// Package store defines the persistence boundary for change detection and
// provides the Badger-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/discsync/discsync-server/internal/domain"
)

// StateStore persists processing state, per-record fingerprints, and the
// changelog outbox. Implementations must make UpsertRecord and DetectDeletions
// atomic per call and safe for concurrent callers on distinct record ids.
type StateStore interface {
	// Runs
	StartRun(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata) (*domain.ProcessingRun, error)
	CompleteRun(ctx context.Context, runID string, counts domain.RunCounts, errMsg string) error
	GetRun(ctx context.Context, runID string) (*domain.ProcessingRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.ProcessingRun, error)
	ReapStaleRuns(ctx context.Context, olderThan time.Duration) ([]*domain.ProcessingRun, error)

	// Records
	GetStoredHash(ctx context.Context, entityType domain.EntityType, recordID string) (string, bool, error)
	UpsertRecord(ctx context.Context, entityType domain.EntityType, recordID, newHash, runID string) (*domain.ChangelogEntry, error)
	DetectDeletions(ctx context.Context, entityType domain.EntityType, runID string, currentIDs domain.IDSet) (int, error)
	GetRecordState(ctx context.Context, entityType domain.EntityType, recordID string) (*domain.RecordState, error)

	// Changelog outbox
	PendingChanges(ctx context.Context, entityType domain.EntityType, limit int) ([]*domain.ChangelogEntry, error)
	Acknowledge(ctx context.Context, ids []int64) (int, error)
	CountPending(ctx context.Context, entityType domain.EntityType) (int, error)

	// Processing state
	GetProcessingState(ctx context.Context, entityType domain.EntityType) (*domain.ProcessingState, error)
	ListProcessingStates(ctx context.Context) ([]*domain.ProcessingState, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// RunFilter narrows ListRuns. Zero values mean no restriction.
type RunFilter struct {
	EntityType domain.EntityType
	Status     domain.ProcessingStatus
	Limit      int
}

// Limits for list operations.
const (
	DefaultLimit = 100
	MaxLimit     = 10000
)

// NormalizeLimit clamps a caller-supplied limit into [1, MaxLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
