package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/id"
)

// StartRun creates a new run in processing status and moves the entity type's
// processing state to processing. Earlier unfinished runs are left untouched.
func (s *Store) StartRun(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata) (*domain.ProcessingRun, error) {
	if entityType == "" {
		return nil, ErrInvalidInput.WithMessage("entity type is required")
	}

	runID, err := id.NewRunID()
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	run := &domain.ProcessingRun{
		ID:         runID,
		EntityType: entityType,
		Metadata:   meta,
		StartedAt:  now,
		Status:     domain.StatusProcessing,
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, runKey(run.ID), run); err != nil {
			return err
		}

		state, err := loadState(txn, entityType)
		if err != nil {
			return err
		}
		state.Status = domain.StatusProcessing
		state.ErrorMessage = ""
		state.UpdatedAt = now
		return setJSON(txn, stateKey(entityType), state)
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	s.logger.Debug("run started", "run_id", run.ID, "entity_type", entityType)
	return run, nil
}

// CompleteRun moves a processing run to completed, or to failed when errMsg is
// set, and folds its counters into the entity type's processing state.
func (s *Store) CompleteRun(ctx context.Context, runID string, counts domain.RunCounts, errMsg string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var run domain.ProcessingRun
		if err := getJSON(txn, runKey(runID), &run); err != nil {
			return err
		}
		if !run.IsActive() {
			return ErrRunNotActive.WithMessage(fmt.Sprintf("run %s is %s", runID, run.Status))
		}

		now := s.timestamp()
		FinishRun(&run, counts, errMsg, now)
		if err := setJSON(txn, runKey(runID), &run); err != nil {
			return err
		}

		state, err := loadState(txn, run.EntityType)
		if err != nil {
			return err
		}
		ApplyRunToState(state, &run, now)
		return setJSON(txn, stateKey(run.EntityType), state)
	})
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.ProcessingRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run domain.ProcessingRun
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, runKey(runID), &run)
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*domain.ProcessingRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runs, err := s.scanRuns(func(r *domain.ProcessingRun) bool {
		if filter.EntityType != "" && r.EntityType != filter.EntityType {
			return false
		}
		return filter.Status == "" || r.Status == filter.Status
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit := NormalizeLimit(filter.Limit); len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ReapStaleRuns fails every processing run started more than olderThan ago.
// It is only ever invoked by an operator or an explicitly enabled job.
func (s *Store) ReapStaleRuns(ctx context.Context, olderThan time.Duration) ([]*domain.ProcessingRun, error) {
	if olderThan <= 0 {
		return nil, ErrInvalidInput.WithMessage("older_than must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cutoff := s.timestamp().Add(-olderThan)
	stale, err := s.scanRuns(func(r *domain.ProcessingRun) bool {
		return r.IsActive() && r.StartedAt.Before(cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("reap stale runs: %w", err)
	}

	reaped := make([]*domain.ProcessingRun, 0, len(stale))
	msg := StaleRunMessage(olderThan)
	for _, run := range stale {
		err := s.CompleteRun(ctx, run.ID, run.Counts, msg)
		if errors.Is(err, ErrRunNotActive) {
			// Finished between the scan and now.
			continue
		}
		if err != nil {
			return reaped, err
		}

		done, err := s.GetRun(ctx, run.ID)
		if err != nil {
			return reaped, err
		}
		reaped = append(reaped, done)
		s.logger.Warn("reaped stale run",
			"run_id", run.ID,
			"entity_type", run.EntityType,
			"started_at", run.StartedAt,
		)
	}
	return reaped, nil
}

func (s *Store) scanRuns(match func(*domain.ProcessingRun) bool) ([]*domain.ProcessingRun, error) {
	var runs []*domain.ProcessingRun
	prefix := []byte(runPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			run := new(domain.ProcessingRun)
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, run)
			}); err != nil {
				return err
			}
			if match(run) {
				runs = append(runs, run)
			}
		}
		return nil
	})
	return runs, err
}

// FinishRun applies terminal status and counters to a run.
func FinishRun(run *domain.ProcessingRun, counts domain.RunCounts, errMsg string, now time.Time) {
	run.CompletedAt = &now
	run.Counts = counts
	run.ErrorMessage = errMsg
	if errMsg != "" {
		run.Status = domain.StatusFailed
	} else {
		run.Status = domain.StatusCompleted
	}
}

// ApplyRunToState folds a finished run into the entity type summary. Source
// details only advance on success so an unchanged dump is re-ingested after a
// failure.
func ApplyRunToState(state *domain.ProcessingState, run *domain.ProcessingRun, now time.Time) {
	state.Status = run.Status
	state.ErrorMessage = run.ErrorMessage
	state.TotalProcessed += run.Counts.Processed
	state.UpdatedAt = now
	if run.Status == domain.StatusCompleted {
		state.LastProcessedAt = &now
		state.LastSourceRef = run.Metadata.SourceRef
		state.LastChecksum = run.Metadata.Checksum
		state.LastSize = run.Metadata.Size
	}
}

// StaleRunMessage is the error recorded on reaped runs.
func StaleRunMessage(olderThan time.Duration) string {
	return fmt.Sprintf("abandoned: not completed within %s", olderThan)
}
