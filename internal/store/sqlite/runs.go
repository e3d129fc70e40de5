package sqlite

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/id"
	"github.com/discsync/discsync-server/internal/store"
)

// runColumns is the ordered list of columns selected in run queries.
// Must match the scan order in scanRun.
const runColumns = `id, entity_type, metadata, started_at, completed_at, status,
	records_processed, records_created, records_updated, records_deleted, error_message`

// scanRun scans a sql.Row (or sql.Rows via its Scan method) into a domain.ProcessingRun.
func scanRun(row scanner) (*domain.ProcessingRun, error) {
	var r domain.ProcessingRun

	var (
		metadata     string
		startedAt    string
		completedAt  sql.NullString
		errorMessage sql.NullString
	)

	err := row.Scan(
		&r.ID,
		&r.EntityType,
		&metadata,
		&startedAt,
		&completedAt,
		&r.Status,
		&r.Counts.Processed,
		&r.Counts.Created,
		&r.Counts.Updated,
		&r.Counts.Deleted,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode run metadata: %w", err)
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	r.ErrorMessage = errorMessage.String
	return &r, nil
}

// StartRun creates a new run in processing status and moves the entity type's
// processing state to processing. Earlier unfinished runs are left untouched.
func (s *Store) StartRun(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata) (*domain.ProcessingRun, error) {
	if entityType == "" {
		return nil, store.ErrInvalidInput.WithMessage("entity type is required")
	}

	runID, err := id.NewRunID()
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode run metadata: %w", err)
	}

	now := s.timestamp()
	run := &domain.ProcessingRun{
		ID:         runID,
		EntityType: entityType,
		Metadata:   meta,
		StartedAt:  now,
		Status:     domain.StatusProcessing,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO processing_runs (id, entity_type, metadata, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(entityType), string(metadata), formatTime(now), string(domain.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO processing_state (entity_type, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (entity_type) DO UPDATE SET
			status = excluded.status,
			error_message = NULL,
			updated_at = excluded.updated_at`,
		string(entityType), string(domain.StatusProcessing), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert processing state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start run: %w", err)
	}

	s.logger.Debug("run started", "run_id", run.ID, "entity_type", entityType)
	return run, nil
}

// CompleteRun moves a processing run to completed, or to failed when errMsg is
// set, and folds its counters into the entity type's processing state.
func (s *Store) CompleteRun(ctx context.Context, runID string, counts domain.RunCounts, errMsg string) error {
	now := s.timestamp()

	finished := &domain.ProcessingRun{}
	store.FinishRun(finished, counts, errMsg, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Writing first takes the write lock before anything is read.
	res, err := tx.ExecContext(ctx, `UPDATE processing_runs SET
			completed_at = ?, status = ?,
			records_processed = ?, records_created = ?, records_updated = ?, records_deleted = ?,
			error_message = ?
		WHERE id = ? AND status = ?`,
		formatTime(now), string(finished.Status),
		counts.Processed, counts.Created, counts.Updated, counts.Deleted,
		nullString(errMsg),
		runID, string(domain.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM processing_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("complete run %s: %w", runID,
			store.ErrRunNotActive.WithMessage(fmt.Sprintf("run %s is %s", runID, run.Status)))
	}

	state, err := loadState(ctx, tx, run.EntityType)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	store.ApplyRunToState(state, run, now)
	if err := saveState(ctx, tx, state); err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete run: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.ProcessingRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM processing_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*domain.ProcessingRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM processing_runs
		WHERE (? = '' OR entity_type = ?) AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`,
		string(filter.EntityType), string(filter.EntityType),
		string(filter.Status), string(filter.Status),
		store.NormalizeLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.ProcessingRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ReapStaleRuns fails every processing run started more than olderThan ago.
// It is only ever invoked by an operator or an explicitly enabled job.
func (s *Store) ReapStaleRuns(ctx context.Context, olderThan time.Duration) ([]*domain.ProcessingRun, error) {
	if olderThan <= 0 {
		return nil, store.ErrInvalidInput.WithMessage("older_than must be positive")
	}

	cutoff := s.timestamp().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM processing_runs
		WHERE status = ? AND started_at < ?
		ORDER BY started_at`,
		string(domain.StatusProcessing), formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("reap stale runs: %w", err)
	}
	var stale []*domain.ProcessingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		stale = append(stale, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reap stale runs: %w", err)
	}

	reaped := make([]*domain.ProcessingRun, 0, len(stale))
	msg := store.StaleRunMessage(olderThan)
	for _, run := range stale {
		err := s.CompleteRun(ctx, run.ID, run.Counts, msg)
		if errors.Is(err, store.ErrRunNotActive) {
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
