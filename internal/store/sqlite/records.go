package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/store"
)

// recordColumns is the ordered list of columns selected in record queries.
// Must match the scan order in scanRecord.
const recordColumns = `entity_type, record_id, record_hash, last_seen_at, last_modified_at, version, deleted_at`

func scanRecord(row scanner) (*domain.RecordState, error) {
	var r domain.RecordState

	var (
		lastSeenAt     string
		lastModifiedAt string
		deletedAt      sql.NullString
	)

	err := row.Scan(
		&r.EntityType,
		&r.RecordID,
		&r.Hash,
		&lastSeenAt,
		&lastModifiedAt,
		&r.Version,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if r.LastModifiedAt, err = parseTime(lastModifiedAt); err != nil {
		return nil, err
	}
	if r.DeletedAt, err = parseNullableTime(deletedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRecordState returns the stored state of a record, tombstoned or not.
func (s *Store) GetRecordState(ctx context.Context, entityType domain.EntityType, recordID string) (*domain.RecordState, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM record_processing_state WHERE entity_type = ? AND record_id = ?`,
		string(entityType), recordID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s/%s: %w", entityType, recordID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", entityType, recordID, err)
	}
	return rec, nil
}

// GetStoredHash returns the live fingerprint of a record. Tombstoned records
// report ok=false.
func (s *Store) GetStoredHash(ctx context.Context, entityType domain.EntityType, recordID string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_hash FROM record_processing_state
		WHERE entity_type = ? AND record_id = ? AND deleted_at IS NULL`,
		string(entityType), recordID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get stored hash %s/%s: %w", entityType, recordID, err)
	}
	return hash, true, nil
}

// UpsertRecord classifies and stores one record in a single transaction. It
// returns the changelog entry written, or nil when the record is unchanged.
func (s *Store) UpsertRecord(ctx context.Context, entityType domain.EntityType, recordID, newHash, runID string) (*domain.ChangelogEntry, error) {
	if recordID == "" {
		return nil, store.ErrInvalidInput.WithMessage("record id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()

	// Writing first takes the write lock before the read, so concurrent
	// upserts queue on busy_timeout instead of failing to upgrade.
	res, err := tx.ExecContext(ctx,
		`UPDATE record_processing_state SET last_seen_at = ? WHERE entity_type = ? AND record_id = ?`,
		formatTime(now), string(entityType), recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("touch record %s/%s: %w", entityType, recordID, err)
	}

	var prev *domain.RecordState
	if n, _ := res.RowsAffected(); n > 0 {
		prev, err = scanRecord(tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM record_processing_state WHERE entity_type = ? AND record_id = ?`,
			string(entityType), recordID,
		))
		if err != nil {
			return nil, fmt.Errorf("get record %s/%s: %w", entityType, recordID, err)
		}
	}

	obs := store.Observe(prev, entityType, recordID, newHash, now)
	if err := saveRecord(ctx, tx, &obs.Next); err != nil {
		return nil, fmt.Errorf("save record %s/%s: %w", entityType, recordID, err)
	}

	var entry *domain.ChangelogEntry
	if kind, changed := obs.Classification.ChangeKind(); changed {
		entry = &domain.ChangelogEntry{
			EntityType: entityType,
			RecordID:   recordID,
			Kind:       kind,
			OldHash:    obs.OldHash,
			NewHash:    newHash,
			RunID:      runID,
			DetectedAt: now,
		}
		if err := insertChangelog(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("append changelog %s/%s: %w", entityType, recordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return entry, nil
}

func saveRecord(ctx context.Context, tx *sql.Tx, r *domain.RecordState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO record_processing_state (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, record_id) DO UPDATE SET
			record_hash = excluded.record_hash,
			last_seen_at = excluded.last_seen_at,
			last_modified_at = excluded.last_modified_at,
			version = excluded.version,
			deleted_at = excluded.deleted_at`,
		string(r.EntityType),
		r.RecordID,
		r.Hash,
		formatTime(r.LastSeenAt),
		formatTime(r.LastModifiedAt),
		r.Version,
		nullTimeString(r.DeletedAt),
	)
	return err
}

// DetectDeletions tombstones every live record of entityType that the run did
// not see and that was last seen before the run started, writing one deleted
// changelog entry per record. The sweep is a single transaction.
func (s *Store) DetectDeletions(ctx context.Context, entityType domain.EntityType, runID string, currentIDs domain.IDSet) (int, error) {
	if currentIDs == nil {
		currentIDs = domain.NewStringSet()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Writing first takes the write lock before anything is read.
	res, err := tx.ExecContext(ctx, `UPDATE processing_runs SET status = status WHERE id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("detect deletions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("detect deletions: run %s: %w", runID, store.ErrNotFound)
	}

	var startedAt, runType string
	if err := tx.QueryRowContext(ctx, `SELECT started_at, entity_type FROM processing_runs WHERE id = ?`, runID).Scan(&startedAt, &runType); err != nil {
		return 0, fmt.Errorf("detect deletions: %w", err)
	}
	if domain.EntityType(runType) != entityType {
		return 0, store.ErrInvalidInput.WithMessage(fmt.Sprintf("run %s processes %s, not %s", runID, runType, entityType))
	}

	candidates, err := deletionCandidates(ctx, tx, entityType, startedAt, currentIDs)
	if err != nil {
		return 0, fmt.Errorf("detect deletions: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	now := s.timestamp()
	for _, rec := range candidates {
		next := store.Tombstone(*rec, now)
		if err := saveRecord(ctx, tx, &next); err != nil {
			return 0, fmt.Errorf("tombstone %s/%s: %w", entityType, rec.RecordID, err)
		}
		if err := insertChangelog(ctx, tx, &domain.ChangelogEntry{
			EntityType: entityType,
			RecordID:   rec.RecordID,
			Kind:       domain.ChangeDeleted,
			OldHash:    rec.Hash,
			RunID:      runID,
			DetectedAt: now,
		}); err != nil {
			return 0, fmt.Errorf("append changelog %s/%s: %w", entityType, rec.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deletions: %w", err)
	}

	s.logger.Info("deletions detected",
		"entity_type", entityType,
		"run_id", runID,
		"deleted", len(candidates),
	)
	return len(candidates), nil
}

// deletionCandidates reads live records last seen before the run started and
// keeps those absent from currentIDs. Rows are drained before any write.
func deletionCandidates(ctx context.Context, tx *sql.Tx, entityType domain.EntityType, startedAt string, currentIDs domain.IDSet) ([]*domain.RecordState, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM record_processing_state
		WHERE entity_type = ? AND deleted_at IS NULL AND last_seen_at < ?`,
		string(entityType), startedAt,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RecordState
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !currentIDs.Contains(rec.RecordID) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}
