package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/store"
)

// ackBatchSize keeps IN lists well below SQLite's bound parameter limit.
const ackBatchSize = 500

// changelogColumns is the ordered list of columns selected in changelog queries.
// Must match the scan order in scanChangelog.
const changelogColumns = `id, entity_type, record_id, change_kind, old_hash, new_hash,
	run_id, detected_at, processed, processed_at`

func scanChangelog(row scanner) (*domain.ChangelogEntry, error) {
	var e domain.ChangelogEntry

	var (
		oldHash     sql.NullString
		newHash     sql.NullString
		detectedAt  string
		processed   int
		processedAt sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.EntityType,
		&e.RecordID,
		&e.Kind,
		&oldHash,
		&newHash,
		&e.RunID,
		&detectedAt,
		&processed,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	e.OldHash = oldHash.String
	e.NewHash = newHash.String
	e.Processed = processed != 0
	if e.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	if e.ProcessedAt, err = parseNullableTime(processedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func insertChangelog(ctx context.Context, tx *sql.Tx, e *domain.ChangelogEntry) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO data_changelog
		(entity_type, record_id, change_kind, old_hash, new_hash, run_id, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.EntityType),
		e.RecordID,
		string(e.Kind),
		nullString(e.OldHash),
		nullString(e.NewHash),
		e.RunID,
		formatTime(e.DetectedAt),
	)
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

// PendingChanges returns unprocessed changelog entries, oldest first. An empty
// entityType returns entries of every type.
func (s *Store) PendingChanges(ctx context.Context, entityType domain.EntityType, limit int) ([]*domain.ChangelogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+changelogColumns+` FROM data_changelog
		WHERE processed = 0 AND (? = '' OR entity_type = ?)
		ORDER BY id
		LIMIT ?`,
		string(entityType), string(entityType), store.NormalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.ChangelogEntry, 0)
	for rows.Next() {
		e, err := scanChangelog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan changelog: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountPending returns the number of unprocessed entries.
func (s *Store) CountPending(ctx context.Context, entityType domain.EntityType) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_changelog
		WHERE processed = 0 AND (? = '' OR entity_type = ?)`,
		string(entityType), string(entityType),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// Acknowledge marks entries processed and returns how many changed state.
// Unknown and already acknowledged ids are ignored.
func (s *Store) Acknowledge(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	processedAt := formatTime(s.timestamp())
	total := 0
	for start := 0; start < len(ids); start += ackBatchSize {
		batch := ids[start:min(start+ackBatchSize, len(ids))]

		placeholders := strings.Repeat("?,", len(batch))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, 0, len(batch)+1)
		args = append(args, processedAt)
		for _, id := range batch {
			args = append(args, id)
		}

		res, err := s.db.ExecContext(ctx, `UPDATE data_changelog SET processed = 1, processed_at = ?
			WHERE processed = 0 AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return total, fmt.Errorf("acknowledge: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}
