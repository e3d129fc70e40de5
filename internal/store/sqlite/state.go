package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/store"
)

// stateColumns is the ordered list of columns selected in processing state
// queries. Must match the scan order in scanState.
const stateColumns = `entity_type, last_processed_at, last_source_ref, last_checksum, last_size,
	total_processed, status, error_message, updated_at`

func scanState(row scanner) (*domain.ProcessingState, error) {
	var st domain.ProcessingState

	var (
		lastProcessedAt sql.NullString
		lastSourceRef   sql.NullString
		lastChecksum    sql.NullString
		errorMessage    sql.NullString
		updatedAt       string
	)

	err := row.Scan(
		&st.EntityType,
		&lastProcessedAt,
		&lastSourceRef,
		&lastChecksum,
		&st.LastSize,
		&st.TotalProcessed,
		&st.Status,
		&errorMessage,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.LastSourceRef = lastSourceRef.String
	st.LastChecksum = lastChecksum.String
	st.ErrorMessage = errorMessage.String
	if st.LastProcessedAt, err = parseNullableTime(lastProcessedAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// loadState returns the stored processing state or a fresh idle one.
func loadState(ctx context.Context, tx *sql.Tx, entityType domain.EntityType) (*domain.ProcessingState, error) {
	st, err := scanState(tx.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM processing_state WHERE entity_type = ?`, string(entityType)))
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProcessingState{EntityType: entityType, Status: domain.StatusIdle}, nil
	}
	return st, err
}

func saveState(ctx context.Context, tx *sql.Tx, st *domain.ProcessingState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO processing_state (`+stateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type) DO UPDATE SET
			last_processed_at = excluded.last_processed_at,
			last_source_ref = excluded.last_source_ref,
			last_checksum = excluded.last_checksum,
			last_size = excluded.last_size,
			total_processed = excluded.total_processed,
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		string(st.EntityType),
		nullTimeString(st.LastProcessedAt),
		nullString(st.LastSourceRef),
		nullString(st.LastChecksum),
		st.LastSize,
		st.TotalProcessed,
		string(st.Status),
		nullString(st.ErrorMessage),
		formatTime(st.UpdatedAt),
	)
	return err
}

// GetProcessingState returns the summary for one entity type, or
// store.ErrNotFound if no run was ever started for it.
func (s *Store) GetProcessingState(ctx context.Context, entityType domain.EntityType) (*domain.ProcessingState, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM processing_state WHERE entity_type = ?`, string(entityType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get processing state %s: %w", entityType, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get processing state %s: %w", entityType, err)
	}
	return st, nil
}

// ListProcessingStates returns all entity type summaries ordered by type.
func (s *Store) ListProcessingStates(ctx context.Context) ([]*domain.ProcessingState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM processing_state ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("list processing states: %w", err)
	}
	defer rows.Close()

	states := make([]*domain.ProcessingState, 0)
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan processing state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
