package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/discsync/discsync-server/internal/domain"
)

// deletionBatchSize bounds how many tombstones one transaction writes.
const deletionBatchSize = 1000

// GetStoredHash returns the live fingerprint of a record. Tombstoned records
// report ok=false.
func (s *Store) GetStoredHash(ctx context.Context, entityType domain.EntityType, recordID string) (string, bool, error) {
	rec, err := s.GetRecordState(ctx, entityType, recordID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if rec.IsTombstoned() {
		return "", false, nil
	}
	return rec.Hash, true, nil
}

// GetRecordState returns the stored state of a record, tombstoned or not.
func (s *Store) GetRecordState(ctx context.Context, entityType domain.EntityType, recordID string) (*domain.RecordState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := buildRecordKey(entityType, recordID)
	defer releaseKey(key)

	var rec domain.RecordState
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", entityType, recordID, err)
	}
	return &rec, nil
}

// UpsertRecord classifies and stores one record in a single transaction. It
// returns the changelog entry written, or nil when the record is unchanged.
func (s *Store) UpsertRecord(ctx context.Context, entityType domain.EntityType, recordID, newHash, runID string) (*domain.ChangelogEntry, error) {
	if recordID == "" {
		return nil, ErrInvalidInput.WithMessage("record id is required")
	}

	key := buildRecordKey(entityType, recordID)
	defer releaseKey(key)

	var entry *domain.ChangelogEntry
	err := s.update(ctx, func(txn *badger.Txn) error {
		entry = nil

		var prev *domain.RecordState
		var stored domain.RecordState
		switch err := getJSON(txn, key, &stored); {
		case err == nil:
			prev = &stored
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		now := s.timestamp()
		obs := Observe(prev, entityType, recordID, newHash, now)
		if err := setJSON(txn, key, &obs.Next); err != nil {
			return err
		}

		kind, changed := obs.Classification.ChangeKind()
		if !changed {
			return nil
		}

		e, err := s.appendChangelog(txn, &domain.ChangelogEntry{
			EntityType: entityType,
			RecordID:   recordID,
			Kind:       kind,
			OldHash:    obs.OldHash,
			NewHash:    newHash,
			RunID:      runID,
			DetectedAt: now,
		})
		entry = e
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert record %s/%s: %w", entityType, recordID, err)
	}
	return entry, nil
}

// DetectDeletions tombstones every live record of entityType that the run did
// not see and that was last seen before the run started, writing one deleted
// changelog entry per record.
func (s *Store) DetectDeletions(ctx context.Context, entityType domain.EntityType, runID string, currentIDs domain.IDSet) (int, error) {
	if currentIDs == nil {
		currentIDs = domain.NewStringSet()
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("detect deletions: %w", err)
	}
	if run.EntityType != entityType {
		return 0, ErrInvalidInput.WithMessage(fmt.Sprintf("run %s processes %s, not %s", runID, run.EntityType, entityType))
	}

	candidates, err := s.deletionCandidates(entityType, run, currentIDs)
	if err != nil {
		return 0, fmt.Errorf("detect deletions: scan records: %w", err)
	}

	deleted := 0
	for start := 0; start < len(candidates); start += deletionBatchSize {
		end := min(start+deletionBatchSize, len(candidates))
		n, err := s.tombstoneBatch(ctx, entityType, run, currentIDs, candidates[start:end])
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("detect deletions: %w", err)
		}
	}

	if deleted > 0 {
		s.logger.Info("deletions detected",
			"entity_type", entityType,
			"run_id", runID,
			"deleted", deleted,
		)
	}
	return deleted, nil
}

func (s *Store) deletionCandidates(entityType domain.EntityType, run *domain.ProcessingRun, currentIDs domain.IDSet) ([]string, error) {
	var ids []string
	prefix := recordTypePrefix(entityType)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec domain.RecordState
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if IsDeletionCandidate(&rec, entityType, run.StartedAt, currentIDs) {
				ids = append(ids, rec.RecordID)
			}
		}
		return nil
	})
	return ids, err
}

// tombstoneBatch re-checks each candidate inside the write transaction so a
// record upserted since the scan is not flagged.
func (s *Store) tombstoneBatch(ctx context.Context, entityType domain.EntityType, run *domain.ProcessingRun, currentIDs domain.IDSet, ids []string) (int, error) {
	var count int
	err := s.update(ctx, func(txn *badger.Txn) error {
		count = 0
		now := s.timestamp()
		for _, recordID := range ids {
			key := []byte(recordPrefix + string(entityType) + ":" + recordID)

			var rec domain.RecordState
			if err := getJSON(txn, key, &rec); err != nil {
				return err
			}
			if !IsDeletionCandidate(&rec, entityType, run.StartedAt, currentIDs) {
				continue
			}

			if err := setJSON(txn, key, Tombstone(rec, now)); err != nil {
				return err
			}
			if _, err := s.appendChangelog(txn, &domain.ChangelogEntry{
				EntityType: entityType,
				RecordID:   recordID,
				Kind:       domain.ChangeDeleted,
				OldHash:    rec.Hash,
				RunID:      run.ID,
				DetectedAt: now,
			}); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
