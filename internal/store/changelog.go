package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/discsync/discsync-server/internal/domain"
)

// appendChangelog assigns an id to entry and writes it with its pending index
// inside txn.
func (s *Store) appendChangelog(txn *badger.Txn, entry *domain.ChangelogEntry) (*domain.ChangelogEntry, error) {
	id, err := s.nextChangelogID()
	if err != nil {
		return nil, err
	}
	entry.ID = id

	if err := setJSON(txn, changelogKey(id), entry); err != nil {
		return nil, err
	}
	if err := txn.Set(pendingKey(id), []byte(entry.EntityType)); err != nil {
		return nil, err
	}
	return entry, nil
}

// PendingChanges returns unprocessed changelog entries, oldest first. An empty
// entityType returns entries of every type.
func (s *Store) PendingChanges(ctx context.Context, entityType domain.EntityType, limit int) ([]*domain.ChangelogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = NormalizeLimit(limit)

	entries := make([]*domain.ChangelogEntry, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return s.eachPending(txn, entityType, func(id int64) (bool, error) {
			var entry domain.ChangelogEntry
			if err := getJSON(txn, changelogKey(id), &entry); err != nil {
				if errors.Is(err, ErrNotFound) {
					return true, nil
				}
				return false, err
			}
			entries = append(entries, &entry)
			return len(entries) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("pending changes: %w", err)
	}
	return entries, nil
}

// CountPending returns the number of unprocessed entries.
func (s *Store) CountPending(ctx context.Context, entityType domain.EntityType) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return s.eachPending(txn, entityType, func(int64) (bool, error) {
			count++
			return true, nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// eachPending walks the pending index in id order, calling fn until it
// returns false.
func (s *Store) eachPending(txn *badger.Txn, entityType domain.EntityType, fn func(id int64) (bool, error)) error {
	prefix := []byte(pendingPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = entityType != ""

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if entityType != "" {
			var match bool
			if err := item.Value(func(val []byte) error {
				match = string(val) == string(entityType)
				return nil
			}); err != nil {
				return err
			}
			if !match {
				continue
			}
		}

		id, err := parsePendingKey(item.Key())
		if err != nil {
			s.logger.Warn("skipping malformed pending key", "key", string(item.Key()), "error", err)
			continue
		}
		more, err := fn(id)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Acknowledge marks entries processed and returns how many changed state.
// Unknown and already acknowledged ids are ignored.
func (s *Store) Acknowledge(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	total := 0
	for start := 0; start < len(ids); start += deletionBatchSize {
		end := min(start+deletionBatchSize, len(ids))
		batch := ids[start:end]

		var n int
		err := s.update(ctx, func(txn *badger.Txn) error {
			n = 0
			now := s.timestamp()
			for _, id := range batch {
				var entry domain.ChangelogEntry
				err := getJSON(txn, changelogKey(id), &entry)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if entry.Processed {
					continue
				}

				entry.Processed = true
				entry.ProcessedAt = &now
				if err := setJSON(txn, changelogKey(id), &entry); err != nil {
					return err
				}
				if err := txn.Delete(pendingKey(id)); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("acknowledge: %w", err)
		}
		total += n
	}
	return total, nil
}
