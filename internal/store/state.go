package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/discsync/discsync-server/internal/domain"
)

// loadState returns the stored processing state or a fresh idle one.
func loadState(txn *badger.Txn, entityType domain.EntityType) (*domain.ProcessingState, error) {
	state := &domain.ProcessingState{}
	err := getJSON(txn, stateKey(entityType), state)
	if errors.Is(err, ErrNotFound) {
		return &domain.ProcessingState{EntityType: entityType, Status: domain.StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// GetProcessingState returns the summary for one entity type, or ErrNotFound
// if no run was ever started for it.
func (s *Store) GetProcessingState(ctx context.Context, entityType domain.EntityType) (*domain.ProcessingState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state domain.ProcessingState
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, stateKey(entityType), &state)
	})
	if err != nil {
		return nil, fmt.Errorf("get processing state %s: %w", entityType, err)
	}
	return &state, nil
}

// ListProcessingStates returns all entity type summaries ordered by type.
func (s *Store) ListProcessingStates(ctx context.Context) ([]*domain.ProcessingState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	states := make([]*domain.ProcessingState, 0)
	prefix := []byte(statePrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			state := new(domain.ProcessingState)
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, state)
			}); err != nil {
				return err
			}
			states = append(states, state)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list processing states: %w", err)
	}
	return states, nil
}
