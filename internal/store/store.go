package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// sequenceBandwidth is how many changelog ids a Badger sequence leases at once.
const sequenceBandwidth = 1000

// maxConflictRetries bounds retries of optimistic transactions that lost a
// write-write race on the same record key.
const maxConflictRetries = 5

// Store is the Badger-backed StateStore.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	now    func() time.Time
}

var _ StateStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) a Badger database at path.
func New(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil            // Disable Badger's internal logging
	bopts.SyncWrites = true       // Changelog rows must survive a crash
	bopts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	return open(bopts, logger, opts...)
}

// NewInMemory opens a Badger database that lives only in memory.
func NewInMemory(logger *slog.Logger, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions("").WithInMemory(true)
	bopts.Logger = nil
	return open(bopts, logger, opts...)
}

// OpenReadOnly opens an existing Badger database for inspection.
// Every write method fails with ErrReadOnly.
func OpenReadOnly(path string, logger *slog.Logger) (*Store, error) {
	bopts := badger.DefaultOptions(path).WithReadOnly(true)
	bopts.Logger = nil
	return open(bopts, logger)
}

func open(bopts badger.Options, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	if !bopts.ReadOnly {
		s.seq, err = db.GetSequence([]byte(changelogSeqKey), sequenceBandwidth)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to open changelog sequence: %w", err)
		}
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Info("Badger database opened successfully", "path", bopts.Dir, "in_memory", bopts.InMemory)
	return s, nil
}

// Close releases the changelog sequence and closes the database.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.logger.Warn("failed to release changelog sequence", "error", err)
		}
	}
	return s.db.Close()
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// update runs fn in a read-write transaction, retrying when Badger reports a
// conflict with a concurrent transaction.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.seq == nil {
		return ErrReadOnly
	}
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// nextChangelogID allocates a changelog id. Ids start at 1.
func (s *Store) nextChangelogID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("allocate changelog id: %w", err)
	}
	return int64(n) + 1, nil
}

// getJSON reads key into dest within txn. Missing keys return ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, dest any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

// setJSON marshals value and writes it under key within txn.
func setJSON(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set(key, data)
}
