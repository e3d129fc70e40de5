// Package storetest is a conformance suite run against every StateStore
// backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/store"
)

// Factory opens an empty store that reads time from clock. The store is
// closed by the suite.
type Factory func(t *testing.T, clock func() time.Time) store.StateStore

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *Clock
	s     store.StateStore
}

func newHarness(t *testing.T, factory Factory) *harness {
	t.Helper()
	clock := NewClock()
	s := factory(t, clock.Now)
	t.Cleanup(func() { _ = s.Close() })
	return &harness{t: t, ctx: context.Background(), clock: clock, s: s}
}

func (h *harness) startRun(entityType domain.EntityType) *domain.ProcessingRun {
	h.t.Helper()
	run, err := h.s.StartRun(h.ctx, entityType, domain.RunMetadata{SourceRef: "test.ndjson"})
	require.NoError(h.t, err)
	return run
}

func (h *harness) upsert(entityType domain.EntityType, recordID, hash, runID string) *domain.ChangelogEntry {
	h.t.Helper()
	entry, err := h.s.UpsertRecord(h.ctx, entityType, recordID, hash, runID)
	require.NoError(h.t, err)
	return entry
}

func (h *harness) complete(runID string, counts domain.RunCounts) {
	h.t.Helper()
	require.NoError(h.t, h.s.CompleteRun(h.ctx, runID, counts, ""))
}

// Run executes the suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, *harness)
	}{
		{"StartRun", testStartRun},
		{"StartRunRequiresEntityType", testStartRunRequiresEntityType},
		{"ClassificationSequence", testClassificationSequence},
		{"GetStoredHash", testGetStoredHash},
		{"DeletionGating", testDeletionGating},
		{"DeletionSkipsRecordsSeenThisRun", testDeletionSkipsRecordsSeenThisRun},
		{"DeletionIsolatedByEntityType", testDeletionIsolatedByEntityType},
		{"DeletionUnknownRun", testDeletionUnknownRun},
		{"DeletionRunTypeMismatch", testDeletionRunTypeMismatch},
		{"DeletionIgnoresTypesSharingPrefix", testDeletionIgnoresTypesSharingPrefix},
		{"TombstoneResurrection", testTombstoneResurrection},
		{"Outbox", testOutbox},
		{"OutboxFilterAndLimit", testOutboxFilterAndLimit},
		{"CompleteRun", testCompleteRun},
		{"CompleteRunFailed", testCompleteRunFailed},
		{"CompleteRunConflict", testCompleteRunConflict},
		{"CompleteRunNotFound", testCompleteRunNotFound},
		{"ListRuns", testListRuns},
		{"ProcessingStates", testProcessingStates},
		{"ReapStaleRuns", testReapStaleRuns},
		{"ConcurrentUpserts", testConcurrentUpserts},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newHarness(t, factory))
		})
	}
}

func testStartRun(t *testing.T, h *harness) {
	first := h.startRun(domain.EntityArtist)
	assert.Contains(t, first.ID, "run-")
	assert.Equal(t, domain.StatusProcessing, first.Status)
	assert.Equal(t, domain.EntityArtist, first.EntityType)
	assert.Equal(t, "test.ndjson", first.Metadata.SourceRef)
	assert.True(t, first.StartedAt.Equal(h.clock.Now()))
	assert.Nil(t, first.CompletedAt)

	state, err := h.s.GetProcessingState(h.ctx, domain.EntityArtist)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, state.Status)

	// A second run never reconciles with the first.
	h.clock.Advance(time.Second)
	second := h.startRun(domain.EntityArtist)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := h.s.GetRun(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func testStartRunRequiresEntityType(t *testing.T, h *harness) {
	_, err := h.s.StartRun(h.ctx, "", domain.RunMetadata{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func testClassificationSequence(t *testing.T, h *harness) {
	run1 := h.startRun(domain.EntityArtist)

	created := h.upsert(domain.EntityArtist, "1", "hash-a", run1.ID)
	require.NotNil(t, created)
	assert.Equal(t, domain.ChangeCreated, created.Kind)
	assert.Empty(t, created.OldHash)
	assert.Equal(t, "hash-a", created.NewHash)
	assert.Equal(t, run1.ID, created.RunID)
	assert.False(t, created.Processed)
	assert.Positive(t, created.ID)

	rec, err := h.s.GetRecordState(h.ctx, domain.EntityArtist, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	assert.Nil(t, h.upsert(domain.EntityArtist, "1", "hash-a", run1.ID), "unchanged must not log")
	h.complete(run1.ID, domain.RunCounts{Processed: 2, Created: 1})

	h.clock.Advance(time.Minute)
	run2 := h.startRun(domain.EntityArtist)
	updated := h.upsert(domain.EntityArtist, "1", "hash-b", run2.ID)
	require.NotNil(t, updated)
	assert.Equal(t, domain.ChangeUpdated, updated.Kind)
	assert.Equal(t, "hash-a", updated.OldHash)
	assert.Equal(t, "hash-b", updated.NewHash)
	assert.Greater(t, updated.ID, created.ID)

	rec, err = h.s.GetRecordState(h.ctx, domain.EntityArtist, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, "hash-b", rec.Hash)
	assert.True(t, rec.LastModifiedAt.Equal(h.clock.Now()))

	h.clock.Advance(time.Minute)
	assert.Nil(t, h.upsert(domain.EntityArtist, "1", "hash-b", run2.ID))
	rec, err = h.s.GetRecordState(h.ctx, domain.EntityArtist, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version, "unchanged must not bump the version")
	assert.True(t, rec.LastSeenAt.Equal(h.clock.Now()), "unchanged still refreshes last_seen_at")
	assert.True(t, rec.LastSeenAt.After(rec.LastModifiedAt))
}

func testGetStoredHash(t *testing.T, h *harness) {
	_, ok, err := h.s.GetStoredHash(h.ctx, domain.EntityLabel, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	run := h.startRun(domain.EntityLabel)
	h.upsert(domain.EntityLabel, "7", "abc", run.ID)

	hash, ok, err := h.s.GetStoredHash(h.ctx, domain.EntityLabel, "7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", hash)

	_, err = h.s.GetRecordState(h.ctx, domain.EntityLabel, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeletionGating(t *testing.T, h *harness) {
	run1 := h.startRun(domain.EntityArtist)
	h.upsert(domain.EntityArtist, "a", "h1", run1.ID)
	h.upsert(domain.EntityArtist, "b", "h2", run1.ID)
	h.complete(run1.ID, domain.RunCounts{Processed: 2, Created: 2})

	h.clock.Advance(time.Hour)
	run2 := h.startRun(domain.EntityArtist)
	h.upsert(domain.EntityArtist, "a", "h1", run2.ID)

	n, err := h.s.DetectDeletions(h.ctx, domain.EntityArtist, run2.ID, domain.NewStringSet("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := h.s.PendingChanges(h.ctx, domain.EntityArtist, 100)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	last := pending[2]
	assert.Equal(t, domain.ChangeDeleted, last.Kind)
	assert.Equal(t, "b", last.RecordID)
	assert.Equal(t, "h2", last.OldHash)
	assert.Empty(t, last.NewHash)
	assert.Equal(t, run2.ID, last.RunID)

	rec, err := h.s.GetRecordState(h.ctx, domain.EntityArtist, "b")
	require.NoError(t, err)
	assert.True(t, rec.IsTombstoned())
	assert.Equal(t, int64(1), rec.Version)

	_, ok, err := h.s.GetStoredHash(h.ctx, domain.EntityArtist, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	// Tombstoned records are not flagged again by later runs.
	h.complete(run2.ID, domain.RunCounts{Processed: 1, Deleted: 1})
	h.clock.Advance(time.Hour)
	run3 := h.startRun(domain.EntityArtist)
	h.upsert(domain.EntityArtist, "a", "h1", run3.ID)
	n, err = h.s.DetectDeletions(h.ctx, domain.EntityArtist, run3.ID, domain.NewStringSet("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testDeletionSkipsRecordsSeenThisRun(t *testing.T, h *harness) {
	run1 := h.startRun(domain.EntityLabel)
	h.upsert(domain.EntityLabel, "old", "h", run1.ID)
	h.complete(run1.ID, domain.RunCounts{Processed: 1, Created: 1})

	h.clock.Advance(time.Hour)
	run2 := h.startRun(domain.EntityLabel)
	h.upsert(domain.EntityLabel, "fresh", "h", run2.ID)

	// "fresh" is missing from the id set but was seen at or after the run
	// started, so only "old" qualifies.
	n, err := h.s.DetectDeletions(h.ctx, domain.EntityLabel, run2.ID, domain.NewStringSet())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := h.s.GetRecordState(h.ctx, domain.EntityLabel, "fresh")
	require.NoError(t, err)
	assert.False(t, rec.IsTombstoned())

	// A nil id set behaves like an empty one.
	n, err = h.s.DetectDeletions(h.ctx, domain.EntityLabel, run2.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testDeletionIsolatedByEntityType(t *testing.T, h *harness) {
	artists := h.startRun(domain.EntityArtist)
	h.upsert(domain.EntityArtist, "1", "h", artists.ID)
	h.complete(artists.ID, domain.RunCounts{Processed: 1, Created: 1})

	h.clock.Advance(time.Hour)
	labels := h.startRun(domain.EntityLabel)
	n, err := h.s.DetectDeletions(h.ctx, domain.EntityLabel, labels.ID, domain.NewStringSet())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, err := h.s.GetStoredHash(h.ctx, domain.EntityArtist, "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDeletionUnknownRun(t *testing.T, h *harness) {
	_, err := h.s.DetectDeletions(h.ctx, domain.EntityArtist, "run-missing", domain.NewStringSet())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDeletionRunTypeMismatch(t *testing.T, h *harness) {
	artists := h.startRun(domain.EntityArtist)
	h.upsert(domain.EntityArtist, "1", "h", artists.ID)
	h.complete(artists.ID, domain.RunCounts{Processed: 1, Created: 1})

	h.clock.Advance(time.Hour)
	labels := h.startRun(domain.EntityLabel)
	n, err := h.s.DetectDeletions(h.ctx, domain.EntityArtist, labels.ID, domain.NewStringSet())
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Equal(t, 0, n)

	_, ok, err := h.s.GetStoredHash(h.ctx, domain.EntityArtist, "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDeletionIgnoresTypesSharingPrefix(t *testing.T, h *harness) {
	const track, trackAudio = domain.EntityType("track"), domain.EntityType("track:audio")

	audio := h.startRun(trackAudio)
	h.upsert(trackAudio, "5", "h", audio.ID)
	h.complete(audio.ID, domain.RunCounts{Processed: 1, Created: 1})

	h.clock.Advance(time.Hour)
	tracks := h.startRun(track)
	n, err := h.s.DetectDeletions(h.ctx, track, tracks.ID, domain.NewStringSet())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := h.s.GetRecordState(h.ctx, trackAudio, "5")
	require.NoError(t, err)
	assert.False(t, rec.IsTombstoned())

	pending, err := h.s.PendingChanges(h.ctx, track, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testTombstoneResurrection(t *testing.T, h *harness) {
	run1 := h.startRun(domain.EntityMaster)
	h.upsert(domain.EntityMaster, "m", "h1", run1.ID)
	h.complete(run1.ID, domain.RunCounts{Processed: 1, Created: 1})

	h.clock.Advance(time.Hour)
	run2 := h.startRun(domain.EntityMaster)
	n, err := h.s.DetectDeletions(h.ctx, domain.EntityMaster, run2.ID, domain.NewStringSet())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.complete(run2.ID, domain.RunCounts{Deleted: 1})

	h.clock.Advance(time.Hour)
	run3 := h.startRun(domain.EntityMaster)
	entry := h.upsert(domain.EntityMaster, "m", "h1", run3.ID)
	require.NotNil(t, entry)
	assert.Equal(t, domain.ChangeCreated, entry.Kind)
	assert.Empty(t, entry.OldHash)

	rec, err := h.s.GetRecordState(h.ctx, domain.EntityMaster, "m")
	require.NoError(t, err)
	assert.False(t, rec.IsTombstoned())
	assert.Equal(t, int64(1), rec.Version, "resurrection keeps the version")
}

func testOutbox(t *testing.T, h *harness) {
	run := h.startRun(domain.EntityRelease)
	var ids []int64
	for i := range 3 {
		h.clock.Advance(time.Millisecond)
		entry := h.upsert(domain.EntityRelease, fmt.Sprintf("r%d", i), "h", run.ID)
		ids = append(ids, entry.ID)
	}

	pending, err := h.s.PendingChanges(h.ctx, domain.EntityRelease, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, entry := range pending {
		assert.Equal(t, ids[i], entry.ID, "oldest detection first")
	}

	n, err := h.s.Acknowledge(h.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.s.Acknowledge(h.ctx, []int64{ids[0], ids[1]})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-acknowledging and unknown ids are harmless.
	n, err = h.s.Acknowledge(h.ctx, []int64{ids[0], ids[1], 999999})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err = h.s.PendingChanges(h.ctx, domain.EntityRelease, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	count, err := h.s.CountPending(h.ctx, domain.EntityRelease)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testOutboxFilterAndLimit(t *testing.T, h *harness) {
	artists := h.startRun(domain.EntityArtist)
	labels := h.startRun(domain.EntityLabel)
	for i := range 4 {
		h.clock.Advance(time.Millisecond)
		h.upsert(domain.EntityArtist, fmt.Sprintf("a%d", i), "h", artists.ID)
		h.upsert(domain.EntityLabel, fmt.Sprintf("l%d", i), "h", labels.ID)
	}

	all, err := h.s.PendingChanges(h.ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	onlyLabels, err := h.s.PendingChanges(h.ctx, domain.EntityLabel, 100)
	require.NoError(t, err)
	require.Len(t, onlyLabels, 4)
	for _, entry := range onlyLabels {
		assert.Equal(t, domain.EntityLabel, entry.EntityType)
	}

	limited, err := h.s.PendingChanges(h.ctx, domain.EntityArtist, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "a0", limited[0].RecordID)
	assert.Equal(t, "a1", limited[1].RecordID)

	count, err := h.s.CountPending(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func testCompleteRun(t *testing.T, h *harness) {
	meta := domain.RunMetadata{SourceRef: "artists.ndjson", Checksum: "abcd", Size: 42}
	run, err := h.s.StartRun(h.ctx, domain.EntityArtist, meta)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	counts := domain.RunCounts{Processed: 10, Created: 4, Updated: 3, Deleted: 1}
	h.complete(run.ID, counts)

	got, err := h.s.GetRun(h.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, counts, got.Counts)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(h.clock.Now()))
	assert.Empty(t, got.ErrorMessage)

	state, err := h.s.GetProcessingState(h.ctx, domain.EntityArtist)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.Equal(t, int64(10), state.TotalProcessed)
	assert.Equal(t, "artists.ndjson", state.LastSourceRef)
	assert.Equal(t, "abcd", state.LastChecksum)
	assert.Equal(t, int64(42), state.LastSize)
	require.NotNil(t, state.LastProcessedAt)
	assert.True(t, state.LastSyncSucceeded("abcd"))

	// Totals accumulate across runs.
	h.clock.Advance(time.Minute)
	run2 := h.startRun(domain.EntityArtist)
	h.complete(run2.ID, domain.RunCounts{Processed: 5})

	state, err = h.s.GetProcessingState(h.ctx, domain.EntityArtist)
	require.NoError(t, err)
	assert.Equal(t, int64(15), state.TotalProcessed)
}

func testCompleteRunFailed(t *testing.T, h *harness) {
	ok, err := h.s.StartRun(h.ctx, domain.EntityLabel, domain.RunMetadata{Checksum: "aa"})
	require.NoError(t, err)
	h.complete(ok.ID, domain.RunCounts{Processed: 1})

	h.clock.Advance(time.Minute)
	bad, err := h.s.StartRun(h.ctx, domain.EntityLabel, domain.RunMetadata{Checksum: "bb"})
	require.NoError(t, err)
	require.NoError(t, h.s.CompleteRun(h.ctx, bad.ID, domain.RunCounts{Processed: 3}, "disk full"))

	got, err := h.s.GetRun(h.ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "disk full", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	state, err := h.s.GetProcessingState(h.ctx, domain.EntityLabel)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Equal(t, "disk full", state.ErrorMessage)
	assert.Equal(t, int64(4), state.TotalProcessed)
	assert.Equal(t, "aa", state.LastChecksum, "a failed run does not advance the source checksum")
	assert.False(t, state.LastSyncSucceeded("bb"))
}

func testCompleteRunConflict(t *testing.T, h *harness) {
	run := h.startRun(domain.EntityArtist)
	h.complete(run.ID, domain.RunCounts{})

	err := h.s.CompleteRun(h.ctx, run.ID, domain.RunCounts{Processed: 99}, "")
	assert.ErrorIs(t, err, store.ErrRunNotActive)

	got, err := h.s.GetRun(h.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Counts.Processed)
}

func testCompleteRunNotFound(t *testing.T, h *harness) {
	err := h.s.CompleteRun(h.ctx, "run-missing", domain.RunCounts{}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.s.GetRun(h.ctx, "run-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListRuns(t *testing.T, h *harness) {
	a1 := h.startRun(domain.EntityArtist)
	h.clock.Advance(time.Second)
	l1 := h.startRun(domain.EntityLabel)
	h.clock.Advance(time.Second)
	a2 := h.startRun(domain.EntityArtist)
	h.complete(a1.ID, domain.RunCounts{})

	runs, err := h.s.ListRuns(h.ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{a2.ID, l1.ID, a1.ID}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = h.s.ListRuns(h.ctx, store.RunFilter{EntityType: domain.EntityArtist})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = h.s.ListRuns(h.ctx, store.RunFilter{Status: domain.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, a1.ID, runs[0].ID)

	runs, err = h.s.ListRuns(h.ctx, store.RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, a2.ID, runs[0].ID)
}

func testProcessingStates(t *testing.T, h *harness) {
	_, err := h.s.GetProcessingState(h.ctx, domain.EntityRelease)
	assert.ErrorIs(t, err, store.ErrNotFound)

	states, err := h.s.ListProcessingStates(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, states)

	h.startRun(domain.EntityRelease)
	h.startRun(domain.EntityArtist)

	states, err = h.s.ListProcessingStates(h.ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, domain.EntityArtist, states[0].EntityType)
	assert.Equal(t, domain.EntityRelease, states[1].EntityType)
}

func testReapStaleRuns(t *testing.T, h *harness) {
	stale := h.startRun(domain.EntityArtist)
	h.clock.Advance(2 * time.Hour)
	fresh := h.startRun(domain.EntityLabel)
	h.clock.Advance(time.Minute)

	_, err := h.s.ReapStaleRuns(h.ctx, 0)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	reaped, err := h.s.ReapStaleRuns(h.ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.ID, reaped[0].ID)
	assert.Equal(t, domain.StatusFailed, reaped[0].Status)
	assert.Equal(t, store.StaleRunMessage(time.Hour), reaped[0].ErrorMessage)

	got, err := h.s.GetRun(h.ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	state, err := h.s.GetProcessingState(h.ctx, domain.EntityArtist)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)

	// Nothing left to reap.
	reaped, err = h.s.ReapStaleRuns(h.ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, reaped)
}

func testConcurrentUpserts(t *testing.T, h *harness) {
	run := h.startRun(domain.EntityRelease)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				id := fmt.Sprintf("w%d-%d", w, i)
				if _, err := h.s.UpsertRecord(h.ctx, domain.EntityRelease, id, "h", run.ID); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := h.s.CountPending(h.ctx, domain.EntityRelease)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, count)

	pending, err := h.s.PendingChanges(h.ctx, domain.EntityRelease, workers*perWorker)
	require.NoError(t, err)
	seen := make(map[int64]bool, len(pending))
	for _, entry := range pending {
		assert.False(t, seen[entry.ID], "changelog ids are unique")
		seen[entry.ID] = true
	}
}

func testPing(t *testing.T, h *harness) {
	assert.NoError(t, h.s.Ping(h.ctx))
}
