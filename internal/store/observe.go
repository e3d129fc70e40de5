package store

import (
	"time"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/domain"
)

// Observation is the outcome of seeing one record during a run.
type Observation struct {
	Next           domain.RecordState
	Classification changes.Classification
	OldHash        string
}

// Observe classifies a sighting of a record against its stored state (nil
// when none exists) and returns the state to persist. A tombstoned record
// that reappears counts as created; its version is carried over unchanged.
func Observe(prev *domain.RecordState, entityType domain.EntityType, recordID, newHash string, now time.Time) Observation {
	if prev == nil {
		return Observation{
			Next: domain.RecordState{
				EntityType:     entityType,
				RecordID:       recordID,
				Hash:           newHash,
				LastSeenAt:     now,
				LastModifiedAt: now,
				Version:        1,
			},
			Classification: changes.Created,
		}
	}

	next := *prev
	next.LastSeenAt = now

	live := prev.Hash
	if prev.IsTombstoned() {
		live = ""
	}

	c := changes.Classify(live, newHash)
	switch c {
	case changes.Created:
		next.Hash = newHash
		next.LastModifiedAt = now
		next.DeletedAt = nil
		if next.Version == 0 {
			next.Version = 1
		}
	case changes.Updated:
		next.Hash = newHash
		next.LastModifiedAt = now
		next.Version++
	}
	return Observation{Next: next, Classification: c, OldHash: live}
}

// Tombstone marks a record deleted at now.
func Tombstone(prev domain.RecordState, now time.Time) domain.RecordState {
	next := prev
	next.DeletedAt = &now
	next.LastModifiedAt = now
	return next
}

// IsDeletionCandidate reports whether a stored record should be classified
// deleted by a run over entityType that started at runStart and saw currentIDs.
func IsDeletionCandidate(rec *domain.RecordState, entityType domain.EntityType, runStart time.Time, currentIDs domain.IDSet) bool {
	if rec.EntityType != entityType || rec.IsTombstoned() {
		return false
	}
	if !rec.LastSeenAt.Before(runStart) {
		return false
	}
	return !currentIDs.Contains(rec.RecordID)
}
