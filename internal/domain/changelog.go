package domain

import "time"

// ChangeKind classifies a detected change.
type ChangeKind string

// Change kinds. Unchanged records never produce a changelog entry, so there is
// no kind for them here; see changes.Classification.
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangelogEntry is one append-only outbox row. Processed flips false -> true once.
type ChangelogEntry struct {
	ID          int64      `json:"id"`
	EntityType  EntityType `json:"entity_type"`
	RecordID    string     `json:"record_id"`
	Kind        ChangeKind `json:"change_kind"`
	OldHash     string     `json:"old_hash,omitempty"`
	NewHash     string     `json:"new_hash,omitempty"`
	RunID       string     `json:"run_id"`
	DetectedAt  time.Time  `json:"detected_at"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// RecordState is the last known fingerprint of one record.
// Rows are never removed; DeletedAt marks a tombstone.
type RecordState struct {
	EntityType     EntityType `json:"entity_type"`
	RecordID       string     `json:"record_id"`
	Hash           string     `json:"record_hash"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
	Version        int64      `json:"version"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// IsTombstoned reports whether the record was classified deleted and has not reappeared since.
func (r *RecordState) IsTombstoned() bool {
	return r.DeletedAt != nil
}
