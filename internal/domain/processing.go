package domain

import "time"

// ProcessingStatus is the lifecycle state of an entity type or a single run.
//
// Transitions: idle -> processing -> completed | failed. A new run always moves
// the entity type back to processing.
type ProcessingStatus string

// Processing statuses.
const (
	StatusIdle       ProcessingStatus = "idle"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed for a run in this status.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunMetadata describes the source a run was fed from.
type RunMetadata struct {
	SourceRef string            `json:"source_ref,omitempty" validate:"max=4096"`
	Checksum  string            `json:"checksum,omitempty" validate:"omitempty,hexadecimal"`
	Size      int64             `json:"size,omitempty" validate:"gte=0"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RunCounts holds the per-run classification counters.
type RunCounts struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Deleted   int64 `json:"deleted"`
}

// ProcessingRun is one ingestion attempt for one entity type. Runs are never deleted.
type ProcessingRun struct {
	ID           string           `json:"id"`
	EntityType   EntityType       `json:"entity_type"`
	Metadata     RunMetadata      `json:"metadata"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Status       ProcessingStatus `json:"status"`
	Counts       RunCounts        `json:"counts"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// IsActive reports whether the run still accepts records.
func (r *ProcessingRun) IsActive() bool {
	return r.Status == StatusProcessing
}

// ProcessingState is the per-entity-type summary of the latest run.
type ProcessingState struct {
	EntityType      EntityType       `json:"entity_type"`
	LastProcessedAt *time.Time       `json:"last_processed_at,omitempty"`
	LastSourceRef   string           `json:"last_source_ref,omitempty"`
	LastChecksum    string           `json:"last_checksum,omitempty"`
	LastSize        int64            `json:"last_size,omitempty"`
	TotalProcessed  int64            `json:"total_processed"`
	Status          ProcessingStatus `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// LastSyncSucceeded reports whether the most recent run for this type completed
// and processed the given checksum.
func (s *ProcessingState) LastSyncSucceeded(checksum string) bool {
	return s.Status == StatusCompleted && checksum != "" && s.LastChecksum == checksum
}
