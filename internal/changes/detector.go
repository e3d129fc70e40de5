package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/fingerprint"
	"github.com/discsync/discsync-server/internal/normalize"
)

// ErrRunFinished is returned when a finished run is offered more records or
// finished twice.
var ErrRunFinished = errors.New("run already finished")

// Store is the part of the state store a run drives.
type Store interface {
	StartRun(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata) (*domain.ProcessingRun, error)
	UpsertRecord(ctx context.Context, entityType domain.EntityType, recordID, newHash, runID string) (*domain.ChangelogEntry, error)
	DetectDeletions(ctx context.Context, entityType domain.EntityType, runID string, currentIDs domain.IDSet) (int, error)
	CompleteRun(ctx context.Context, runID string, counts domain.RunCounts, errMsg string) error
}

// Normalizer canonicalizes raw records.
type Normalizer interface {
	Normalize(t domain.EntityType, raw any) normalize.Record
}

// Hasher fingerprints canonical records.
type Hasher interface {
	Hash(r normalize.Record) (string, error)
}

// Recorder receives run and classification events, typically for metrics.
type Recorder interface {
	ObserveClassification(entityType domain.EntityType, c Classification)
	ObserveSkipped(entityType domain.EntityType)
	ObserveDeletions(entityType domain.EntityType, n int)
	ObserveRun(entityType domain.EntityType, status domain.ProcessingStatus, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(domain.EntityType, Classification)              {}
func (nopRecorder) ObserveSkipped(domain.EntityType)                                     {}
func (nopRecorder) ObserveDeletions(domain.EntityType, int)                              {}
func (nopRecorder) ObserveRun(domain.EntityType, domain.ProcessingStatus, time.Duration) {}

// Detector starts runs. It is safe for concurrent use; runs of different
// entity types are independent.
type Detector struct {
	store      Store
	normalizer Normalizer
	hasher     Hasher
	recorder   Recorder
	logger     *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithNormalizer overrides the record normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(d *Detector) { d.normalizer = n }
}

// WithHasher overrides the fingerprint function.
func WithHasher(h Hasher) Option {
	return func(d *Detector) { d.hasher = h }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Detector) { d.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a Detector over store.
func NewDetector(store Store, opts ...Option) *Detector {
	d := &Detector{
		store:    store,
		hasher:   fingerprint.Default(),
		recorder: nopRecorder{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.normalizer == nil {
		d.normalizer = normalize.New(d.logger)
	}
	return d
}

// Begin starts a new run for entityType.
func (d *Detector) Begin(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata) (*Run, error) {
	info, err := d.store.StartRun(ctx, entityType, meta)
	if err != nil {
		return nil, fmt.Errorf("start %s run: %w", entityType, err)
	}

	d.logger.Info("run started",
		"run_id", info.ID,
		"entity_type", entityType,
		"source", meta.SourceRef,
	)

	return &Run{
		d:     d,
		info:  info,
		begun: time.Now(),
		seen:  domain.NewStringSet(),
	}, nil
}

// Outcome describes what happened to one offered record.
type Outcome struct {
	RecordID       string
	Classification Classification
	Entry          *domain.ChangelogEntry
	// Skipped is set when the record had no identifier and was ignored.
	Skipped bool
}

// Run is one active processing run. Offer may be called concurrently for
// distinct record ids; Finish or Fail must be called once after every Offer
// has returned.
type Run struct {
	d     *Detector
	info  *domain.ProcessingRun
	begun time.Time

	mu   sync.Mutex
	seen domain.StringSet

	processed atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	skipped   atomic.Int64
	finished  atomic.Bool
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.info.ID }

// EntityType returns the entity type the run processes.
func (r *Run) EntityType() domain.EntityType { return r.info.EntityType }

// StartedAt returns the run start time as recorded by the store.
func (r *Run) StartedAt() time.Time { return r.info.StartedAt }

// Counts returns the counters accumulated so far.
func (r *Run) Counts() domain.RunCounts {
	return domain.RunCounts{
		Processed: r.processed.Load(),
		Created:   r.created.Load(),
		Updated:   r.updated.Load(),
	}
}

// Skipped returns how many records were ignored for lacking an identifier.
func (r *Run) Skipped() int64 { return r.skipped.Load() }

// Offer normalizes, fingerprints, and classifies one raw record.
func (r *Run) Offer(ctx context.Context, raw any) (Outcome, error) {
	if r.finished.Load() {
		return Outcome{}, ErrRunFinished
	}

	entityType := r.info.EntityType
	rec := r.d.normalizer.Normalize(entityType, raw)
	recordID := rec.ID()
	if recordID == "" {
		r.skipped.Add(1)
		r.d.recorder.ObserveSkipped(entityType)
		return Outcome{Skipped: true}, nil
	}

	hash, err := r.d.hasher.Hash(rec)
	if err != nil {
		return Outcome{RecordID: recordID}, fmt.Errorf("hash %s/%s: %w", entityType, recordID, err)
	}

	entry, err := r.d.store.UpsertRecord(ctx, entityType, recordID, hash, r.info.ID)
	if err != nil {
		return Outcome{RecordID: recordID}, err
	}

	r.mu.Lock()
	r.seen.Add(recordID)
	r.mu.Unlock()

	c := Unchanged
	if entry != nil {
		switch entry.Kind {
		case domain.ChangeCreated:
			c = Created
			r.created.Add(1)
		case domain.ChangeUpdated:
			c = Updated
			r.updated.Add(1)
		}
	}
	r.processed.Add(1)
	r.d.recorder.ObserveClassification(entityType, c)

	return Outcome{RecordID: recordID, Classification: c, Entry: entry}, nil
}

// Summary is the final account of a run.
type Summary struct {
	RunID      string                  `json:"run_id"`
	EntityType domain.EntityType       `json:"entity_type"`
	Status     domain.ProcessingStatus `json:"status"`
	Counts     domain.RunCounts        `json:"counts"`
	Skipped    int64                   `json:"skipped"`
	Elapsed    time.Duration           `json:"elapsed_ns,format:nano"`
	Error      string                  `json:"error,omitempty"`
}

// Finish sweeps for deletions and completes the run. If the sweep fails the
// run is marked failed and the sweep error is returned.
func (r *Run) Finish(ctx context.Context) (*Summary, error) {
	if !r.finished.CompareAndSwap(false, true) {
		return nil, ErrRunFinished
	}

	counts := r.Counts()
	deleted, err := r.d.store.DetectDeletions(ctx, r.info.EntityType, r.info.ID, r.seen)
	if err != nil {
		err = fmt.Errorf("detect deletions: %w", err)
		summary, failErr := r.complete(context.WithoutCancel(ctx), counts, err.Error())
		return summary, errors.Join(err, failErr)
	}
	counts.Deleted = int64(deleted)
	r.d.recorder.ObserveDeletions(r.info.EntityType, deleted)

	return r.complete(ctx, counts, "")
}

// Fail completes the run as failed with cause as its error message.
func (r *Run) Fail(ctx context.Context, cause error) (*Summary, error) {
	if !r.finished.CompareAndSwap(false, true) {
		return nil, ErrRunFinished
	}

	msg := "run aborted"
	if cause != nil {
		msg = cause.Error()
	}
	return r.complete(context.WithoutCancel(ctx), r.Counts(), msg)
}

func (r *Run) complete(ctx context.Context, counts domain.RunCounts, errMsg string) (*Summary, error) {
	status := domain.StatusCompleted
	if errMsg != "" {
		status = domain.StatusFailed
	}

	summary := &Summary{
		RunID:      r.info.ID,
		EntityType: r.info.EntityType,
		Status:     status,
		Counts:     counts,
		Skipped:    r.skipped.Load(),
		Elapsed:    time.Since(r.begun),
		Error:      errMsg,
	}

	if err := r.d.store.CompleteRun(ctx, r.info.ID, counts, errMsg); err != nil {
		return summary, fmt.Errorf("complete run %s: %w", r.info.ID, err)
	}
	r.d.recorder.ObserveRun(r.info.EntityType, status, summary.Elapsed)

	log := r.d.logger.Info
	if status == domain.StatusFailed {
		log = r.d.logger.Warn
	}
	log("run finished",
		"run_id", r.info.ID,
		"entity_type", r.info.EntityType,
		"status", status,
		"processed", counts.Processed,
		"created", counts.Created,
		"updated", counts.Updated,
		"deleted", counts.Deleted,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed,
		"error", errMsg,
	)
	return summary, nil
}
