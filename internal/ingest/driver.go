// Package ingest feeds NDJSON dump files through the change detector.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/store"
)

// ErrBusy is returned when a run for the same entity type is already in progress
// in this process.
var ErrBusy = errors.New("ingest already running for entity type")

// DefaultWorkers is used when neither the driver nor the call sets a worker count.
const DefaultWorkers = 4

// StateReader reports the last sync of an entity type.
type StateReader interface {
	GetProcessingState(ctx context.Context, entityType domain.EntityType) (*domain.ProcessingState, error)
}

// Options controls one ingest call.
type Options struct {
	// EntityType overrides the type derived from the file name.
	EntityType domain.EntityType
	// Force processes the source even if it matches the last completed sync.
	Force bool
	// Strict fails the run on the first malformed line instead of skipping it.
	Strict bool
	// Workers overrides the driver's worker count.
	Workers int
}

// Result summarizes one ingest call.
type Result struct {
	Source     *Source           `json:"source"`
	EntityType domain.EntityType `json:"entity_type"`
	// Unchanged is set when the source matched the last completed sync and no run was started.
	Unchanged bool             `json:"unchanged"`
	Summary   *changes.Summary `json:"summary,omitempty"`
	Lines     int64            `json:"lines"`
	Malformed int64            `json:"malformed"`
}

// Driver runs ingestion for dump files. Runs of different entity types may
// proceed concurrently; a second run of a type already in progress is refused.
type Driver struct {
	detector *changes.Detector
	state    StateReader
	workers  int
	logger   *slog.Logger

	mu     sync.Mutex
	active map[domain.EntityType]struct{}
}

// NewDriver creates a driver. workers <= 0 selects DefaultWorkers.
func NewDriver(detector *changes.Detector, state StateReader, workers int, log *slog.Logger) *Driver {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Driver{
		detector: detector,
		state:    state,
		workers:  workers,
		logger:   logger.OrDiscard(log),
		active:   make(map[domain.EntityType]struct{}),
	}
}

// IngestFile processes the dump file at path as one run.
func (d *Driver) IngestFile(ctx context.Context, path string, opts Options) (*Result, error) {
	entityType := opts.EntityType
	if entityType == "" {
		t, err := EntityTypeFromPath(path)
		if err != nil {
			return nil, err
		}
		entityType = t
	}

	release, err := d.acquire(entityType)
	if err != nil {
		return nil, err
	}
	defer release()

	src, err := Inspect(path)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: src, EntityType: entityType}
	log := d.logger.With(logger.KeySource, path)

	if !opts.Force {
		unchanged, err := d.alreadySynced(ctx, entityType, src.Checksum)
		if err != nil {
			return nil, err
		}
		if unchanged {
			log.Info("source unchanged since last completed run, skipping",
				logger.KeyEntityType, entityType, "checksum", src.Checksum)
			result.Unchanged = true
			return result, nil
		}
	}

	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return d.ingest(ctx, entityType, src.Metadata(), rc, opts, result, log)
}

// IngestReader processes an NDJSON stream as one run. The caller supplies the
// run metadata; no unchanged-source check is made.
func (d *Driver) IngestReader(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata, r io.Reader, opts Options) (*Result, error) {
	if entityType == "" {
		return nil, errors.New("entity type is required")
	}

	release, err := d.acquire(entityType)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &Result{EntityType: entityType}
	log := d.logger.With(logger.KeySource, meta.SourceRef)
	return d.ingest(ctx, entityType, meta, r, opts, result, log)
}

func (d *Driver) ingest(ctx context.Context, entityType domain.EntityType, meta domain.RunMetadata, r io.Reader, opts Options, result *Result, log *slog.Logger) (*Result, error) {
	run, err := d.detector.Begin(ctx, entityType, meta)
	if err != nil {
		return nil, err
	}
	log = logger.WithRun(log, run.ID(), entityType)

	workers := opts.Workers
	if workers <= 0 {
		workers = d.workers
	}

	var lines, malformed atomic.Int64
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	lr := NewLineReader(r)
	readErr := func() error {
		for {
			if err := gctx.Err(); err != nil {
				return nil // the group carries the cause
			}

			lineNo, line, err := lr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}
			lines.Add(1)

			g.Go(func() error {
				raw, err := DecodeLine(lineNo, line)
				if err != nil {
					if opts.Strict {
						return err
					}
					malformed.Add(1)
					log.Warn("skipping malformed line", "line", lineNo, logger.KeyError, err)
					return nil
				}
				_, err = run.Offer(gctx, raw)
				return err
			})
		}
	}()

	err = errors.Join(readErr, g.Wait())
	if err == nil {
		// Stream fully offered; a parent cancellation may still have stopped the reader early.
		err = ctx.Err()
	}

	result.Lines = lines.Load()
	result.Malformed = malformed.Load()

	if err != nil {
		summary, failErr := run.Fail(ctx, err)
		result.Summary = summary
		if failErr != nil {
			log.Error("failed to mark run failed", logger.KeyError, failErr)
		}
		return result, fmt.Errorf("ingest %s run %s: %w", entityType, run.ID(), err)
	}

	summary, err := run.Finish(ctx)
	result.Summary = summary
	if err != nil {
		return result, fmt.Errorf("finish %s run %s: %w", entityType, run.ID(), err)
	}

	log.Info("ingest complete",
		"lines", result.Lines,
		"malformed", result.Malformed,
		"elapsed", time.Since(started),
	)
	return result, nil
}

// alreadySynced reports whether the last run for entityType completed on the same checksum.
func (d *Driver) alreadySynced(ctx context.Context, entityType domain.EntityType, checksum string) (bool, error) {
	if d.state == nil {
		return false, nil
	}
	state, err := d.state.GetProcessingState(ctx, entityType)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s processing state: %w", entityType, err)
	}
	return state.LastSyncSucceeded(checksum), nil
}

func (d *Driver) acquire(entityType domain.EntityType) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.active[entityType]; busy {
		return nil, fmt.Errorf("%s: %w", entityType, ErrBusy)
	}
	d.active[entityType] = struct{}{}

	return func() {
		d.mu.Lock()
		delete(d.active, entityType)
		d.mu.Unlock()
	}, nil
}
