// Package inbox watches a drop directory and ingests NDJSON dumps as they land.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/discsync/discsync-server/internal/ingest"
	"github.com/discsync/discsync-server/internal/logger"
)

// Ingester processes one settled dump file.
type Ingester interface {
	IngestFile(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

// ResultFunc observes the outcome of each ingest attempt.
type ResultFunc func(path string, res *ingest.Result, err error)

// Watcher hands files dropped into a directory to an Ingester once they stop changing.
// Files are ingested one at a time in arrival order. Files left in the
// directory are harmless: an unchanged source is skipped by checksum.
type Watcher struct {
	dir      string
	ingester Ingester
	logger   *slog.Logger
	opts     Options
	onResult ResultFunc

	watcher *fsnotify.Watcher

	pending map[string]*pendingFile // path -> settling state
	mu      sync.Mutex              // protects pending

	ready chan string
	wg    sync.WaitGroup
}

// pendingFile tracks a file that may still be being written.
type pendingFile struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

// New creates a watcher over dir.
func New(dir string, ingester Ingester, log *slog.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: %s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      filepath.Clean(dir),
		ingester: ingester,
		logger:   logger.OrDiscard(log).With("inbox", dir),
		opts:     opts,
		watcher:  fw,
		pending:  make(map[string]*pendingFile),
		ready:    make(chan string, 64),
	}, nil
}

// OnResult registers a callback invoked after every ingest attempt.
// Must be called before Run.
func (w *Watcher) OnResult(fn ResultFunc) {
	w.onResult = fn
}

// Run watches until ctx is canceled. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.dispatch(ctx)
	}()

	if w.opts.ScanExisting {
		if err := w.scanExisting(); err != nil {
			w.logger.Warn("failed to scan existing files", logger.KeyError, err)
		}
	}

	w.logger.Info("watching inbox")
	err := w.processEvents(ctx)

	w.stop()
	cancel()
	w.wg.Wait()
	return err
}

// scanExisting queues source files already in the directory, oldest name first.
func (w *Watcher) scanExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		w.startSettling(filepath.Join(w.dir, name))
	}
	return nil
}

func (w *Watcher) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; rescan so nothing dropped is missed.
				w.logger.Warn("inbox event overflow, rescanning")
				if err := w.scanExisting(); err != nil {
					w.logger.Warn("rescan failed", logger.KeyError, err)
				}
				continue
			}
			w.logger.Error("inbox watcher error", logger.KeyError, err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.cancelPending(path)
		return
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
		w.startSettling(path)
	}
}

// startSettling begins (or restarts) the settling process for a file.
func (w *Watcher) startSettling(path string) {
	if w.opts.shouldIgnore(path) || !ingest.IsSourceFile(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		return
	}
	if info.IsDir() {
		return
	}

	p := &pendingFile{size: info.Size(), modTime: info.ModTime()}
	p.timer = time.AfterFunc(w.opts.SettleDelay, func() {
		w.checkSettled(path)
	})
	w.pending[path] = p
}

// checkSettled queues the file if it did not change during the settle delay.
func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, exists := w.pending[path]
	if !exists {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.opts.SettleDelay, func() {
			w.checkSettled(path)
		})
		return
	}

	delete(w.pending, path)
	select {
	case w.ready <- path:
	default:
		// Dispatcher is backed up; try again after another settle period.
		p.timer = time.AfterFunc(w.opts.SettleDelay, func() {
			w.checkSettled(path)
		})
		w.pending[path] = p
	}
}

// cancelPending forgets a file that was removed or renamed away.
func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, exists := w.pending[path]; exists {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

// dispatch ingests settled files sequentially.
func (w *Watcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.ready:
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	log := w.logger.With(logger.KeySource, path)
	log.Info("ingesting dropped file")

	res, err := w.ingester.IngestFile(ctx, path, ingest.Options{})
	if w.onResult != nil {
		w.onResult(path, res, err)
	}

	switch {
	case errors.Is(err, ingest.ErrBusy):
		log.Info("entity type busy, retrying later", "retry_in", w.opts.RetryDelay)
		w.retryLater(path)
	case err != nil:
		log.Error("ingest failed", logger.KeyError, err)
	case res.Unchanged:
		log.Debug("dropped file matches last completed sync")
	}
}

func (w *Watcher) retryLater(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.pending[path]; exists {
		return
	}
	p := &pendingFile{size: -1}
	p.timer = time.AfterFunc(w.opts.RetryDelay, func() {
		w.startSettling(path)
	})
	w.pending[path] = p
}

// stop cancels pending timers and closes the fsnotify watcher.
func (w *Watcher) stop() {
	w.mu.Lock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	clear(w.pending)
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close inbox watcher", logger.KeyError, err)
	}
}
