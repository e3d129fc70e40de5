package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/inbox"
	"github.com/discsync/discsync-server/internal/ingest"
	"github.com/discsync/discsync-server/internal/logger"
)

// InboxWatcherHandle wraps the inbox watcher with shutdown capability.
// Watcher is nil when no inbox is configured.
type InboxWatcherHandle struct {
	Watcher *inbox.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *InboxWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return nil
}

// ProvideInboxWatcher starts watching INBOX_PATH for dropped NDJSON files.
func ProvideInboxWatcher(i do.Injector) (*InboxWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Ingest.InboxPath == "" {
		log.Info("Inbox disabled, no inbox path configured")
		return &InboxWatcherHandle{}, nil
	}

	driver := do.MustInvoke[*ingest.Driver](i)

	w, err := inbox.New(cfg.Ingest.InboxPath, driver, log.Logger, inbox.Options{ScanExisting: true})
	if err != nil {
		return nil, err
	}

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			log.Error("Inbox watcher error", "error", err)
		}
	}()

	log.Info("Inbox watcher started", "path", cfg.Ingest.InboxPath)

	return &InboxWatcherHandle{Watcher: w, cancel: cancel, done: done}, nil
}

// StaleRunReaperJob periodically fails runs stuck in processing.
type StaleRunReaperJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *StaleRunReaperJob) Shutdown() error {
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}

// ProvideStaleRunReaperJob starts the reaper only when STALE_RUN_TIMEOUT is positive.
func ProvideStaleRunReaperJob(i do.Injector) (*StaleRunReaperJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	timeout := cfg.Ingest.StaleRunTimeout
	if timeout <= 0 {
		log.Debug("Stale run reaper disabled")
		return &StaleRunReaperJob{}, nil
	}

	storeHandle := do.MustInvoke[*StoreHandle](i)
	interval := changes.ReapInterval(timeout)

	ctx, cancel := context.WithCancel(context.Background())
	go changes.ReapStaleRunsEvery(ctx, storeHandle.StateStore, timeout, interval, log.Logger)

	log.Info("Stale run reaper started", "timeout", timeout, "interval", interval)

	return &StaleRunReaperJob{cancel: cancel}, nil
}
