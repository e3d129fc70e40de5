package providers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/store"
	"github.com/discsync/discsync-server/internal/store/sqlite"
)

// StoreHandle wraps the configured state store with shutdown capability.
type StoreHandle struct {
	store.StateStore
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the state store selected by STORE_BACKEND.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	path := cfg.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	var (
		st  store.StateStore
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendBadger:
		st, err = store.New(path, log.Logger)
	default:
		st, err = sqlite.Open(path, log.Logger)
	}
	if err != nil {
		return nil, err
	}

	log.Info("State store opened", "backend", cfg.Store.Backend, "path", path)

	return &StoreHandle{StateStore: st}, nil
}
