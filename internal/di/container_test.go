package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/di/providers"
	"github.com/discsync/discsync-server/internal/domain"
	"github.com/discsync/discsync-server/internal/fingerprint"
	"github.com/discsync/discsync-server/internal/ingest"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		App:    config.AppConfig{Environment: "development"},
		Logger: config.LoggerConfig{Level: "error"},
		Store: config.StoreConfig{
			DataPath:      t.TempDir(),
			Backend:       backend,
			HashAlgorithm: fingerprint.SHA256,
		},
		Ingest: config.IngestConfig{Workers: 2},
		Server: config.ServerConfig{Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
	}
}

func TestBootstrapIngest(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			injector := NewContainer(cfg)
			t.Cleanup(func() { _ = injector.Shutdown() })

			driver, err := BootstrapIngest(injector)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "labels.ndjson")
			require.NoError(t, os.WriteFile(path, []byte(`{"id":"1","name":"Warp"}`+"\n"), 0o644))

			res, err := driver.IngestFile(context.Background(), path, ingest.Options{})
			require.NoError(t, err)
			assert.Equal(t, domain.EntityLabel, res.EntityType)
			assert.Equal(t, int64(1), res.Summary.Counts.Created)

			_, err = os.Stat(cfg.StorePath())
			assert.NoError(t, err)
		})
	}
}

func TestBootstrap_StartsWorkers(t *testing.T) {
	cfg := testConfig(t, config.BackendBadger)
	cfg.Ingest.InboxPath = t.TempDir()
	cfg.Ingest.StaleRunTimeout = time.Hour

	injector := NewContainer(cfg)
	require.NoError(t, Bootstrap(injector))

	watcher := do.MustInvoke[*providers.InboxWatcherHandle](injector)
	assert.NotNil(t, watcher.Watcher)
	do.MustInvoke[*providers.StaleRunReaperJob](injector)
	do.MustInvoke[*providers.HTTPServerHandle](injector)

	_ = injector.Shutdown()
}
