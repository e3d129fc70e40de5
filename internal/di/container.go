// Package di provides dependency injection configuration for the discsync server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/di/providers"
	"github.com/discsync/discsync-server/internal/ingest"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/metrics"
)

// NewContainer creates and configures the DI container with all providers.
// A nil cfg is loaded from flags and the environment on first use.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	if cfg != nil {
		do.ProvideValue(injector, cfg)
	} else {
		do.Provide(injector, providers.ProvideConfig)
	}
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)
	do.Provide(injector, providers.ProvideMetrics)

	// Storage
	do.Provide(injector, providers.ProvideStore)

	// Change detection
	do.Provide(injector, providers.ProvideDetector)
	do.Provide(injector, providers.ProvideIngestDriver)

	// Workers
	do.Provide(injector, providers.ProvideInboxWatcher)
	do.Provide(injector, providers.ProvideStaleRunReaperJob)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// BootstrapIngest initializes the services needed to ingest files without serving HTTP.
func BootstrapIngest(injector *do.RootScope) (*ingest.Driver, error) {
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return nil, err
	}
	if _, err := do.Invoke[*changes.Detector](injector); err != nil {
		return nil, err
	}
	return do.Invoke[*ingest.Driver](injector)
}

// Bootstrap initializes all server services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := BootstrapIngest(injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*metrics.Metrics](injector); err != nil {
		return err
	}

	// Workers
	if _, err := do.Invoke[*providers.InboxWatcherHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StaleRunReaperJob](injector); err != nil {
		return err
	}

	// Server
	_, err := do.Invoke[*providers.HTTPServerHandle](injector)
	return err
}
