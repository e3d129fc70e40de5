package providers

import (
	"github.com/samber/do/v2"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/config"
	"github.com/discsync/discsync-server/internal/fingerprint"
	"github.com/discsync/discsync-server/internal/ingest"
	"github.com/discsync/discsync-server/internal/logger"
	"github.com/discsync/discsync-server/internal/metrics"
)

// ProvideMetrics provides the Prometheus metrics on a fresh registry.
func ProvideMetrics(i do.Injector) (*metrics.Metrics, error) {
	return metrics.New(metrics.NewRegistry())
}

// ProvideDetector provides the change detector over the configured store.
func ProvideDetector(i do.Injector) (*changes.Detector, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	hasher, err := fingerprint.New(cfg.Store.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	return changes.NewDetector(storeHandle.StateStore,
		changes.WithHasher(hasher),
		changes.WithRecorder(m),
		changes.WithLogger(log.Logger),
	), nil
}

// ProvideIngestDriver provides the NDJSON ingest driver.
func ProvideIngestDriver(i do.Injector) (*ingest.Driver, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	detector := do.MustInvoke[*changes.Detector](i)

	return ingest.NewDriver(detector, storeHandle.StateStore, cfg.Ingest.Workers, log.Logger), nil
}
