// Package metrics exposes Prometheus metrics for ingestion runs and the
// changelog outbox.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/discsync/discsync-server/internal/changes"
	"github.com/discsync/discsync-server/internal/domain"
)

// Metrics contains Prometheus metrics for change detection.
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal     *prometheus.CounterVec
	skippedTotal     *prometheus.CounterVec
	deletionsTotal   *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	acknowledgements prometheus.Counter
	pendingGauge     *prometheus.GaugeVec

	collectors []prometheus.Collector
}

var _ changes.Recorder = (*Metrics)(nil)

// New creates metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (m *Metrics) initMetrics() {
	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discsync_records_total",
			Help: "Records classified, by entity type and classification",
		},
		[]string{"entity_type", "classification"}, // created, updated, unchanged
	)

	m.skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discsync_records_skipped_total",
			Help: "Records ignored because they carried no identifier",
		},
		[]string{"entity_type"},
	)

	m.deletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discsync_records_deleted_total",
			Help: "Records classified deleted by end-of-run sweeps",
		},
		[]string{"entity_type"},
	)

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discsync_runs_total",
			Help: "Finished processing runs, by entity type and terminal status",
		},
		[]string{"entity_type", "status"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discsync_run_duration_seconds",
			Help:    "Wall time of processing runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
		},
		[]string{"entity_type"},
	)

	m.acknowledgements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discsync_changelog_acknowledged_total",
			Help: "Changelog entries newly acknowledged by consumers",
		},
	)

	m.pendingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discsync_changelog_pending",
			Help: "Unprocessed changelog entries at last observation",
		},
		[]string{"entity_type"},
	)

	m.collectors = []prometheus.Collector{
		m.recordsTotal,
		m.skippedTotal,
		m.deletionsTotal,
		m.runsTotal,
		m.runDuration,
		m.acknowledgements,
		m.pendingGauge,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveClassification counts one classified record.
func (m *Metrics) ObserveClassification(entityType domain.EntityType, c changes.Classification) {
	m.recordsTotal.WithLabelValues(entityType.String(), c.String()).Inc()
}

// ObserveSkipped counts one record without an identifier.
func (m *Metrics) ObserveSkipped(entityType domain.EntityType) {
	m.skippedTotal.WithLabelValues(entityType.String()).Inc()
}

// ObserveDeletions counts records swept as deleted.
func (m *Metrics) ObserveDeletions(entityType domain.EntityType, n int) {
	m.deletionsTotal.WithLabelValues(entityType.String()).Add(float64(n))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(entityType domain.EntityType, status domain.ProcessingStatus, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(entityType.String(), string(status)).Inc()
	m.runDuration.WithLabelValues(entityType.String()).Observe(elapsed.Seconds())
}

// ObserveAcknowledged counts newly acknowledged changelog entries.
func (m *Metrics) ObserveAcknowledged(n int) {
	m.acknowledgements.Add(float64(n))
}

// SetPending records the outbox backlog for an entity type ("" for all).
func (m *Metrics) SetPending(entityType domain.EntityType, n int) {
	label := entityType.String()
	if label == "" {
		label = "all"
	}
	m.pendingGauge.WithLabelValues(label).Set(float64(n))
}
