// Package metrics exposes Prometheus instrumentation for the object store.
//
// All methods are safe to call on a nil *Metrics, so components accept a
// nil value when metrics are disabled and pay no overhead.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	objectOperations *prometheus.CounterVec
	objectDuration   *prometheus.HistogramVec
	indexPaths       prometheus.Gauge
	syncRuns         *prometheus.CounterVec
	mergeResults     *prometheus.CounterVec
	watcherEvents    *prometheus.CounterVec
	watcherDropped   prometheus.Counter
}

// New creates a Metrics instance with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		objectOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "versync_object_operations_total",
				Help: "Total number of object manager operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		objectDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "versync_object_operation_duration_milliseconds",
				Help: "Duration of object manager operations in milliseconds",
				Buckets: []float64{
					0.1, // in-memory backends
					1,
					5,
					10, // local disk
					50,
					100, // remote object storage
					500,
					1000,
				},
			},
			[]string{"operation"},
		),
		indexPaths: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "versync_index_paths",
				Help: "Number of paths in the index",
			},
		),
		syncRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "versync_sync_runs_total",
				Help: "Total number of full directory syncs by status",
			},
			[]string{"status"},
		),
		mergeResults: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "versync_merge_paths_total",
				Help: "Total number of merged paths by classification",
			},
			[]string{"classification"},
		),
		watcherEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "versync_watcher_events_total",
				Help: "Total number of filesystem events handled by type",
			},
			[]string{"event"},
		),
		watcherDropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "versync_watcher_events_dropped_total",
				Help: "Total number of filesystem events dropped because the queue was full",
			},
		),
	}
}

// ObserveObjectOperation records one object manager operation.
func (m *Metrics) ObserveObjectOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.objectOperations.WithLabelValues(operation, status).Inc()
	m.objectDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

// SetIndexPaths records the current index size.
func (m *Metrics) SetIndexPaths(n int) {
	if m == nil {
		return
	}
	m.indexPaths.Set(float64(n))
}

// ObserveSync records a full directory sync.
func (m *Metrics) ObserveSync(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.syncRuns.WithLabelValues(status).Inc()
}

// ObserveMerge records the size of each merge classification.
func (m *Metrics) ObserveMerge(changed, deleted, conflict int) {
	if m == nil {
		return
	}
	m.mergeResults.WithLabelValues("changed").Add(float64(changed))
	m.mergeResults.WithLabelValues("deleted").Add(float64(deleted))
	m.mergeResults.WithLabelValues("conflict").Add(float64(conflict))
}

// ObserveWatcherEvent records a handled filesystem event.
func (m *Metrics) ObserveWatcherEvent(event string) {
	if m == nil {
		return
	}
	m.watcherEvents.WithLabelValues(event).Inc()
}

// ObserveWatcherDrop records a dropped filesystem event.
func (m *Metrics) ObserveWatcherDrop() {
	if m == nil {
		return
	}
	m.watcherDropped.Inc()
}

// Registry returns the underlying registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
