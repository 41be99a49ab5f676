package storage

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics holds Prometheus metrics for storage operations.
type StorageMetrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

var (
	storageMetricsInstance *StorageMetrics
	storageMetricsOnce     sync.Once
)

// GetStorageMetrics returns the singleton storage metrics instance.
func GetStorageMetrics() *StorageMetrics {
	storageMetricsOnce.Do(func() {
		storageMetricsInstance = newStorageMetrics()
	})
	return storageMetricsInstance
}

// MustRegister registers the storage collectors with registry. The
// collectors are created with promauto on the default registry, the
// proxy serves /metrics from its own one.
func (m *StorageMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.errorsTotal,
		m.operationDuration,
	)
}

// Init pre-initializes label combinations so series appear at startup.
func (m *StorageMetrics) Init() {
	for _, backend := range []string{"memory", "redis"} {
		m.hitsTotal.WithLabelValues(backend)
		m.missesTotal.WithLabelValues(backend)
		for _, op := range []string{"get", "put", "delete"} {
			m.operationDuration.WithLabelValues(backend, op)
			m.errorsTotal.WithLabelValues(backend, op)
		}
	}
}

func newStorageMetrics() *StorageMetrics {
	return &StorageMetrics{
		hitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "proxy",
				Subsystem: "storage",
				Name:      "hits_total",
				Help:      "Total number of storage lookups that found a value",
			},
			[]string{"backend"},
		),
		missesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "proxy",
				Subsystem: "storage",
				Name:      "misses_total",
				Help:      "Total number of storage lookups for absent keys",
			},
			[]string{"backend"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "proxy",
				Subsystem: "storage",
				Name:      "errors_total",
				Help:      "Total number of failed storage operations",
			},
			[]string{"backend", "operation"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "proxy",
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend", "operation"},
		),
	}
}
