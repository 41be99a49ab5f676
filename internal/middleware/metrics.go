package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for middleware operations.
type MiddlewareMetrics struct {
	panicsRecovered prometheus.Counter
	requestIDs      *prometheus.CounterVec
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// InitMetrics initializes the middleware metrics with the given registry.
// If registry is nil, metrics are registered with the default registerer.
// Later calls are no-ops.
func InitMetrics(registry *prometheus.Registry) {
	middlewareMetricsOnce.Do(func() {
		var registerer prometheus.Registerer
		if registry != nil {
			registerer = registry
		} else {
			registerer = prometheus.DefaultRegisterer
		}
		factory := promauto.With(registerer)
		middlewareMetrics = &MiddlewareMetrics{
			panicsRecovered: factory.NewCounter(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "middleware",
					Name:      "panics_recovered_total",
					Help:      "Total number of panics recovered",
				},
			),
			requestIDs: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "middleware",
					Name:      "request_ids_total",
					Help:      "Total number of request ids by origin",
				},
				[]string{"origin"},
			),
		}
	})
}

// GetMiddlewareMetrics returns the singleton middleware metrics instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	InitMetrics(nil)
	return middlewareMetrics
}
