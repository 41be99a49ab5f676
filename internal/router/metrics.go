package router

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dispatchMetrics contains Prometheus metrics for table lookups.
type dispatchMetrics struct {
	dispatchTotal *prometheus.CounterVec
	missesTotal   prometheus.Counter
	tableSwaps    prometheus.Counter
}

var (
	dispatchMetricsInstance *dispatchMetrics
	dispatchMetricsOnce     sync.Once
)

// InitMetrics initializes the router metrics with the given registry. If
// registry is nil, metrics are registered with the default registerer.
// Later calls are no-ops.
func InitMetrics(registry *prometheus.Registry) {
	dispatchMetricsOnce.Do(func() {
		var registerer prometheus.Registerer
		if registry != nil {
			registerer = registry
		} else {
			registerer = prometheus.DefaultRegisterer
		}
		factory := promauto.With(registerer)
		dispatchMetricsInstance = &dispatchMetrics{
			dispatchTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "router",
					Name:      "dispatch_total",
					Help:      "Total number of requests dispatched by handler kind",
				},
				[]string{"kind"},
			),
			missesTotal: factory.NewCounter(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "router",
					Name:      "misses_total",
					Help:      "Total number of requests no rule matched",
				},
			),
			tableSwaps: factory.NewCounter(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "router",
					Name:      "table_swaps_total",
					Help:      "Total number of routing table swaps",
				},
			),
		}
		for _, kind := range []Kind{KindForward, KindNull, KindStorage} {
			dispatchMetricsInstance.dispatchTotal.WithLabelValues(string(kind))
		}
	})
}

// getDispatchMetrics returns the singleton router metrics instance.
func getDispatchMetrics() *dispatchMetrics {
	InitMetrics(nil)
	return dispatchMetricsInstance
}
