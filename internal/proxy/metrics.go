package proxy

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// proxyMetrics contains Prometheus metrics for proxy operations.
type proxyMetrics struct {
	errorsTotal     *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	pools           prometheus.Gauge
	poolRefs        prometheus.Gauge
}

var (
	proxyMetricsInstance *proxyMetrics
	proxyMetricsOnce     sync.Once
)

// InitMetrics initializes the proxy metrics with the given registry. If
// registry is nil, metrics are registered with the default registerer.
// Must be called before the first exchange; later calls are no-ops.
func InitMetrics(registry *prometheus.Registry) {
	proxyMetricsOnce.Do(func() {
		var registerer prometheus.Registerer
		if registry != nil {
			registerer = registry
		} else {
			registerer = prometheus.DefaultRegisterer
		}
		factory := promauto.With(registerer)
		proxyMetricsInstance = &proxyMetrics{
			errorsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "proxy",
					Subsystem: "forwarder",
					Name:      "errors_total",
					Help:      "Total number of failed exchanges by kind",
				},
				[]string{"rule", "kind"},
			),
			backendDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "proxy",
					Subsystem: "forwarder",
					Name:      "backend_duration_seconds",
					Help:      "Time until the backend answered with headers",
					Buckets: []float64{
						.001, .005, .01, .025,
						.05, .1, .25, .5,
						1, 2.5, 5, 10,
					},
				},
				[]string{"rule"},
			),
			pools: factory.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "proxy",
					Subsystem: "pool",
					Name:      "active",
					Help:      "Number of live backend connection pools",
				},
			),
			poolRefs: factory.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "proxy",
					Subsystem: "pool",
					Name:      "references",
					Help:      "Number of references held on backend connection pools",
				},
			),
		}
	})
}

// getProxyMetrics returns the singleton proxy metrics instance,
// initializing it with the default registerer if needed.
func getProxyMetrics() *proxyMetrics {
	InitMetrics(nil)
	return proxyMetricsInstance
}

// recordError counts a failed exchange.
func (m *proxyMetrics) recordError(rule string, err error) {
	kind := string(util.UpstreamKindOf(err))
	switch {
	case errors.Is(err, ErrClientGone):
		kind = "client_gone"
	case kind == "":
		kind = "internal"
	}
	m.errorsTotal.WithLabelValues(rule, kind).Inc()
}
