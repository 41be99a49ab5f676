package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

const (
	defaultNamespace = "proxy"
	subsystem        = "rule"
)

// Token identifies one tracked exchange.
type Token struct {
	start time.Time
	done  *atomic.Bool
}

// Start returns when tracking started.
func (t Token) Start() time.Time {
	return t.start
}

// Handler is the request lifecycle metric hook.
type Handler interface {
	// StartTracking marks the start of an exchange for metricName.
	StartTracking(metricName, uri string) Token

	// StopTracking marks the end of the exchange started with token.
	// Stopping the same token twice has no effect.
	StopTracking(metricName string, token Token, uri string)
}

// PrometheusHandler records exchanges as Prometheus metrics.
type PrometheusHandler struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	logger          observability.Logger
}

// Option is a functional option for PrometheusHandler.
type Option func(*options)

type options struct {
	namespace  string
	registerer prometheus.Registerer
	logger     observability.Logger
}

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(o *options) {
		o.namespace = namespace
	}
}

// WithRegisterer sets the registerer the metrics are registered with.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewPrometheusHandler creates a PrometheusHandler. Without a registerer
// the default registerer is used.
func NewPrometheusHandler(opts ...Option) *PrometheusHandler {
	o := &options{
		namespace:  defaultNamespace,
		registerer: prometheus.DefaultRegisterer,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	factory := promauto.With(o.registerer)
	return &PrometheusHandler{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of exchanges completed per rule metric name",
			},
			[]string{"metric"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: o.namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Exchange duration per rule metric name",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10, 30,
				},
			},
			[]string{"metric"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: o.namespace,
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Number of exchanges in flight per rule metric name",
			},
			[]string{"metric"},
		),
		logger: o.logger,
	}
}

// StartTracking implements Handler.
func (h *PrometheusHandler) StartTracking(metricName, uri string) Token {
	h.inFlight.WithLabelValues(metricName).Inc()
	h.logger.Debug("tracking started",
		observability.String("metric", metricName),
		observability.String("uri", uri),
	)
	return Token{start: time.Now(), done: new(atomic.Bool)}
}

// StopTracking implements Handler.
func (h *PrometheusHandler) StopTracking(metricName string, token Token, uri string) {
	if token.done == nil || !token.done.CompareAndSwap(false, true) {
		return
	}

	elapsed := time.Since(token.start)
	h.inFlight.WithLabelValues(metricName).Dec()
	h.requestsTotal.WithLabelValues(metricName).Inc()
	h.requestDuration.WithLabelValues(metricName).Observe(elapsed.Seconds())
	h.logger.Debug("tracking stopped",
		observability.String("metric", metricName),
		observability.String("uri", uri),
		observability.Duration("elapsed", elapsed),
	)
}

// noopHandler discards all tracking.
type noopHandler struct{}

// NewNoopHandler returns a Handler that records nothing.
func NewNoopHandler() Handler {
	return noopHandler{}
}

func (noopHandler) StartTracking(_, _ string) Token {
	return Token{start: time.Now()}
}

func (noopHandler) StopTracking(_ string, _ Token, _ string) {}

var (
	_ Handler = (*PrometheusHandler)(nil)
	_ Handler = noopHandler{}
)
