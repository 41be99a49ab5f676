package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRule is the label value used for requests that do not
// match any rule, keeping label cardinality bounded.
const unmatchedRule = "unmatched"

// Metrics holds the process-level Prometheus metrics and the registry
// backing the /metrics endpoint. Components register their own
// collectors with Registry().
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
	activeRules     prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
	startTime       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "proxy"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of inbound HTTP requests",
		},
		[]string{"method", "rule", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "rule"},
	)

	m.reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_reloads_total",
			Help: "Total number of routing rule " +
				"reloads by result",
		},
		[]string{"source", "result"},
	)

	m.activeRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_active",
			Help:      "Number of rules in the live routing table",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the proxy",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help: "Start time of the proxy " +
				"in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.reloadsTotal,
		m.activeRules,
		m.buildInfo,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.startTime.SetToCurrentTime()

	return m
}

// RecordRequest records a completed inbound request.
func (m *Metrics) RecordRequest(method, rule string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, rule, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, rule).Observe(duration.Seconds())
}

// RecordReload records a routing table reload attempt.
func (m *Metrics) RecordReload(source string, success bool, rules int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.reloadsTotal.WithLabelValues(source, result).Inc()
	if success {
		m.activeRules.Set(float64(rules))
	}
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware returns a middleware that records request metrics.
// The rule label comes from the context set by the router rather than
// the raw path.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			ctx, matched := TrackRule(r.Context())
			next.ServeHTTP(rw, r.WithContext(ctx))

			rule := matched()
			if rule == "" {
				rule = unmatchedRule
			}
			metrics.RecordRequest(r.Method, rule, rw.status, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for streaming support.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type ruleHolderKey struct{}

// ruleHolder lets the router report the matched rule back up to the
// metrics middleware, which runs outside the router's context.
type ruleHolder struct {
	pattern string
}

// TrackRule returns a context through which the router reports the
// matched rule, and a function reading it once the handler returned.
// Nested calls share the outermost holder.
func TrackRule(ctx context.Context) (context.Context, func() string) {
	h, ok := ctx.Value(ruleHolderKey{}).(*ruleHolder)
	if !ok {
		h = &ruleHolder{}
		ctx = context.WithValue(ctx, ruleHolderKey{}, h)
	}
	return ctx, func() string { return h.pattern }
}

// AnnotateRule records the matched rule pattern for request metrics.
// It is a no-op when the request did not pass through MetricsMiddleware.
func AnnotateRule(ctx context.Context, pattern string) {
	if h, ok := ctx.Value(ruleHolderKey{}).(*ruleHolder); ok {
		h.pattern = pattern
	}
}
