package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Constants for audit logging.
const (
	redactedValue       = "[REDACTED]"
	defaultMaxBodyBytes = 4096
)

// DefaultRedactHeaders are always redacted in addition to configured ones.
var DefaultRedactHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
}

// Logger is the audit sink. Calls are fire and forget; failures are
// logged, never returned.
type Logger interface {
	// Record audits one completed exchange. status is the status sent to
	// the client. resp may be nil when nothing was proxied.
	Record(ctx context.Context, req *Request, resp *Response, status int)

	// RecordReload audits a routing table reload.
	RecordReload(ctx context.Context, source string, rules int, err error)

	// Close closes the logger.
	Close() error
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with registerer, or with
// the default registerer when nil.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "proxy"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "outcome"},
		),
	}

	// A second logger on the same registry shares the first one's counter.
	if err := registerer.Register(m.eventsTotal); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.eventsTotal = existing
			}
		}
	}

	m.Init()
	return m
}

// Init pre-populates label combinations with zero values.
func (m *Metrics) Init() {
	for _, t := range []EventType{EventTypeExchange, EventTypeConfiguration} {
		for _, o := range []Outcome{OutcomeSuccess, OutcomeFailure} {
			m.eventsTotal.WithLabelValues(string(t), string(o))
		}
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, outcome Outcome) {
	m.eventsTotal.WithLabelValues(string(eventType), string(outcome)).Inc()
}

// logger writes events as JSON lines.
type logger struct {
	writer       io.Writer
	closer       io.Closer
	mu           sync.Mutex
	logger       observability.Logger
	metrics      *Metrics
	registerer   prometheus.Registerer
	redact       []string
	maxBodyBytes int
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerWriter sets the writer.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// WithLoggerRegisterer sets the Prometheus registerer for audit metrics.
func WithLoggerRegisterer(registerer prometheus.Registerer) LoggerOption {
	return func(lg *logger) {
		lg.registerer = registerer
	}
}

// NewLogger creates an audit logger. A disabled configuration yields a
// no-op logger.
func NewLogger(cfg config.AuditConfig, opts ...LoggerOption) (Logger, error) {
	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	l := &logger{
		logger:       observability.NopLogger(),
		redact:       append(append([]string{}, DefaultRedactHeaders...), cfg.RedactHeaders...),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if l.maxBodyBytes <= 0 {
		l.maxBodyBytes = defaultMaxBodyBytes
	}

	for _, opt := range opts {
		opt(l)
	}

	l.metrics = NewMetrics("proxy", l.registerer)

	if l.writer == nil {
		writer, closer, err := createWriter(cfg.Output)
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	return l, nil
}

// createWriter creates the output writer for stdout, stderr or a file.
func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// Record implements Logger.
func (l *logger) Record(ctx context.Context, req *Request, resp *Response, status int) {
	event := NewEvent(EventTypeExchange, outcomeForStatus(status))

	if req != nil {
		event.Rule = req.Rule
		body, truncated := l.capture(req.Body)
		event.Request = &RequestDetails{
			Method:     req.Method,
			URI:        req.URI,
			Headers:    l.redactHeaders(flattenHeaders(req.Header)),
			Body:       body,
			Truncated:  truncated,
			User:       req.User,
			RequestID:  req.RequestID,
			RemoteAddr: req.RemoteAddr,
		}
		if !req.Start.IsZero() {
			event.Duration = time.Since(req.Start)
		}
	}

	details := &ResponseDetails{StatusCode: status}
	if resp != nil {
		body, truncated := l.capture(resp.Body)
		details.Headers = l.redactHeaders(flattenHeaders(resp.Header))
		details.Body = body
		details.Truncated = truncated
		details.Size = resp.Size
	}
	event.Response = details

	l.logEvent(ctx, event)
}

// RecordReload implements Logger.
func (l *logger) RecordReload(ctx context.Context, source string, rules int, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	event := NewEvent(EventTypeConfiguration, outcome)
	event.Reload = &ReloadDetails{Source: source, Rules: rules}
	if err != nil {
		event.Error = err.Error()
	}
	l.logEvent(ctx, event)
}

func (l *logger) logEvent(ctx context.Context, event *Event) {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		event.SpanID = sc.SpanID().String()
	}

	l.metrics.RecordEvent(event.Type, event.Outcome)
	l.writeEvent(event)
}

// capture returns the body as a string, cut at the configured limit.
func (l *logger) capture(body []byte) (string, bool) {
	truncated := false
	if len(body) > l.maxBodyBytes {
		body = body[:l.maxBodyBytes]
		truncated = true
	}
	if !utf8.Valid(body) {
		return strings.ToValidUTF8(string(body), "�"), truncated
	}
	return string(body), truncated
}

func (l *logger) redactHeaders(headers map[string]string) map[string]string {
	for key := range headers {
		if l.shouldRedact(key) {
			headers[key] = redactedValue
		}
	}
	return headers
}

// shouldRedact matches case-insensitively, including partial matches.
func (l *logger) shouldRedact(field string) bool {
	lowerField := strings.ToLower(field)
	for _, redactField := range l.redact {
		if strings.Contains(lowerField, strings.ToLower(redactField)) {
			return true
		}
	}
	return false
}

func (l *logger) writeEvent(event *Event) {
	output, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}
	output = append(output, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// Close closes the logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// noopLogger is a no-op audit logger.
type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Record(_ context.Context, _ *Request, _ *Response, _ int) {}

func (l *noopLogger) RecordReload(_ context.Context, _ string, _ int, _ error) {}

func (l *noopLogger) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Logger = (*logger)(nil)
	_ Logger = (*noopLogger)(nil)
)
