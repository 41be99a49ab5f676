package proxy

import (
	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/monitoring"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
)

// defaultCaptureBytes bounds how much of each body is kept for auditing.
const defaultCaptureBytes = 64 * 1024

// Option is a functional option shared by Forwarder and NullForwarder.
type Option func(*options)

type options struct {
	store           storage.ResourceStorage
	monitor         monitoring.Handler
	audit           audit.Logger
	logger          observability.Logger
	profileTemplate string
	captureBytes    int
}

func buildOptions(opts []Option) *options {
	o := &options{
		monitor:         monitoring.NewNoopHandler(),
		audit:           audit.NewNoopLogger(),
		logger:          observability.NopLogger(),
		profileTemplate: config.DefaultProfileTemplate,
		captureBytes:    defaultCaptureBytes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStorage sets the storage used for profile lookups. Without one,
// profile enrichment is skipped.
func WithStorage(store storage.ResourceStorage) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithMonitoring sets the request lifecycle metric hook.
func WithMonitoring(monitor monitoring.Handler) Option {
	return func(o *options) {
		o.monitor = monitor
	}
}

// WithAudit sets the audit logger.
func WithAudit(logger audit.Logger) Option {
	return func(o *options) {
		o.audit = logger
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithProfileTemplate sets the storage path template for user profiles.
// It must contain exactly one %s, replaced by the user id.
func WithProfileTemplate(template string) Option {
	return func(o *options) {
		o.profileTemplate = template
	}
}

// WithCaptureBytes sets how many body bytes are kept for auditing.
func WithCaptureBytes(n int) Option {
	return func(o *options) {
		o.captureBytes = n
	}
}
