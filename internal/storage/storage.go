package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// storageTracerName is the OpenTelemetry tracer name for storage operations.
const storageTracerName = "avaproxy/storage"

// ErrInvalidConfig indicates that the storage configuration is invalid.
var ErrInvalidConfig = errors.New("invalid storage configuration")

// ResourceStorage is a key-value store of resources such as user profiles
// and documents served by storage rules.
type ResourceStorage interface {
	// Get returns the value stored under key. A missing key is reported
	// with ok false and a nil error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put stores value under key. A TTL of 0 means the entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the storage resources.
	Close() error
}

// Key builds a storage key from a namespace and a resource path. The
// empty namespace is the shared default used for profile lookups.
func Key(namespace, path string) string {
	if namespace == "" {
		return path
	}
	return namespace + ":" + path
}

// Option configures a storage implementation.
type Option func(*options)

type options struct {
	logger observability.Logger
}

// WithLogger sets the logger for the storage.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates the storage selected by cfg.
func New(cfg config.StorageConfig, opts ...Option) (ResourceStorage, error) {
	switch cfg.Type {
	case "", config.StorageTypeMemory:
		return NewMemoryStorage(opts...), nil
	case config.StorageTypeRedis:
		return NewRedisStorage(cfg.Redis, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrInvalidConfig, cfg.Type)
	}
}
