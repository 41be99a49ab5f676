package storage

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// MemoryStorage is an in-process ResourceStorage.
type MemoryStorage struct {
	logger observability.Logger

	mu    sync.RWMutex
	items map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	o := buildOptions(opts)
	o.logger.Info("memory storage initialized")
	return &MemoryStorage{
		logger: o.logger,
		items:  make(map[string]memoryEntry),
	}
}

// Get implements ResourceStorage.
func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, span := otel.Tracer(storageTracerName).Start(ctx, "storage.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("storage.backend", "memory"),
			attribute.String("storage.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetStorageMetrics().operationDuration.WithLabelValues(
			"memory", "get",
		).Observe(time.Since(start).Seconds())
	}()

	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		GetStorageMetrics().missesTotal.WithLabelValues("memory").Inc()
		span.SetAttributes(attribute.Bool("storage.hit", false))
		return nil, false, nil
	}

	GetStorageMetrics().hitsTotal.WithLabelValues("memory").Inc()
	span.SetAttributes(
		attribute.Bool("storage.hit", true),
		attribute.Int("storage.value_size", len(entry.value)),
	)
	return entry.value, true, nil
}

// Put implements ResourceStorage.
func (s *MemoryStorage) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetStorageMetrics().operationDuration.WithLabelValues(
			"memory", "put",
		).Observe(time.Since(start).Seconds())
	}()

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = entry
	s.mu.Unlock()

	s.logger.Debug("storage put",
		observability.String("key", key),
		observability.Int("size", len(value)))
	return nil
}

// Delete implements ResourceStorage.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStorage) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close implements ResourceStorage.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.items = make(map[string]memoryEntry)
	s.mu.Unlock()
	return nil
}
