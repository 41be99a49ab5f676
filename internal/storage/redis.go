package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// defaultKeyPrefix namespaces proxy keys in a shared Redis.
const defaultKeyPrefix = "avaproxy:"

// RedisStorage is a ResourceStorage backed by Redis.
type RedisStorage struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(cfg *config.RedisStorageConfig, opts ...Option) (*RedisStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: redis configuration is required", ErrInvalidConfig)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: redis URL is required", ErrInvalidConfig)
	}

	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis URL: %s", ErrInvalidConfig, err.Error())
	}
	applyRedisPoolOptions(redisOpts, cfg)

	client := redis.NewClient(redisOpts)
	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	o := buildOptions(opts)
	s := &RedisStorage{
		logger:    o.logger,
		client:    client,
		keyPrefix: resolveKeyPrefix(cfg.KeyPrefix),
	}

	o.logger.Info("redis storage initialized",
		observability.String("addr", redisOpts.Addr),
		observability.String("keyPrefix", s.keyPrefix))

	return s, nil
}

// applyRedisPoolOptions applies pool and timeout overrides.
func applyRedisPoolOptions(opts *redis.Options, cfg *config.RedisStorageConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}
}

func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

func resolveKeyPrefix(prefix string) string {
	if prefix == "" {
		return defaultKeyPrefix
	}
	return prefix
}

// Get implements ResourceStorage.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := otel.Tracer(storageTracerName).Start(ctx, "storage.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.backend", "redis"),
			attribute.String("storage.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetStorageMetrics().operationDuration.WithLabelValues(
			"redis", "get",
		).Observe(time.Since(start).Seconds())
	}()

	val, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	switch {
	case err == nil:
		GetStorageMetrics().hitsTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(
			attribute.Bool("storage.hit", true),
			attribute.Int("storage.value_size", len(val)),
		)
		return val, true, nil

	case errors.Is(err, redis.Nil):
		GetStorageMetrics().missesTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(attribute.Bool("storage.hit", false))
		return nil, false, nil

	default:
		GetStorageMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis get failed",
			observability.String("key", key),
			observability.Error(err))
		return nil, false, err
	}
}

// Put implements ResourceStorage.
func (s *RedisStorage) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(storageTracerName).Start(ctx, "storage.Put",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.backend", "redis"),
			attribute.String("storage.key", key),
			attribute.Int("storage.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetStorageMetrics().operationDuration.WithLabelValues(
			"redis", "put",
		).Observe(time.Since(start).Seconds())
	}()

	if err := s.client.Set(ctx, s.keyPrefix+key, value, ttl).Err(); err != nil {
		GetStorageMetrics().errorsTotal.WithLabelValues("redis", "put").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		s.logger.Error("redis set failed",
			observability.String("key", key),
			observability.Error(err))
		return err
	}
	return nil
}

// Delete implements ResourceStorage.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetStorageMetrics().operationDuration.WithLabelValues(
			"redis", "delete",
		).Observe(time.Since(start).Seconds())
	}()

	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		GetStorageMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		return err
	}
	return nil
}

// Close implements ResourceStorage.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
