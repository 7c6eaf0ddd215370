package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doclens/doclens/internal/config"
)

// Redis is the remote backend. Every operational error is logged at debug
// level and swallowed: a flaky Redis turns into cache misses, never into
// request failures.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Backend = (*Redis)(nil)

// NewRedis connects to the configured Redis server and verifies it with a
// short ping. A failed ping returns the error so the caller can fall back
// to the in-process backend.
func NewRedis(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{client: client, logger: logger}, nil
}

// Get returns the entry for key, or a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("redis get failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Debug("redis set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Delete removes key if present.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Debug("redis delete failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Clear drops the doclens namespaces only, leaving unrelated keys in the
// same database alone.
func (r *Redis) Clear(ctx context.Context) {
	for _, pattern := range []string{NamespaceEmbedding + "*", NamespaceResult + "*"} {
		iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				r.logger.Debug("redis clear failed", slog.String("error", err.Error()))
				return
			}
		}
		if err := iter.Err(); err != nil {
			r.logger.Debug("redis scan failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// NewBackend selects the backend per configuration: Redis when enabled and
// reachable, the in-process LRU otherwise. Redis init failure is logged and
// silently degrades to memory; callers never learn the difference.
func NewBackend(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.RedisEnabled {
		r, err := NewRedis(ctx, cfg, logger)
		if err == nil {
			logger.Info("cache backend: redis", slog.String("addr", cfg.RedisAddr()))
			return r
		}
		logger.Warn("redis unavailable, falling back to in-memory cache",
			slog.String("addr", cfg.RedisAddr()),
			slog.String("error", err.Error()))
	}

	return NewMemory(cfg)
}
