// Package cache is a best-effort read-through response cache. Backend
// failures never fail a read; the value is computed live instead.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend stores raw values with a TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key that starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache wraps a Backend with miss collapsing and metrics. A nil backend
// disables caching.
type Cache struct {
	backend Backend
	logger  *zap.Logger
	metrics *Metrics
	group   singleflight.Group
}

// New creates a cache. backend may be nil.
func New(backend Backend, metrics *Metrics, logger *zap.Logger) *Cache {
	return &Cache{backend: backend, logger: logger, metrics: metrics}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Key joins a namespace and parts into a cache key.
func Key(namespace string, parts ...string) string {
	key := namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// GetOrCompute returns the cached value for key, or runs compute, stores its
// result for ttl and returns it. Concurrent misses on one key share a single
// compute call.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if !c.Enabled() {
		return compute(ctx)
	}

	value, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		c.metrics.hit()
		return value, nil
	case errors.Is(err, ErrMiss):
		c.metrics.miss()
	default:
		c.metrics.failure()
		c.logger.Warn("Cache read failed, serving live data", zap.String("key", key), zap.Error(err))
		return compute(ctx)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.backend.Set(ctx, key, value, ttl); err != nil {
			c.metrics.failure()
			c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops every key in namespace. Failures are logged and returned
// but callers treat them as non-fatal; entries then expire by TTL.
func (c *Cache) Invalidate(ctx context.Context, namespace string) error {
	if !c.Enabled() {
		return nil
	}

	if err := c.backend.DeletePrefix(ctx, namespace+":"); err != nil {
		c.metrics.failure()
		c.logger.Warn("Cache invalidation failed", zap.String("namespace", namespace), zap.Error(err))
		return fmt.Errorf("failed to invalidate %s: %w", namespace, err)
	}

	c.metrics.invalidation()
	return nil
}

// Fetch is GetOrCompute for JSON-encodable values.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	if !c.Enabled() {
		return compute(ctx)
	}

	var computed *T
	raw, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computed = &v
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	if computed != nil {
		return *computed, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return compute(ctx)
	}
	return out, nil
}
