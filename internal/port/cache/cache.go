// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetOrLoad reads key through c. On a miss it calls load and stores the
// result for ttl. Cache errors are logged and fall through to load.
func GetOrLoad(ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok, err := c.Get(ctx, key); err != nil {
		slog.Warn("cache get failed", "key", key, "error", err)
	} else if ok {
		return val, nil
	}

	val, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, val, ttl); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
	}
	return val, nil
}
