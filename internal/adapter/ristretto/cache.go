// Package ristretto is the in-process L1 cache, bounded by value bytes.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Values cached here are small: decimal karma scores and replayed
// idempotent responses. The estimate sizes the admission counters.
const avgEntryBytes = 64

// Cache is a byte-bounded L1 cache with per-entry TTLs.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New bounds the cache to maxBytes of stored values.
func New(maxBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(10*maxBytes/avgEntryBytes, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// NewMB is New with the bound in megabytes.
func NewMB(mb int64) (*Cache, error) {
	return New(mb << 20)
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set blocks until the entry is admitted or rejected, so a Set followed by
// Get in the same goroutine observes the new value. A zero ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio is hits / (hits + misses) since start, 0 before any Get.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
