// Package tiered layers the in-process score cache over the shared one.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
	"github.com/MFaiqKhan/sweepjudge/internal/resilience"
)

const (
	l2MaxFailures = 3
	l2Cooldown    = 30 * time.Second
)

// Cache reads L1, then L2, copying L2 hits into L1 for l1Expire.
//
// L2 is best effort: its errors become misses, and after l2MaxFailures
// consecutive errors it is skipped entirely for l2Cooldown.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	guard    *resilience.Breaker
	lookups  singleflight.Group
}

var _ cache.Cache = (*Cache)(nil)

// New layers l1 over l2. l2 may be nil.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{
		l1:       l1,
		l2:       l2,
		l1Expire: l1Expire,
		guard:    resilience.NewNamedBreaker("cache_l2", l2MaxFailures, l2Cooldown),
	}
}

// L2State reports the L2 breaker state, or "disabled" without an L2.
func (c *Cache) L2State() string {
	if c.l2 == nil {
		return "disabled"
	}
	return c.guard.State()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, hit, err := c.l1.Get(ctx, key); err != nil || hit || c.l2 == nil {
		return val, hit, err
	}

	// Concurrent misses on one key share a single L2 round trip.
	v, _, _ := c.lookups.Do(key, func() (any, error) {
		var val []byte
		err := c.guard.Execute(func() error {
			data, hit, err := c.l2.Get(ctx, key)
			if hit {
				val = data
			}
			return err
		})
		c.l2Failed(ctx, "get", key, err)
		if val != nil {
			_ = c.l1.Set(ctx, key, val, c.l1Expire)
		}
		return val, nil
	})
	val, _ := v.([]byte)
	return val, val != nil, nil
}

// Set writes L1 first; only an L1 failure is returned.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.l2 != nil {
		c.l2Failed(ctx, "set", key, c.guard.Execute(func() error {
			return c.l2.Set(ctx, key, value, ttl)
		}))
	}
	return nil
}

// Delete clears L2 before L1 so a racing Get cannot copy the old L2 value
// back into L1. L1 is cleared even when L2 fails; the L2 error is still
// returned because the shared entry may now be stale.
func (c *Cache) Delete(ctx context.Context, key string) error {
	var l2Err error
	if c.l2 != nil {
		l2Err = c.guard.Execute(func() error { return c.l2.Delete(ctx, key) })
	}
	return errors.Join(l2Err, c.l1.Delete(ctx, key))
}

func (c *Cache) l2Failed(ctx context.Context, op, key string, err error) {
	switch {
	case err == nil, errors.Is(err, resilience.ErrCircuitOpen):
	default:
		slog.WarnContext(ctx, "l2 cache "+op+" failed", "key", key, "error", err)
	}
}
