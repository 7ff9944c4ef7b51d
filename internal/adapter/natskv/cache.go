// Package natskv is the L2 cache: a JetStream KV bucket shared by every
// swarm process. Entry lifetime is the bucket TTL.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache stores values in one KV bucket.
type Cache struct {
	kv jetstream.KeyValue
}

func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// KV keys allow only [-/_=.a-zA-Z0-9]; cache keys carry ':' and spaces.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(k string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(k)
	return string(b), err == nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set ignores ttl; the bucket's MaxAge applies to every entry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, encodeKey(key), value)
	return err
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Watch calls changed with the cache key of every put or delete made to
// the bucket after Watch starts, by any process, until ctx is done. It is
// used to drop L1 copies that another process has made stale.
func (c *Cache) Watch(ctx context.Context, changed func(key string)) error {
	w, err := c.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-w.Updates():
			if !ok {
				return nil
			}
			if entry == nil {
				continue
			}
			key, ok := decodeKey(entry.Key())
			if !ok {
				slog.Debug("natskv: foreign key in bucket", "bucket", entry.Bucket(), "key", entry.Key())
				continue
			}
			changed(key)
		}
	}
}
