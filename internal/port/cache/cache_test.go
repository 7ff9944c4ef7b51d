package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	fail bool
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.fail {
		return nil, false, errors.New("unavailable")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("unavailable")
	}
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := newMapCache()
	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte("42"), nil
	}

	for range 3 {
		v, err := cache.GetOrLoad(ctx, c, "score:a", time.Minute, load)
		if err != nil {
			t.Fatal(err)
		}
		if string(v) != "42" {
			t.Fatalf("expected 42, got %s", v)
		}
	}
	if loads != 1 {
		t.Fatalf("expected 1 load, got %d", loads)
	}
	if c.gets != 3 {
		t.Fatalf("expected every call to consult the cache, got %d gets", c.gets)
	}
}

func TestGetOrLoadCacheDown(t *testing.T) {
	c := newMapCache()
	c.fail = true
	loads := 0
	for range 2 {
		v, err := cache.GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) ([]byte, error) {
			loads++
			return []byte("v"), nil
		})
		if err != nil || string(v) != "v" {
			t.Fatalf("expected fallthrough to load, got %q, %v", v, err)
		}
	}
	if loads != 2 {
		t.Fatalf("expected every call to load while cache is down, got %d", loads)
	}
}

func TestGetOrLoadError(t *testing.T) {
	c := newMapCache()
	boom := errors.New("db down")
	_, err := cache.GetOrLoad(context.Background(), c, "k", time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, ok := c.data["k"]; ok {
		t.Fatal("failed load must not be cached")
	}
}
