//go:build load

// Package load contains load tests that are excluded from regular CI runs.
// Run with: go test -tags load -count=1 -timeout 60s ./tests/load/
package load

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/middleware"
)

func acceptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
}

func submit(handler http.Handler, apiKey, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks",
		strings.NewReader(`{"task_type":"Fetch_Paper","payload":{"url":"https://example.org/p.pdf"}}`))
	req.RemoteAddr = ip + ":40000"
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestSubmitSustainedLoad fires 1000 submissions from one producer at a
// rate=10 burst=10 limiter. Almost all must be rejected.
func TestSubmitSustainedLoad(t *testing.T) {
	rl := middleware.NewRateLimiter(10, 10)
	handler := rl.Handler(acceptHandler())

	const goroutines = 10
	const reqsPerGoroutine = 100

	var accepted, limited atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range reqsPerGoroutine {
				switch submit(handler, "producer-a", "10.0.0.1").Code {
				case http.StatusCreated:
					accepted.Add(1)
				case http.StatusTooManyRequests:
					limited.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	total := accepted.Load() + limited.Load()
	limitedPct := float64(limited.Load()) / float64(total) * 100
	t.Logf("total=%d accepted=%d limited=%d (%.1f%% rejected)", total, accepted.Load(), limited.Load(), limitedPct)

	if total != goroutines*reqsPerGoroutine {
		t.Errorf("expected %d responses, got %d", goroutines*reqsPerGoroutine, total)
	}
	if limitedPct < 80 {
		t.Errorf("expected >80%% rate-limited under sustained load, got %.1f%%", limitedPct)
	}
}

// TestSubmitBurstAbsorption sends exactly burst submissions concurrently;
// all pass and the next one is rejected.
func TestSubmitBurstAbsorption(t *testing.T) {
	const burst = 50
	rl := middleware.NewRateLimiter(1, burst)
	handler := rl.Handler(acceptHandler())

	var accepted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(burst)
	for range burst {
		go func() {
			defer wg.Done()
			if submit(handler, "", "10.0.0.1").Code == http.StatusCreated {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != burst {
		t.Errorf("expected all %d burst submissions to pass, got %d", burst, accepted.Load())
	}
	if code := submit(handler, "", "10.0.0.1").Code; code != http.StatusTooManyRequests {
		t.Errorf("burst+1 submission: expected 429, got %d", code)
	}
}

// TestProducerIsolation checks that API keys get their own buckets even
// when they share an address.
func TestProducerIsolation(t *testing.T) {
	const burst = 5
	rl := middleware.NewRateLimiter(5, burst)
	handler := rl.Handler(acceptHandler())

	count := func(key string, n int) (accepted, limited int) {
		for range n {
			switch submit(handler, key, "10.0.0.1").Code {
			case http.StatusCreated:
				accepted++
			case http.StatusTooManyRequests:
				limited++
			}
		}
		return accepted, limited
	}

	a1, l1 := count("producer-a", burst+3)
	if a1 != burst || l1 != 3 {
		t.Errorf("producer-a: expected %d/3, got %d/%d", burst, a1, l1)
	}
	a2, l2 := count("producer-b", burst)
	if a2 != burst || l2 != 0 {
		t.Errorf("producer-b: expected independent bucket, got %d accepted %d limited", a2, l2)
	}
	a3, _ := count("", burst)
	if a3 != burst {
		t.Errorf("anonymous producer: expected independent address bucket, got %d accepted", a3)
	}
}

// TestConcurrentBucketCreation sends one submission from each of 100
// producers at once.
func TestConcurrentBucketCreation(t *testing.T) {
	const producers = 100
	rl := middleware.NewRateLimiter(1, 1)
	handler := rl.Handler(acceptHandler())

	var accepted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := range producers {
		go func(idx int) {
			defer wg.Done()
			if submit(handler, fmt.Sprintf("producer-%d", idx), "10.0.0.1").Code == http.StatusCreated {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if accepted.Load() != producers {
		t.Errorf("expected all %d first submissions to pass, got %d", producers, accepted.Load())
	}
	if rl.Len() != producers {
		t.Errorf("expected %d buckets, got %d", producers, rl.Len())
	}
}

// TestIdleBucketEviction creates 1000 buckets and lets Run evict them.
func TestIdleBucketEviction(t *testing.T) {
	const buckets = 1000
	rl := middleware.NewRateLimiter(10, 10)
	handler := rl.Handler(acceptHandler())

	for i := range buckets {
		submit(handler, "", fmt.Sprintf("10.%d.%d.%d", i/65536, (i/256)%256, i%256))
	}
	if rl.Len() != buckets {
		t.Fatalf("expected %d buckets, got %d", buckets, rl.Len())
	}

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rl.Run(ctx, 5*time.Millisecond, time.Millisecond)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if rl.Len() != 0 {
		t.Errorf("expected 0 buckets after eviction, got %d", rl.Len())
	}
}
