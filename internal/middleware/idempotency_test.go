package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/middleware"
)

// memStore is an in-memory cache.Cache.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// pushHandler answers like CreateTask and counts its calls.
type pushHandler struct {
	calls  atomic.Int32
	status int
	gate   chan struct{}
}

func (h *pushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.gate != nil {
		<-h.gate
	}
	n := h.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	_, _ = fmt.Fprintf(w, `{"call":%d,"echo":%q}`, n, body)
}

func submit(h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const fetch = `{"task_type":"Fetch_Paper","payload":{"url":"https://arxiv.org/pdf/1706.03762"}}`

func TestIdempotencyWithoutKeyRunsEveryTime(t *testing.T) {
	store := newMemStore()
	inner := &pushHandler{status: http.StatusCreated}
	h := middleware.Idempotency(store, time.Hour)(inner)

	submit(h, "/api/v1/tasks", "", fetch)
	submit(h, "/api/v1/tasks", "", fetch)
	if inner.calls.Load() != 2 || store.len() != 0 {
		t.Fatalf("calls=%d stored=%d", inner.calls.Load(), store.len())
	}
}

func TestIdempotencyReplaysSameRequest(t *testing.T) {
	inner := &pushHandler{status: http.StatusCreated}
	h := middleware.Idempotency(newMemStore(), time.Hour)(inner)

	first := submit(h, "/api/v1/tasks", "seed-1", fetch)
	second := submit(h, "/api/v1/tasks", "seed-1", fetch)

	if inner.calls.Load() != 1 {
		t.Fatalf("handler ran %d times", inner.calls.Load())
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Error("first response must not be marked replayed")
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("replay headers: %v", second.Header())
	}
}

func TestIdempotencyRejectsReuseWithDifferentBody(t *testing.T) {
	inner := &pushHandler{status: http.StatusCreated}
	h := middleware.Idempotency(newMemStore(), time.Hour)(inner)

	submit(h, "/api/v1/tasks", "seed-1", fetch)
	rec := submit(h, "/api/v1/tasks", "seed-1", `{"task_type":"Fetch_Paper","payload":{"url":"https://example.org/other.pdf"}}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("mismatched reuse must not run the handler, calls=%d", inner.calls.Load())
	}
}

func TestIdempotencyScopedByPath(t *testing.T) {
	inner := &pushHandler{status: http.StatusCreated}
	h := middleware.Idempotency(newMemStore(), time.Hour)(inner)

	submit(h, "/api/v1/tasks", "same", fetch)
	submit(h, "/api/v1/workers", "same", fetch)
	if inner.calls.Load() != 2 {
		t.Fatalf("key reuse on another path should run, calls=%d", inner.calls.Load())
	}
}

func TestIdempotencyConcurrentDuplicatesRunOnce(t *testing.T) {
	inner := &pushHandler{status: http.StatusCreated, gate: make(chan struct{})}
	h := middleware.Idempotency(newMemStore(), time.Hour)(inner)

	const n = 8
	results := make([]*httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = submit(h, "/api/v1/tasks", "burst", fetch)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	if inner.calls.Load() != 1 {
		t.Fatalf("handler ran %d times for one key", inner.calls.Load())
	}
	replayed := 0
	for _, rec := range results {
		if rec.Code != http.StatusCreated || rec.Body.String() != results[0].Body.String() {
			t.Fatalf("divergent response %d %q", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Idempotent-Replayed") == "true" {
			replayed++
		}
	}
	if replayed != n-1 {
		t.Errorf("expected %d replayed responses, got %d", n-1, replayed)
	}
}

func TestIdempotencyServerErrorNotStored(t *testing.T) {
	inner := &pushHandler{status: http.StatusInternalServerError}
	h := middleware.Idempotency(newMemStore(), time.Hour)(inner)

	submit(h, "/api/v1/tasks", "retry-me", fetch)
	submit(h, "/api/v1/tasks", "retry-me", fetch)
	if inner.calls.Load() != 2 {
		t.Fatalf("5xx should be retried, calls=%d", inner.calls.Load())
	}
}

func TestIdempotencyIgnoresGET(t *testing.T) {
	store := newMemStore()
	inner := &pushHandler{status: http.StatusOK}
	h := middleware.Idempotency(store, time.Hour)(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if inner.calls.Load() != 1 || store.len() != 0 {
		t.Fatalf("GET should pass through unstored, calls=%d stored=%d", inner.calls.Load(), store.len())
	}
}

func TestIdempotencyStoreDown(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("kv unavailable")
	inner := &pushHandler{status: http.StatusCreated}
	h := middleware.Idempotency(store, time.Hour)(inner)

	rec := submit(h, "/api/v1/tasks", "k", fetch)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "Fetch_Paper") {
		t.Fatalf("store failure must not block the request, got %d %s", rec.Code, rec.Body.String())
	}
}
