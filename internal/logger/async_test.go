package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// sink records messages; gate, when set, blocks every Handle until closed.
type sink struct {
	mu   sync.Mutex
	msgs []string
	gate chan struct{}
}

func (s *sink) Enabled(context.Context, slog.Level) bool { return true }

func (s *sink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, rec.Message)
	s.mu.Unlock()
	return nil
}

func (s *sink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *sink) WithGroup(string) slog.Handler      { return s }

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestAsyncHandlerCloseFlushes(t *testing.T) {
	s := &sink{}
	h := NewAsyncHandler(s, 512, 3)
	log := slog.New(h)

	for i := range 300 {
		log.Info("task dequeued", "n", i)
	}
	h.Close()

	if got := s.len(); got != 300 {
		t.Fatalf("expected 300 records after Close, got %d", got)
	}
	if h.DroppedCount() != 0 {
		t.Errorf("nothing should drop below capacity, dropped %d", h.DroppedCount())
	}
}

func TestAsyncHandlerConcurrentWorkers(t *testing.T) {
	s := &sink{}
	h := NewAsyncHandler(s, 4096, 4)
	log := slog.New(h)

	var wg sync.WaitGroup
	for w := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				log.Info("heartbeat", "agent_id", w)
			}
		}()
	}
	wg.Wait()
	h.Close()

	if got := int64(s.len()) + h.DroppedCount(); got != 16*200 {
		t.Fatalf("written+dropped = %d, want %d", got, 16*200)
	}
}

func TestAsyncHandlerNeverBlocksCaller(t *testing.T) {
	s := &sink{gate: make(chan struct{})}
	h := NewAsyncHandler(s, 2, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 20 {
			_ = h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "scheduler tick", 0))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked while the writer was stuck")
	}

	// One record is held by the writer, two sit in the buffer.
	if d := h.DroppedCount(); d < 17 {
		t.Errorf("expected at least 17 dropped, got %d", d)
	}
	close(s.gate)
	h.Close()
}

func TestAsyncHandlerDerivedShareQueue(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16, 1)

	slog.New(h).With("agent_id", "reviewer-1").WithGroup("review").Info("scored", "score", 0.8)
	h.Close()
	h.Close() // second close is a no-op

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output is not one JSON record: %v (%s)", err, buf.String())
	}
	if line["agent_id"] != "reviewer-1" {
		t.Errorf("attrs lost through derived handler: %v", line)
	}
	group, ok := line["review"].(map[string]any)
	if !ok || group["score"] != 0.8 {
		t.Errorf("group lost through derived handler: %v", line)
	}
}

func TestAsyncHandlerEnabledFollowsInner(t *testing.T) {
	inner := slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewAsyncHandler(inner, 1, 1)
	defer h.Close()

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be filtered by the inner handler")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should pass")
	}
}
