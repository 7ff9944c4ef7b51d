package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/MFaiqKhan/sweepjudge/internal/config"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"worker started"`},
		{"text", `msg="worker started"`},
		{"", `"msg":"worker started"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l, closer := newWithWriter(config.Logging{Level: "info", Format: tt.format, Service: "sweepjudge"}, &buf)
			l.Info("worker started", "class", "reader")
			closer.Close()

			if !strings.Contains(buf.String(), tt.want) || !strings.Contains(buf.String(), "sweepjudge") {
				t.Errorf("format %q wrote %q", tt.format, buf.String())
			}
		})
	}
}

func TestNewAsyncFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "debug", Service: "sweepjudge", Async: true}, &buf)
	for range 50 {
		l.Debug("heartbeat")
	}
	closer.Close()
	closer.Close()

	if n := strings.Count(buf.String(), "heartbeat"); n != 50 {
		t.Fatalf("expected 50 records after Close, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || TaskID(ctx) != "" {
		t.Fatal("bare context should carry no ids")
	}
	ctx = WithSessionID(WithRequestID(ctx, "req-7"), "sess-1")
	if RequestID(ctx) != "req-7" || SessionID(ctx) != "sess-1" {
		t.Fatalf("got request %q session %q", RequestID(ctx), SessionID(ctx))
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "svc"}, &buf)
	defer closer.Close()

	ctx := WithTaskID(context.Background(), "task-1")
	ctx = WithAgentID(ctx, "fetcher-1")
	ctx = WithSessionID(ctx, "sess-9")
	l.InfoContext(ctx, "dispatched")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	for k, v := range map[string]string{
		"service":    "svc",
		"task_id":    "task-1",
		"agent_id":   "fetcher-1",
		"session_id": "sess-9",
	} {
		if rec[k] != v {
			t.Errorf("%s = %v, want %s", k, rec[k], v)
		}
	}
	if _, ok := rec["request_id"]; ok {
		t.Error("request_id should be omitted when unset")
	}
}

func TestContextIDsSurviveAsyncQueue(t *testing.T) {
	var buf bytes.Buffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 10, 1)
	l := slog.New(NewContextHandler(ah))

	// The context is gone by the time the worker writes the record.
	ctx, cancel := context.WithCancel(WithTaskID(context.Background(), "t-2"))
	l.InfoContext(ctx, "queued")
	cancel()
	ah.Close()

	if !strings.Contains(buf.String(), `"task_id":"t-2"`) {
		t.Errorf("task_id lost across async handler: %s", buf.String())
	}
}
