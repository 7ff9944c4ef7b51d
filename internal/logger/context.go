package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	taskIDKey
	agentIDKey
	sessionIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithTaskID tags every record logged with ctx with the task ID.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskID returns the task ID stored by WithTaskID.
func TaskID(ctx context.Context) string {
	return stringValue(ctx, taskIDKey)
}

// WithAgentID tags every record logged with ctx with the agent ID.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// AgentID returns the agent ID stored by WithAgentID.
func AgentID(ctx context.Context) string {
	return stringValue(ctx, agentIDKey)
}

// WithSessionID tags every record logged with ctx with the pipeline session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID returns the session ID stored by WithSessionID.
func SessionID(ctx context.Context) string {
	return stringValue(ctx, sessionIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextHandler adds the IDs stored in the context to each record before
// passing it on. It must sit outside AsyncHandler since records are
// drained without their original context.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	for _, kv := range []struct {
		key string
		val string
	}{
		{"request_id", RequestID(ctx)},
		{"task_id", TaskID(ctx)},
		{"agent_id", AgentID(ctx)},
		{"session_id", SessionID(ctx)},
	} {
		if kv.val != "" {
			rec.AddAttrs(slog.String(kv.key, kv.val))
		}
	}
	return h.inner.Handle(ctx, rec)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
