// Package logger provides structured logging setup for SweepJudge.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New builds the process logger. Every record carries a "service"
// attribute plus whichever task, agent, session and request IDs its
// context holds. The Closer flushes the async handler and is a no-op
// when logging is synchronous.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newWithWriter(cfg, os.Stdout)
}

func newWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(h, asyncBuffer, asyncWorkers)
		h, closer = ah, ah
	}

	return slog.New(&ContextHandler{inner: h}).With("service", cfg.Service), closer
}

// parseLevel is lenient: unknown names log at info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
