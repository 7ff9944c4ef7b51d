// Package pipeline holds the built-in research pipeline handlers and the
// factories that register them by class tag.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MFaiqKhan/sweepjudge/internal/adapter/litellm"
	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
	"github.com/MFaiqKhan/sweepjudge/internal/service"
)

// SessionReader lists the tasks of a session.
type SessionReader interface {
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
}

// Deps are shared by every built-in handler.
type Deps struct {
	Worker   config.Worker
	Reviewer config.Reviewer

	HTTP *http.Client
	// LLM is nil when no LiteLLM proxy is configured; handlers then use
	// their heuristic fallbacks and the reviewer scores statically.
	LLM *litellm.Client
	// Completer overrides LLM for the summary and critique handlers.
	Completer llm.Completer

	Queue    *service.TaskQueue
	Sessions SessionReader

	// Downloads is shared by all fetchers; RegisterDefaults creates it from
	// Worker.MaxParallelFetches when nil.
	Downloads *Limiter
}

func (d Deps) completer() llm.Completer {
	if d.Completer != nil {
		return d.Completer
	}
	if d.LLM == nil {
		return nil
	}
	return d.LLM
}

func (d Deps) httpClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: d.Worker.FetchTimeout}
}

// Spawn config values arrive from YAML or JSON, so numbers may be int or
// float64 and lists are []any.

func configString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func configInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func configStrings(cfg map[string]any, key string, def []string) []string {
	switch v := cfg[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, strings.ToLower(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		if v != "" {
			return strings.Split(strings.ToLower(v), ",")
		}
	}
	return def
}

func configFloat(cfg map[string]any, key string, def float64) (float64, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("config %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("config %s: unsupported type %T", key, cfg[key])
}
