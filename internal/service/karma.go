package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
	"github.com/MFaiqKhan/sweepjudge/internal/port/ledger"
)

const defaultTopLimit = 10

// KarmaService appends reputation changes and serves scores.
type KarmaService struct {
	store    ledger.Store
	cache    cache.Cache
	scoreTTL time.Duration
	events   *Events
	metrics  *cfotel.Metrics
}

// NewKarmaService creates a KarmaService. c may be nil, in which case
// CachedScore reads the store directly.
func NewKarmaService(store ledger.Store, c cache.Cache, scoreTTL time.Duration, events *Events) *KarmaService {
	return &KarmaService{store: store, cache: c, scoreTTL: scoreTTL, events: events}
}

// SetMetrics attaches otel instruments.
func (s *KarmaService) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// AddDelta appends one ledger row and invalidates the agent's cached score.
func (s *KarmaService) AddDelta(ctx context.Context, agentID string, delta int, reason, taskID string) (*karma.Event, error) {
	ev := &karma.Event{AgentID: agentID, Delta: delta, Reason: reason, TaskID: taskID}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("append karma: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, scoreKey(agentID)); err != nil {
			slog.Warn("score cache invalidate failed", "agent_id", agentID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.KarmaDelta.Record(ctx, int64(delta), metric.WithAttributes(attribute.String("reason", reasonLabel(reason))))
	}

	slog.Info("karma recorded", "agent_id", agentID, "delta", delta, "reason", reason, "task_id", taskID)
	s.events.KarmaRecorded(ctx, ev)
	return ev, nil
}

// Score returns the exact ledger sum for agentID.
func (s *KarmaService) Score(ctx context.Context, agentID string) (int, error) {
	return s.store.Score(ctx, agentID)
}

// CachedScore reads the score through the cache. Writes made through this
// service invalidate it, so in-process reads never see a stale value.
func (s *KarmaService) CachedScore(ctx context.Context, agentID string) (int, error) {
	if s.cache == nil {
		return s.Score(ctx, agentID)
	}
	raw, err := cache.GetOrLoad(ctx, s.cache, scoreKey(agentID), s.scoreTTL, func(ctx context.Context) ([]byte, error) {
		n, err := s.store.Score(ctx, agentID)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(n), 10), nil
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		// Corrupt entry: drop it and fall back to the ledger.
		_ = s.cache.Delete(ctx, scoreKey(agentID))
		return s.Score(ctx, agentID)
	}
	return n, nil
}

// Top returns the leaderboard, score desc then agent id asc.
func (s *KarmaService) Top(ctx context.Context, limit int) ([]karma.Standing, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	return s.store.Top(ctx, limit)
}

// Events returns the newest ledger rows for agentID.
func (s *KarmaService) Events(ctx context.Context, agentID string, limit int) ([]karma.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.Events(ctx, agentID, limit)
}

func scoreKey(agentID string) string {
	return "score:" + agentID
}

// reasonLabel keeps metric cardinality bounded; reviewer reasons embed
// free text.
func reasonLabel(reason string) string {
	switch reason {
	case karma.ReasonUnhandledException, karma.ReasonValidationError, karma.ReasonInvalidReview:
		return reason
	}
	if strings.HasPrefix(reason, reviewReasonPrefix) {
		return "review"
	}
	return "other"
}
