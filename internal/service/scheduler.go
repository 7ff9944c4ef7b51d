package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

// maxScoreLookups bounds concurrent score reads per dispatch.
const maxScoreLookups = 8

// Deliverer hands a task to a running worker's inbox.
type Deliverer interface {
	Deliver(ctx context.Context, agentID string, t *task.Task) error
}

// Scheduler pops tasks and gives each one to the highest-karma live agent
// that handles its type. It keeps no state of its own.
type Scheduler struct {
	queue   *TaskQueue
	dir     *Directory
	karma   *KarmaService
	workers Deliverer
	cfg     config.Scheduler
	metrics *cfotel.Metrics
}

// NewScheduler creates a Scheduler.
func NewScheduler(queue *TaskQueue, dir *Directory, karma *KarmaService, workers Deliverer, cfg config.Scheduler) *Scheduler {
	return &Scheduler{queue: queue, dir: dir, karma: karma, workers: workers, cfg: cfg}
}

// SetMetrics attaches otel instruments.
func (s *Scheduler) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// Run dispatches until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "pop_timeout", s.cfg.PopTimeout, "static_fallback", s.cfg.StaticFallback)
	for {
		if ctx.Err() != nil {
			slog.Info("scheduler stopped")
			return nil
		}
		if _, err := s.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dispatch cycle failed", "error", err)
			s.sleep(ctx, s.cfg.RetryDelay)
		}
	}
}

// DispatchOnce runs one scheduling cycle and reports whether a task was
// delivered. A task that cannot be delivered goes back to the queue.
func (s *Scheduler) DispatchOnce(ctx context.Context) (bool, error) {
	t, err := s.queue.Pop(ctx, s.cfg.PopTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("pop task: %w", err)
	}
	if t == nil {
		return false, nil
	}
	popped := time.Now()

	ctx, span := cfotel.StartDispatchSpan(ctx, t.ID, t.Type)
	defer span.End()

	candidates, err := s.candidates(ctx, t.Type)
	if err != nil {
		span.RecordError(err)
		s.requeue(ctx, t, s.cfg.RetryDelay, "candidate lookup failed")
		return false, err
	}
	if len(candidates) == 0 {
		span.SetStatus(codes.Error, "no candidates")
		slog.Warn("no agent for task type", "task_id", t.ID, "task_type", t.Type)
		s.requeue(ctx, t, s.cfg.RetryDelay, "no candidates")
		s.sleep(ctx, s.cfg.RetryDelay)
		return false, nil
	}

	agentID := s.pick(ctx, candidates)
	span.SetAttributes(attribute.String("agent.id", agentID), attribute.Int("candidates", len(candidates)))

	if err := s.workers.Deliver(ctx, agentID, t); err != nil {
		span.RecordError(err)
		slog.Warn("delivery failed", "task_id", t.ID, "agent_id", agentID, "error", err)
		s.requeue(ctx, t, s.cfg.RetryDelay, "delivery failed")
		return false, nil
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("task.type", t.Type))
		s.metrics.TasksDispatched.Add(ctx, 1, attrs)
		s.metrics.DispatchLatency.Record(ctx, time.Since(popped).Seconds(), attrs)
	}
	slog.Info("task dispatched", "task_id", t.ID, "task_type", t.Type, "agent_id", agentID, "session_id", t.SessionID)
	return true, nil
}

func (s *Scheduler) candidates(ctx context.Context, taskType string) ([]string, error) {
	ids, err := s.dir.GetCandidates(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("candidates for %s: %w", taskType, err)
	}
	if len(ids) == 0 && s.cfg.StaticFallback {
		ids = s.cfg.StaticRegistry[taskType]
	}
	return ids, nil
}

// pick returns the candidate with the highest score, breaking ties on the
// smaller id. Failed lookups count as zero.
func (s *Scheduler) pick(ctx context.Context, candidates []string) string {
	scores := make(map[string]int, len(candidates))
	results := make([]int, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxScoreLookups)
	for i, id := range candidates {
		g.Go(func() error {
			n, err := s.karma.CachedScore(gctx, id)
			if err != nil {
				slog.Warn("score lookup failed, using 0", "agent_id", id, "error", err)
				return nil
			}
			results[i] = n
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range candidates {
		scores[id] = results[i]
	}
	return best(candidates, scores)
}

// best orders by (-score, id) and returns the first.
func best(candidates []string, scores map[string]int) string {
	return slices.MinFunc(candidates, func(a, b string) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

func (s *Scheduler) requeue(ctx context.Context, t *task.Task, delay time.Duration, why string) {
	// The task must go back even when the dispatch ctx is ending.
	if err := s.queue.Requeue(context.WithoutCancel(ctx), t.ID, delay); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("requeue failed", "task_id", t.ID, "reason", why, "error", err)
		return
	}
	slog.Debug("task requeued", "task_id", t.ID, "reason", why, "delay", delay)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
