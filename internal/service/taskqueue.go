package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/taskqueue"
)

// TaskQueue wraps the durable task store with the wake signal, events and
// the stuck-task reclaimer.
type TaskQueue struct {
	store   taskqueue.Store
	waker   taskqueue.Waker
	events  *Events
	metrics *cfotel.Metrics
	cfg     config.Queue
}

// NewTaskQueue creates a TaskQueue. events may be nil.
func NewTaskQueue(store taskqueue.Store, waker taskqueue.Waker, events *Events, cfg config.Queue) *TaskQueue {
	return &TaskQueue{store: store, waker: waker, events: events, cfg: cfg}
}

// SetMetrics attaches otel instruments.
func (q *TaskQueue) SetMetrics(m *cfotel.Metrics) {
	q.metrics = m
}

// Push validates and stores t as queued, then wakes a waiting scheduler.
func (q *TaskQueue) Push(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := q.store.Push(ctx, t); err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	q.waker.Signal()

	if q.metrics != nil {
		q.metrics.TasksPushed.Add(ctx, 1, metric.WithAttributes(attribute.String("task.type", t.Type)))
	}
	slog.Debug("task queued", "task_id", t.ID, "task_type", t.Type, "session_id", t.SessionID)
	q.events.TaskQueued(ctx, t)
	return nil
}

// Pop returns the next available task. When the queue is empty it waits up
// to timeout for a wake signal and tries once more; nil means nothing came.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (*task.Task, error) {
	t, err := q.store.Dequeue(ctx)
	if err != nil || t != nil {
		return t, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := q.waker.Wait(waitCtx); err != nil {
		// Parent cancellation ends the caller's loop; a plain timeout
		// still gets one more look in case a signal was missed.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return q.store.Dequeue(ctx)
}

// Requeue hands an in_progress task back to the queue after delay.
func (q *TaskQueue) Requeue(ctx context.Context, id string, delay time.Duration) error {
	if err := q.store.Requeue(ctx, id, delay); err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	if q.metrics != nil {
		q.metrics.TasksRequeued.Add(ctx, 1)
	}
	return nil
}

// Size counts queued tasks.
func (q *TaskQueue) Size(ctx context.Context) (int, error) {
	return q.store.Size(ctx)
}

// RunReclaimer requeues tasks stuck in_progress longer than the configured
// age and fails tasks whose review never finished, once per reclaim
// interval, until ctx ends.
func (q *TaskQueue) RunReclaimer(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.reclaimOnce(ctx)
			q.expireReviews(ctx)
		}
	}
}

func (q *TaskQueue) reclaimOnce(ctx context.Context) int {
	ids, err := q.store.ReclaimStuck(ctx, q.cfg.StuckAfter)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("reclaim stuck tasks", "error", err)
		}
		return 0
	}
	if len(ids) == 0 {
		return 0
	}
	for _, id := range ids {
		slog.Warn("reclaimed stuck task", "task_id", id, "stuck_after", q.cfg.StuckAfter)
	}
	if q.metrics != nil {
		q.metrics.TasksReclaimed.Add(ctx, int64(len(ids)))
	}
	q.waker.Signal()
	return len(ids)
}

// expireReviews fails pending_review tasks older than the review timeout.
// They stay retryable through RetryFailed.
func (q *TaskQueue) expireReviews(ctx context.Context) int {
	ids, err := q.store.FailStaleReviews(ctx, q.cfg.ReviewTimeout)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("expire stale reviews", "error", err)
		}
		return 0
	}
	for _, id := range ids {
		slog.Warn("review never finished, task failed", "task_id", id, "review_timeout", q.cfg.ReviewTimeout)
		q.events.TaskStatus(ctx, &task.Task{ID: id}, task.StatusFailed, "", 0)
	}
	if q.metrics != nil && len(ids) > 0 {
		q.metrics.TasksFailed.Add(ctx, int64(len(ids)))
	}
	return len(ids)
}

// Stats returns the status histogram plus the queued count.
func (q *TaskQueue) Stats(ctx context.Context) (task.QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return task.QueueStats{}, fmt.Errorf("count tasks: %w", err)
	}
	stats := task.QueueStats{ByStatus: counts}
	for _, c := range counts {
		if c.Status == task.StatusQueued {
			stats.Queued = c.Count
		}
	}
	return stats, nil
}

// Get returns a task by id.
func (q *TaskQueue) Get(ctx context.Context, id string) (*task.Task, error) {
	return q.store.Get(ctx, id)
}

// List returns tasks matching filter, newest first.
func (q *TaskQueue) List(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	return q.store.List(ctx, filter)
}

// RetryFailed moves a failed task back to the queue.
func (q *TaskQueue) RetryFailed(ctx context.Context, id string) error {
	if err := q.store.RetryFailed(ctx, id); err != nil {
		return err
	}
	q.waker.Signal()
	slog.Info("failed task requeued", "task_id", id)
	return nil
}

// Purge deletes every queued and in_progress task.
func (q *TaskQueue) Purge(ctx context.Context) (int64, error) {
	n, err := q.store.PurgeUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	slog.Warn("purged unfinished tasks", "count", n)
	return n, nil
}

// Finish applies a worker-driven transition to t and announces it.
// Completed artifacts are appended before the terminal update.
func (q *TaskQueue) Finish(ctx context.Context, t *task.Task, status task.Status, agentID string, artifacts []task.Artifact, took time.Duration) error {
	var err error
	switch status {
	case task.StatusPendingReview:
		err = q.store.MarkPendingReview(ctx, t.ID, agentID, artifacts)
	case task.StatusCompleted:
		if len(artifacts) > 0 {
			if err = q.store.AppendArtifacts(ctx, t.ID, artifacts); err != nil {
				break
			}
		}
		err = q.store.MarkCompleted(ctx, t.ID, agentID)
	case task.StatusFailed:
		err = q.store.MarkFailed(ctx, t.ID, agentID)
	case task.StatusCanceled:
		err = q.store.MarkCanceled(ctx, t.ID, agentID)
	default:
		return fmt.Errorf("finish task %s: unsupported status %q", t.ID, status)
	}
	if err != nil {
		return fmt.Errorf("mark task %s %s: %w", t.ID, status, err)
	}

	if q.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("task.type", t.Type))
		switch status {
		case task.StatusCompleted:
			q.metrics.TasksCompleted.Add(ctx, 1, attrs)
		case task.StatusFailed:
			q.metrics.TasksFailed.Add(ctx, 1, attrs)
		}
	}
	q.events.TaskStatus(ctx, t, status, agentID, took)
	return nil
}
