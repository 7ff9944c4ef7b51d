// Package taskqueue defines the durable task queue port.
package taskqueue

import (
	"context"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

// Store persists tasks and hands each queued task to exactly one caller at a time.
//
// Terminal rows (completed, failed, canceled) are never moved back to queued,
// except through RetryFailed.
type Store interface {
	// Push inserts t as queued. A duplicate dedup key yields domain.ErrConflict.
	Push(ctx context.Context, t *task.Task) error

	// Dequeue atomically claims the oldest available queued task and marks it
	// in_progress. Returns nil, nil when nothing is available.
	Dequeue(ctx context.Context) (*task.Task, error)

	MarkCompleted(ctx context.Context, id, agentID string) error
	MarkFailed(ctx context.Context, id, agentID string) error
	MarkCanceled(ctx context.Context, id, agentID string) error

	// MarkPendingReview moves an in_progress task to pending_review and
	// appends the handler's artifacts.
	MarkPendingReview(ctx context.Context, id, agentID string, artifacts []task.Artifact) error

	AppendArtifacts(ctx context.Context, id string, artifacts []task.Artifact) error

	// Requeue returns an in_progress task to the queue, clears its assignee
	// and hides it from Dequeue for delay.
	Requeue(ctx context.Context, id string, delay time.Duration) error

	// Size counts queued tasks.
	Size(ctx context.Context) (int, error)

	// ReclaimStuck requeues in_progress tasks not updated for olderThan and
	// returns their ids.
	ReclaimStuck(ctx context.Context, olderThan time.Duration) ([]string, error)

	// FailStaleReviews fails pending_review tasks not updated for olderThan
	// and returns their ids. Their review is presumed lost.
	FailStaleReviews(ctx context.Context, olderThan time.Duration) ([]string, error)

	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
	CountByStatus(ctx context.Context) ([]task.StatusCount, error)

	// PurgeUnfinished deletes queued and in_progress tasks.
	PurgeUnfinished(ctx context.Context) (int64, error)

	// RetryFailed moves a failed task back to queued.
	RetryFailed(ctx context.Context, id string) error
}

// Waker signals that new work may be available. Signals coalesce: any
// number of Signal calls between two Waits wake a waiter once.
type Waker interface {
	Signal()

	// Wait blocks until a signal arrives or ctx ends.
	Wait(ctx context.Context) error

	// Run drives the backend (LISTEN connection or poll ticker) until ctx ends.
	Run(ctx context.Context) error
}
