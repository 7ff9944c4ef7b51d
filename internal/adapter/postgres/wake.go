package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MFaiqKhan/sweepjudge/internal/port/taskqueue"
)

// NotifyChannel is the channel the tasks trigger notifies on.
const NotifyChannel = "task_queue"

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// signal is a coalescing wake-up: any number of Signal calls before a Wait
// release it once.
type signal struct {
	ch chan struct{}
}

func newSignal() signal {
	return signal{ch: make(chan struct{}, 1)}
}

func (s signal) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewWaker returns the backend selected by mode ("notify" or "poll").
func NewWaker(mode string, pool *pgxpool.Pool, tasks *TaskStore, pollInterval time.Duration) (taskqueue.Waker, error) {
	switch mode {
	case "notify":
		return NewNotifyWaker(pool), nil
	case "poll":
		return NewPollWaker(tasks, pollInterval), nil
	default:
		return nil, fmt.Errorf("unknown wake mode %q", mode)
	}
}

// NotifyWaker signals on every NOTIFY task_queue, holding one dedicated
// connection outside the pool.
type NotifyWaker struct {
	signal
	pool *pgxpool.Pool
}

// NewNotifyWaker creates a LISTEN-based waker.
func NewNotifyWaker(pool *pgxpool.Pool) *NotifyWaker {
	return &NotifyWaker{signal: newSignal(), pool: pool}
}

// Run listens until ctx ends, reconnecting with exponential backoff.
func (w *NotifyWaker) Run(ctx context.Context) error {
	backoff := listenMinBackoff
	for {
		err := w.listen(ctx, func() { backoff = listenMinBackoff })
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("task queue listener lost", "error", err, "retry_in", backoff)
		// Notifications sent while disconnected are gone.
		w.Signal()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, listenMaxBackoff)
	}
}

func (w *NotifyWaker) listen(ctx context.Context, onListening func()) error {
	pc, err := w.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	// A LISTENing connection must never go back to the pool.
	conn := pc.Hijack()
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	onListening()
	slog.Info("task queue listener started", "channel", NotifyChannel)
	w.Signal()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		w.Signal()
	}
}

// PollWaker signals whenever a poll finds dequeueable tasks. It works
// behind poolers that drop LISTEN.
type PollWaker struct {
	signal
	count    func(ctx context.Context) (int, error)
	interval time.Duration
}

// NewPollWaker creates a waker polling tasks every interval.
func NewPollWaker(tasks *TaskStore, interval time.Duration) *PollWaker {
	return &PollWaker{signal: newSignal(), count: tasks.readyCount, interval: interval}
}

// Run polls until ctx ends. Poll errors are logged and retried on the next tick.
func (w *PollWaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.count(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("task queue poll failed", "error", err)
				}
				continue
			}
			if n > 0 {
				w.Signal()
			}
		}
	}
}
