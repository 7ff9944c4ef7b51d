package service

import (
	"context"
	"errors"
	"sync"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

var errInboxClosed = errors.New("inbox closed")

// inbox is an unbounded FIFO with a single consumer. Producers never block.
type inbox struct {
	mu     sync.Mutex
	items  []*task.Task
	closed bool
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) put(t *task.Task) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errInboxClosed
	}
	b.items = append(b.items, t)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

// take blocks until a task is available, the inbox is closed or ctx ends.
func (b *inbox) take(ctx context.Context) (*task.Task, error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			t := b.items[0]
			b.items[0] = nil
			b.items = b.items[1:]
			b.mu.Unlock()
			return t, nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, errInboxClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.ready:
		}
	}
}

// close refuses further puts and returns whatever was never taken.
func (b *inbox) close() []*task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	left := b.items
	b.items = nil
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return left
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
