// Package worker defines the port between the swarm harness and the
// business logic of a worker class.
package worker

import (
	"context"
	"slices"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

// Capabilities declares what a worker handles.
type Capabilities struct {
	TaskTypes []string `json:"task_types"`

	// Reviewer marks workers whose completed tasks are not sent for review.
	Reviewer bool `json:"reviewer"`
}

// Handles reports whether taskType is one of the declared types.
func (c Capabilities) Handles(taskType string) bool {
	return slices.Contains(c.TaskTypes, taskType)
}

// Handler executes one task. It reports the outcome by setting t.Phase
// (and t.Artifacts on success). Returning an error or panicking counts as
// an unhandled failure.
type Handler interface {
	Capabilities() Capabilities
	Handle(ctx context.Context, t *task.Task, emit Emitter) error
}

// Emitter lets a handler create follow-up work and reputation changes.
type Emitter interface {
	// EmitTask queues a follow-up. A missing session id is inherited from
	// the task being handled.
	EmitTask(ctx context.Context, t *task.Task) error

	// EmitKarma records delta for agentID. Empty agentID means the emitting
	// worker, empty taskID the task being handled.
	EmitKarma(ctx context.Context, agentID string, delta int, reason, taskID string) error
}

// HandlerFunc adapts a function with fixed capabilities to Handler.
type HandlerFunc struct {
	Caps Capabilities
	Fn   func(ctx context.Context, t *task.Task, emit Emitter) error
}

func (h HandlerFunc) Capabilities() Capabilities { return h.Caps }

func (h HandlerFunc) Handle(ctx context.Context, t *task.Task, emit Emitter) error {
	return h.Fn(ctx, t, emit)
}

// Info describes a running worker instance.
type Info struct {
	ID        string    `json:"id"`
	ClassTag  string    `json:"class_tag"`
	TaskTypes []string  `json:"task_types"`
	Reviewer  bool      `json:"reviewer"`
	StartedAt time.Time `json:"started_at"`
}
