package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/logger"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

// HarnessDeps are the services every worker harness shares.
type HarnessDeps struct {
	Queue          *TaskQueue
	Directory      *Directory
	Karma          *KarmaService
	FailurePenalty int
	Metrics        *cfotel.Metrics
}

// Harness runs one worker: it owns the worker's inbox, calls the handler
// for one task at a time and turns the outcome into store transitions,
// review requests and karma.
type Harness struct {
	id       string
	classTag string
	config   map[string]any
	handler  worker.Handler
	caps     worker.Capabilities
	deps     HarnessDeps
	inbox    *inbox
	started  time.Time

	registered atomic.Bool
	permanent  atomic.Bool
}

// NewHarness wraps handler as worker id.
func NewHarness(id, classTag string, config map[string]any, handler worker.Handler, deps HarnessDeps) *Harness {
	return &Harness{
		id:       id,
		classTag: classTag,
		config:   config,
		handler:  handler,
		caps:     handler.Capabilities(),
		deps:     deps,
		inbox:    newInbox(),
	}
}

// ID returns the worker id.
func (h *Harness) ID() string { return h.id }

// Info describes the running worker.
func (h *Harness) Info() worker.Info {
	return worker.Info{
		ID:        h.id,
		ClassTag:  h.classTag,
		TaskTypes: h.caps.TaskTypes,
		Reviewer:  h.caps.Reviewer,
		StartedAt: h.started,
	}
}

// Register announces the worker's capabilities to the directory.
func (h *Harness) Register(ctx context.Context) error {
	err := h.deps.Directory.Register(ctx, agent.Registration{
		ID:        h.id,
		TaskTypes: h.caps.TaskTypes,
		ClassTag:  h.classTag,
		Config:    h.config,
	})
	if err != nil {
		return err
	}
	h.registered.Store(true)
	h.started = time.Now()
	return nil
}

// Deliver appends t to the worker's inbox.
func (h *Harness) Deliver(t *task.Task) error {
	return h.inbox.put(t)
}

// SetPermanent makes the next shutdown delete the agent instead of
// marking it inactive.
func (h *Harness) SetPermanent(permanent bool) {
	h.permanent.Store(permanent)
}

// Run registers if needed and handles inbox tasks in order until ctx ends.
// On exit it requeues undelivered tasks and unregisters.
func (h *Harness) Run(ctx context.Context) error {
	if !h.registered.Load() {
		if err := h.Register(ctx); err != nil {
			return fmt.Errorf("harness %s: %w", h.id, err)
		}
	}
	defer h.shutdown()

	for ctx.Err() == nil {
		t, err := h.inbox.take(ctx)
		if err != nil {
			return nil
		}
		h.handle(ctx, t)
	}
	return nil
}

func (h *Harness) shutdown() {
	ctx := context.Background()
	for _, t := range h.inbox.close() {
		if err := h.deps.Queue.Requeue(ctx, t.ID, 0); err != nil {
			slog.Warn("requeue undelivered task", "agent_id", h.id, "task_id", t.ID, "error", err)
		}
	}
	if err := h.deps.Directory.Unregister(ctx, h.id, h.permanent.Load()); err != nil {
		slog.Warn("unregister on shutdown", "agent_id", h.id, "error", err)
	}
}

func (h *Harness) handle(ctx context.Context, t *task.Task) {
	ctx = logger.WithAgentID(logger.WithTaskID(ctx, t.ID), h.id)
	if t.SessionID != "" {
		ctx = logger.WithSessionID(ctx, t.SessionID)
	}
	ctx, span := cfotel.StartHandleSpan(ctx, h.id, t.ID, t.Type)
	defer span.End()

	t.Phase = task.PhaseWorking
	t.Artifacts = nil
	start := time.Now()
	err := h.invoke(ctx, t)
	took := time.Since(start)

	if h.deps.Metrics != nil {
		h.deps.Metrics.HandleDuration.Record(ctx, took.Seconds(),
			metric.WithAttributes(attribute.String("task.type", t.Type), attribute.String("agent.class", h.classTag)))
	}

	if err != nil {
		if ctx.Err() != nil {
			// Stopped mid-task: hand it back rather than blame the handler.
			if rqErr := h.deps.Queue.Requeue(context.WithoutCancel(ctx), t.ID, 0); rqErr != nil {
				slog.WarnContext(ctx, "requeue interrupted task", "error", rqErr)
			}
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.fail(ctx, t, err, took)
		return
	}
	span.SetAttributes(attribute.String("task.phase", string(t.Phase)))

	switch t.Phase {
	case task.PhaseCompleted, task.PhasePendingReview:
		if h.caps.Reviewer {
			h.finish(ctx, t, task.StatusCompleted, t.Artifacts, took)
			return
		}
		if h.finish(ctx, t, task.StatusPendingReview, t.Artifacts, took) {
			h.requestReview(ctx, t, took)
		}
	case task.PhaseFailed:
		h.finish(ctx, t, task.StatusFailed, nil, took)
	case task.PhaseCanceled:
		h.finish(ctx, t, task.StatusCanceled, nil, took)
	default:
		slog.WarnContext(ctx, "handler returned without a final phase", "phase", t.Phase)
		h.finish(ctx, t, task.StatusFailed, nil, took)
	}
}

func (h *Harness) invoke(ctx context.Context, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.handler.Handle(ctx, t, &emitter{h: h, current: t})
}

func (h *Harness) fail(ctx context.Context, t *task.Task, cause error, took time.Duration) {
	reason := karma.ReasonUnhandledException
	if errors.Is(cause, domain.ErrValidation) {
		reason = karma.ReasonValidationError
	}
	slog.ErrorContext(ctx, "task handler failed", "reason", reason, "error", cause)

	if _, err := h.deps.Karma.AddDelta(ctx, h.id, h.deps.FailurePenalty, reason, t.ID); err != nil {
		slog.ErrorContext(ctx, "record failure penalty", "error", err)
	}
	h.finish(ctx, t, task.StatusFailed, nil, took)
}

func (h *Harness) finish(ctx context.Context, t *task.Task, status task.Status, artifacts []task.Artifact, took time.Duration) bool {
	if err := h.deps.Queue.Finish(ctx, t, status, h.id, artifacts, took); err != nil {
		// Usually the reclaimer took the task back while we were slow.
		slog.WarnContext(ctx, "task transition refused", "status", status, "error", err)
		return false
	}
	slog.InfoContext(ctx, "task handled", "status", status, "duration", took)
	return true
}

// requestReview queues a Review_Artifact for the first artifact of t. A
// completed task without artifacts is reviewed as an empty artifact. If the
// review cannot be queued, t is failed.
func (h *Harness) requestReview(ctx context.Context, t *task.Task, took time.Duration) {
	art, ok := t.FirstArtifact()
	if !ok {
		art = task.Artifact{Name: t.Type}
	}
	payload := task.ReviewPayload{
		OriginalTaskID:  t.ID,
		OriginalAgentID: h.id,
		Artifact:        art,
		Duration:        took.Seconds(),
	}
	rt := task.New(task.TypeReviewArtifact, payload.Map())
	em := &emitter{h: h, current: t}
	if err := em.EmitTask(ctx, rt); err != nil {
		// No review will ever arrive; fail the original so it can be retried.
		slog.ErrorContext(ctx, "queue review", "error", err)
		if ferr := h.deps.Queue.Finish(ctx, t, task.StatusFailed, h.id, nil, took); ferr != nil {
			slog.ErrorContext(ctx, "fail unreviewable task", "error", ferr)
		}
	}
}

// emitter is the worker.Emitter bound to the task being handled.
type emitter struct {
	h       *Harness
	current *task.Task
}

func (e *emitter) EmitTask(ctx context.Context, t *task.Task) error {
	if t.SessionID == "" {
		t.SessionID = e.current.SessionID
	}
	err := e.h.deps.Queue.Push(ctx, t)
	if err != nil && t.DedupKey != "" && errors.Is(err, domain.ErrConflict) {
		slog.InfoContext(ctx, "follow-up already queued", "task_type", t.Type, "dedup_key", t.DedupKey)
		return nil
	}
	return err
}

func (e *emitter) EmitKarma(ctx context.Context, agentID string, delta int, reason, taskID string) error {
	if agentID == "" {
		agentID = e.h.id
	}
	if taskID == "" {
		taskID = e.current.ID
	}
	_, err := e.h.deps.Karma.AddDelta(ctx, agentID, delta, reason, taskID)
	return err
}
