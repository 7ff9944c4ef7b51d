package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/broadcast"
	"github.com/MFaiqKhan/sweepjudge/internal/port/messagequeue"
)

// Events fans swarm state changes out to NATS subscribers and websocket
// observers. Either sink may be nil. Publishing is best effort: failures
// are logged and never fail the operation that produced the event.
type Events struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEvents creates an event fan-out over queue and hub.
func NewEvents(queue messagequeue.Queue, hub broadcast.Broadcaster) *Events {
	return &Events{queue: queue, hub: hub}
}

// TaskQueued announces a newly pushed task.
func (e *Events) TaskQueued(ctx context.Context, t *task.Task) {
	if e == nil {
		return
	}
	e.publish(ctx, messagequeue.SubjectTaskQueued, messagequeue.TaskQueuedPayload{
		TaskID:    t.ID,
		TaskType:  t.Type,
		SessionID: t.SessionID,
	})
	e.broadcast(ctx, broadcast.EventTaskStatus, broadcast.TaskStatus{
		TaskID:    t.ID,
		TaskType:  t.Type,
		SessionID: t.SessionID,
		Status:    string(task.StatusQueued),
	})
}

// TaskStatus announces a store transition made by a worker.
func (e *Events) TaskStatus(ctx context.Context, t *task.Task, status task.Status, agentID string, took time.Duration) {
	if e == nil {
		return
	}
	e.publish(ctx, messagequeue.SubjectTaskFinished, messagequeue.TaskFinishedPayload{
		TaskID:    t.ID,
		TaskType:  t.Type,
		SessionID: t.SessionID,
		AgentID:   agentID,
		Status:    string(status),
		Duration:  took.Seconds(),
	})
	e.broadcast(ctx, broadcast.EventTaskStatus, broadcast.TaskStatus{
		TaskID:    t.ID,
		TaskType:  t.Type,
		SessionID: t.SessionID,
		Status:    string(status),
		AgentID:   agentID,
	})
}

// KarmaRecorded announces a ledger append.
func (e *Events) KarmaRecorded(ctx context.Context, ev *karma.Event) {
	if e == nil {
		return
	}
	e.publish(ctx, messagequeue.SubjectKarma, messagequeue.KarmaRecordedPayload{
		AgentID:   ev.AgentID,
		Delta:     ev.Delta,
		Reason:    ev.Reason,
		TaskID:    ev.TaskID,
		CreatedAt: ev.CreatedAt,
	})
	e.broadcast(ctx, broadcast.EventKarmaRecorded, broadcast.KarmaRecorded{
		AgentID:   ev.AgentID,
		Delta:     ev.Delta,
		Reason:    ev.Reason,
		TaskID:    ev.TaskID,
		CreatedAt: ev.CreatedAt,
	})
}

// AgentStatus announces a worker being spawned or stopped.
func (e *Events) AgentStatus(ctx context.Context, agentID, classTag, status string) {
	if e == nil {
		return
	}
	e.publish(ctx, messagequeue.SubjectAgentStatus, messagequeue.AgentStatusPayload{
		AgentID:  agentID,
		ClassTag: classTag,
		Status:   status,
	})
	e.broadcast(ctx, broadcast.EventAgentStatus, broadcast.AgentStatus{
		AgentID:  agentID,
		ClassTag: classTag,
		Status:   status,
	})
}

func (e *Events) publish(ctx context.Context, subject string, payload any) {
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish event failed", "subject", subject, "error", err)
	}
}

func (e *Events) broadcast(ctx context.Context, eventType string, payload any) {
	if e.hub == nil {
		return
	}
	e.hub.BroadcastEvent(ctx, eventType, payload)
}
