// Package broadcast defines the live event feed pushed to swarm observers.
package broadcast

import (
	"context"
	"time"
)

// Observer event types.
const (
	EventTaskStatus    = "task.status"
	EventKarmaRecorded = "karma.recorded"
	EventAgentStatus   = "agent.status"
)

// Broadcaster delivers an event to every connected observer. Delivery is
// fire and forget; slow or gone observers are dropped by the implementation.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// TaskStatus is sent when a task is queued or a worker moves it.
type TaskStatus struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id,omitempty"`
}

// KarmaRecorded mirrors one ledger append.
type KarmaRecorded struct {
	AgentID   string    `json:"agent_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStatus is sent when a worker is spawned or stopped.
type AgentStatus struct {
	AgentID  string `json:"agent_id"`
	ClassTag string `json:"class_tag,omitempty"`
	Status   string `json:"status"`
}
