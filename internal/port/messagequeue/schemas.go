package messagequeue

import "time"

// TaskQueuedPayload is the schema for swarm.tasks.queued messages.
type TaskQueuedPayload struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	SessionID string `json:"session_id,omitempty"`
}

// TaskFinishedPayload is the schema for swarm.tasks.finished messages,
// published on every store transition made by the harness or reviewer.
type TaskFinishedPayload struct {
	TaskID    string  `json:"task_id"`
	TaskType  string  `json:"task_type"`
	SessionID string  `json:"session_id,omitempty"`
	AgentID   string  `json:"agent_id"`
	Status    string  `json:"status"`
	Duration  float64 `json:"duration"`
}

// KarmaRecordedPayload is the schema for swarm.karma.recorded messages.
type KarmaRecordedPayload struct {
	AgentID   string    `json:"agent_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentStatusPayload is the schema for swarm.agents.status messages.
type AgentStatusPayload struct {
	AgentID  string `json:"agent_id"`
	ClassTag string `json:"class_tag,omitempty"`
	Status   string `json:"status"`
}
