package a2a

import (
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

// AgentCard is served at /.well-known/agent.json.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []Skill      `json:"skills"`
}

// Capabilities advertises optional protocol features. Task state is polled.
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// Skill is one task type and how many live workers accept it.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Workers     int      `json:"workers"`
}

// TaskRequest submits a task. Skill is the task type; context.session_id
// joins an existing pipeline session.
type TaskRequest struct {
	ID      string         `json:"id,omitempty"`
	Skill   string         `json:"skill"`
	Input   map[string]any `json:"input"`             //nolint:gosec // payload shape is per task type
	Context map[string]any `json:"context,omitempty"` //nolint:gosec // free-form caller context
}

func (r *TaskRequest) sessionID() string {
	sid, _ := r.Context["session_id"].(string)
	return sid
}

// TaskResponse is a task as seen by an A2A client.
type TaskResponse struct {
	ID        string          `json:"id"`
	Skill     string          `json:"skill"`
	State     string          `json:"status"`
	SessionID string          `json:"sessionId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Artifacts []task.Artifact `json:"artifacts,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// stateOf folds store statuses into the A2A vocabulary: submitted,
// working, completed, failed, canceled.
func stateOf(s task.Status) string {
	switch s {
	case task.StatusQueued:
		return "submitted"
	case task.StatusInProgress, task.StatusPendingReview:
		return "working"
	default:
		return string(s)
	}
}

func responseOf(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Skill:     t.Type,
		State:     stateOf(t.Status),
		SessionID: t.SessionID,
		AgentID:   t.AgentID,
		Artifacts: t.Artifacts,
		UpdatedAt: t.UpdatedAt,
	}
}
