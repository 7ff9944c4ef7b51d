// Package task defines the Task domain entity moved through the swarm pipeline.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// Status is the store-level state of a task row.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusInProgress    Status = "in_progress"
	StatusPendingReview Status = "pending_review"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCanceled      Status = "canceled"
)

// IsTerminal reports whether no further store transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether s is a known store status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusPendingReview, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Phase is the harness-level state a handler reports for a task it handled.
// Handlers only ever set Phase; the harness maps it onto a store Status.
type Phase string

const (
	PhaseSubmitted     Phase = "submitted"
	PhaseWorking       Phase = "working"
	PhasePendingReview Phase = "pending_review"
	PhaseCompleted     Phase = "completed"
	PhaseCanceled      Phase = "canceled"
	PhaseFailed        Phase = "failed"
)

// Task is a typed, payload-carrying unit of work.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"task_type"`
	Payload     map[string]any `json:"payload"`
	SessionID   string         `json:"session_id,omitempty"`
	Status      Status         `json:"status"`
	Phase       Phase          `json:"phase,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Artifacts   []Artifact     `json:"artifacts,omitempty"`
	DedupKey    string         `json:"dedup_key,omitempty"`
	Attempts    int            `json:"attempts"`
	AvailableAt time.Time      `json:"available_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// New returns a submitted task with a fresh id.
func New(taskType string, payload map[string]any) *Task {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Payload: payload,
		Phase:   PhaseSubmitted,
	}
}

// Validate checks the fields required before a task can be queued.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Type) == "" {
		return fmt.Errorf("%w: task_type is required", domain.ErrValidation)
	}
	if t.ID != "" {
		if _, err := uuid.Parse(t.ID); err != nil {
			return fmt.Errorf("%w: id must be a uuid", domain.ErrValidation)
		}
	}
	for i := range t.Artifacts {
		if err := t.Artifacts[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PayloadString returns payload[key] when it is a non-empty string.
func (t *Task) PayloadString(key string) (string, bool) {
	v, ok := t.Payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// RequireString returns payload[key] or an ErrValidation naming the key.
func (t *Task) RequireString(key string) (string, error) {
	v, ok := t.PayloadString(key)
	if !ok {
		return "", fmt.Errorf("%w: %s: payload field %q is required", domain.ErrValidation, t.Type, key)
	}
	return v, nil
}

// FirstArtifact returns the first attached artifact, if any.
func (t *Task) FirstArtifact() (Artifact, bool) {
	if len(t.Artifacts) == 0 {
		return Artifact{}, false
	}
	return t.Artifacts[0], true
}

// dedupNamespace scopes DedupKey UUIDs so they never collide with random task ids.
var dedupNamespace = uuid.MustParse("5b0c2c1e-7d1a-4c5e-9f3b-2f6f1d8e4a90")

// DedupKey derives the deterministic key for "one task of this type per session".
func DedupKey(sessionID, taskType string) string {
	return uuid.NewSHA1(dedupNamespace, []byte(sessionID+":"+taskType)).String()
}

// ListFilter narrows task listings.
type ListFilter struct {
	Status    Status
	SessionID string
	Type      string
	Limit     int
}

// StatusCount is one row of a status histogram.
type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// CreateRequest is the external shape for pushing a task.
type CreateRequest struct {
	Type      string         `json:"task_type"`
	Payload   map[string]any `json:"payload"`
	SessionID string         `json:"session_id,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
}

// ToTask converts the request into a new task.
func (r *CreateRequest) ToTask() *Task {
	t := New(r.Type, r.Payload)
	t.SessionID = r.SessionID
	t.DedupKey = r.DedupKey
	return t
}

// QueueStats summarizes the queue for status surfaces.
type QueueStats struct {
	Queued   int           `json:"queue_size"`
	ByStatus []StatusCount `json:"by_status"`
}
