// Package agent defines the directory record of a swarm worker.
package agent

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
)

// Status is the directory lifecycle state of an agent.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// CanTransition reports whether the lifecycle allows moving from -> to.
// active and inactive flip freely; deleted is terminal.
func CanTransition(from, to Status) bool {
	if from == StatusDeleted {
		return false
	}
	switch to {
	case StatusActive, StatusInactive, StatusDeleted:
		return true
	}
	return false
}

// Record is a worker's entry in the capability directory.
type Record struct {
	ID            string         `json:"id"`
	TaskTypes     []string       `json:"task_types"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Status        Status         `json:"status"`
	ClassTag      string         `json:"class_tag,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Handles reports whether taskType is in the declared capability set.
func (r *Record) Handles(taskType string) bool {
	return slices.Contains(r.TaskTypes, taskType)
}

// Live reports whether the record counts as a candidate at now given the
// staleness window.
func (r *Record) Live(now time.Time, staleAfter time.Duration) bool {
	return r.Status == StatusActive && !r.LastHeartbeat.Before(now.Add(-staleAfter))
}

// Registration is what a worker declares when it joins the directory.
type Registration struct {
	ID        string         `json:"id"`
	TaskTypes []string       `json:"task_types"`
	ClassTag  string         `json:"class_tag,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// Validate normalizes the task type set and checks required fields.
func (r *Registration) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if len(r.ID) > 64 {
		return fmt.Errorf("%w: agent id longer than 64 characters", domain.ErrValidation)
	}
	if len(r.TaskTypes) == 0 {
		return fmt.Errorf("%w: agent %s declares no task types", domain.ErrValidation, r.ID)
	}
	types := slices.Clone(r.TaskTypes)
	slices.Sort(types)
	r.TaskTypes = slices.Compact(types)
	return nil
}
