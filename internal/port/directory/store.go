// Package directory defines the agent capability directory port.
package directory

import (
	"context"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
)

// Store persists agent records. Operations on a deleted agent return
// domain.ErrConflict; on an unknown agent, domain.ErrNotFound.
type Store interface {
	// Upsert creates the record or revives an inactive one as active with a
	// fresh heartbeat.
	Upsert(ctx context.Context, reg agent.Registration) error

	// Touch refreshes last_heartbeat and forces status active.
	Touch(ctx context.Context, id string) error

	SetStatus(ctx context.Context, id string, status agent.Status) error

	// Candidates returns the sorted ids of active agents that handle
	// taskType and heartbeated within staleAfter.
	Candidates(ctx context.Context, taskType string, staleAfter time.Duration) ([]string, error)

	ListLive(ctx context.Context, staleAfter time.Duration) ([]agent.Record, error)

	// ListRespawnCandidates returns records with a class tag that are not deleted.
	ListRespawnCandidates(ctx context.Context) ([]agent.Record, error)

	Get(ctx context.Context, id string) (*agent.Record, error)
	List(ctx context.Context) ([]agent.Record, error)
}
