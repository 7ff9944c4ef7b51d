// Package ledger defines the append-only karma ledger port.
package ledger

import (
	"context"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
)

// Store appends karma events and aggregates them.
type Store interface {
	// Append records ev and fills in its ID and CreatedAt.
	Append(ctx context.Context, ev *karma.Event) error

	// Score is the sum of all deltas for agentID, 0 when there are none.
	Score(ctx context.Context, agentID string) (int, error)

	// Top returns standings ordered by score desc, agent id asc.
	Top(ctx context.Context, limit int) ([]karma.Standing, error)

	// Events returns the newest events for agentID first.
	Events(ctx context.Context, agentID string, limit int) ([]karma.Event, error)
}
