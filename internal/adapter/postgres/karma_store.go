package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
)

const defaultTopLimit = 10

// KarmaStore owns the append-only karma_events table.
type KarmaStore struct {
	pool *pgxpool.Pool
}

// NewKarmaStore creates a KarmaStore on pool.
func NewKarmaStore(pool *pgxpool.Pool) *KarmaStore {
	return &KarmaStore{pool: pool}
}

func (s *KarmaStore) Append(ctx context.Context, ev *karma.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO karma_events (agent_id, delta, reason, task_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		ev.AgentID, ev.Delta, ev.Reason, nullIfEmpty(ev.TaskID),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append karma %s: %w", ev.AgentID, err)
	}
	return nil
}

func (s *KarmaStore) Score(ctx context.Context, agentID string) (int, error) {
	var score int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM karma_events WHERE agent_id = $1`, agentID).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("score %s: %w", agentID, err)
	}
	return int(score), nil
}

func (s *KarmaStore) Top(ctx context.Context, limit int) ([]karma.Standing, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, SUM(delta)::bigint AS score
		 FROM karma_events
		 GROUP BY agent_id
		 ORDER BY score DESC, agent_id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("karma top: %w", err)
	}
	top, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (karma.Standing, error) {
		var (
			st    karma.Standing
			score int64
		)
		err := row.Scan(&st.AgentID, &score)
		st.Score = int(score)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("karma top: %w", err)
	}
	return orEmpty(top), nil
}

func (s *KarmaStore) Events(ctx context.Context, agentID string, limit int) ([]karma.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, delta, reason, task_id, created_at
		 FROM karma_events WHERE agent_id = $1
		 ORDER BY id DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("karma events %s: %w", agentID, err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (karma.Event, error) {
		var (
			ev     karma.Event
			taskID *string
		)
		err := row.Scan(&ev.ID, &ev.AgentID, &ev.Delta, &ev.Reason, &taskID, &ev.CreatedAt)
		ev.TaskID = deref(taskID)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("karma events %s: %w", agentID, err)
	}
	return orEmpty(events), nil
}
