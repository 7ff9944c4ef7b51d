package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the three table owners sharing one pool. No operation
// spans more than one table.
type Store struct {
	pool *pgxpool.Pool

	Tasks  *TaskStore
	Agents *AgentStore
	Karma  *KarmaStore
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		Tasks:  NewTaskStore(pool),
		Agents: NewAgentStore(pool),
		Karma:  NewKarmaStore(pool),
	}
}

// Ping checks database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// millis converts d to the integer milliseconds bound into interval arithmetic.
func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
