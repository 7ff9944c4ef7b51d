package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
)

const agentColumns = `id, task_types, last_heartbeat, status, class_tag, config, created_at`

// AgentStore owns the agents table.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates an AgentStore on pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

func (s *AgentStore) Upsert(ctx context.Context, reg agent.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	var cfg []byte
	if reg.Config != nil {
		var err error
		if cfg, err = json.Marshal(reg.Config); err != nil {
			return fmt.Errorf("marshal agent config: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, task_types, last_heartbeat, status, class_tag, config)
		 VALUES ($1, $2, now(), 'active', $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
			task_types     = EXCLUDED.task_types,
			last_heartbeat = now(),
			status         = 'active',
			class_tag      = COALESCE(EXCLUDED.class_tag, agents.class_tag),
			config         = COALESCE(EXCLUDED.config, agents.config)
		 WHERE agents.status <> 'deleted'`,
		reg.ID, orEmpty(reg.TaskTypes), nullIfEmpty(reg.ClassTag), cfg)
	if err != nil {
		return fmt.Errorf("register agent %s: %w", reg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("register agent %s: agent is deleted: %w", reg.ID, domain.ErrConflict)
	}
	return nil
}

func (s *AgentStore) Touch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_heartbeat = now(), status = 'active'
		 WHERE id = $1 AND status <> 'deleted'`, id)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "agents", id, "heartbeat")
	}
	return nil
}

func (s *AgentStore) SetStatus(ctx context.Context, id string, status agent.Status) error {
	switch status {
	case agent.StatusActive, agent.StatusInactive, agent.StatusDeleted:
	default:
		return fmt.Errorf("%w: unknown agent status %q", domain.ErrValidation, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2 WHERE id = $1 AND status <> 'deleted'`, id, string(status))
	if err != nil {
		return fmt.Errorf("set agent status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "agents", id, "set agent status")
	}
	return nil
}

func (s *AgentStore) Candidates(ctx context.Context, taskType string, staleAfter time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM agents
		 WHERE status = 'active'
		   AND last_heartbeat >= now() - ($2 * interval '1 millisecond')
		   AND $1 = ANY(task_types)
		 ORDER BY id`,
		taskType, millis(staleAfter))
	if err != nil {
		return nil, fmt.Errorf("candidates %s: %w", taskType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *AgentStore) ListLive(ctx context.Context, staleAfter time.Duration) ([]agent.Record, error) {
	return s.list(ctx, "list live agents",
		`SELECT `+agentColumns+` FROM agents
		 WHERE status = 'active' AND last_heartbeat >= now() - ($1 * interval '1 millisecond')
		 ORDER BY id`, millis(staleAfter))
}

func (s *AgentStore) ListRespawnCandidates(ctx context.Context) ([]agent.Record, error) {
	return s.list(ctx, "list respawn candidates",
		`SELECT `+agentColumns+` FROM agents
		 WHERE class_tag IS NOT NULL AND status <> 'deleted'
		 ORDER BY id`)
}

func (s *AgentStore) List(ctx context.Context) ([]agent.Record, error) {
	return s.list(ctx, "list agents", `SELECT `+agentColumns+` FROM agents ORDER BY id`)
}

func (s *AgentStore) Get(ctx context.Context, id string) (*agent.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	r, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &r, nil
}

func (s *AgentStore) list(ctx context.Context, op, query string, args ...any) ([]agent.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []agent.Record
	for rows.Next() {
		r, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	return orEmpty(out), rows.Err()
}

func scanAgent(row scannable) (agent.Record, error) {
	var (
		r        agent.Record
		classTag *string
		cfg      []byte
	)
	if err := row.Scan(&r.ID, &r.TaskTypes, &r.LastHeartbeat, &r.Status, &classTag, &cfg, &r.CreatedAt); err != nil {
		return r, err
	}
	r.ClassTag = deref(classTag)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &r.Config); err != nil {
			return r, fmt.Errorf("unmarshal agent config: %w", err)
		}
	}
	return r, nil
}
