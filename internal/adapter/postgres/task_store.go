package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

const taskColumns = `id::text, task_type, payload, status, agent_id, session_id, artifacts,
	dedup_key::text, attempts, available_at, created_at, updated_at`

const terminalStatuses = `('completed', 'failed', 'canceled')`

const defaultListLimit = 100

// TaskStore owns the tasks table.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore on pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) Push(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(orNilMap(t.Payload))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	artifacts, err := json.Marshal(orEmpty(t.Artifacts))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, task_type, payload, session_id, artifacts, dedup_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING status, attempts, available_at, created_at, updated_at`,
		t.ID, t.Type, payload, nullIfEmpty(t.SessionID), artifacts, nullIfEmpty(t.DedupKey),
	).Scan(&t.Status, &t.Attempts, &t.AvailableAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "push task %s", t.ID)
	}
	return nil
}

func (s *TaskStore) Dequeue(ctx context.Context) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`WITH next AS (
			SELECT id FROM tasks
			WHERE status = 'queued' AND available_at <= now()
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks SET status = 'in_progress', attempts = tasks.attempts + 1
		FROM next WHERE tasks.id = next.id
		RETURNING `+qualified("tasks", taskColumns))

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return &t, nil
}

func (s *TaskStore) MarkCompleted(ctx context.Context, id, agentID string) error {
	return s.finish(ctx, id, agentID, task.StatusCompleted)
}

func (s *TaskStore) MarkFailed(ctx context.Context, id, agentID string) error {
	return s.finish(ctx, id, agentID, task.StatusFailed)
}

func (s *TaskStore) MarkCanceled(ctx context.Context, id, agentID string) error {
	return s.finish(ctx, id, agentID, task.StatusCanceled)
}

func (s *TaskStore) finish(ctx context.Context, id, agentID string, status task.Status) error {
	if err := checkID(id, "mark "+string(status)); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, agent_id = COALESCE($3, agent_id)
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, string(status), nullIfEmpty(agentID))
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", status, id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "tasks", id, "mark "+string(status))
	}
	return nil
}

func (s *TaskStore) MarkPendingReview(ctx context.Context, id, agentID string, artifacts []task.Artifact) error {
	if err := checkID(id, "mark pending_review"); err != nil {
		return err
	}
	data, err := json.Marshal(orEmpty(artifacts))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'pending_review', agent_id = COALESCE($2, agent_id), artifacts = artifacts || $3::jsonb
		 WHERE id = $1 AND status = 'in_progress'`,
		id, nullIfEmpty(agentID), data)
	if err != nil {
		return fmt.Errorf("mark pending_review %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "tasks", id, "mark pending_review")
	}
	return nil
}

func (s *TaskStore) AppendArtifacts(ctx context.Context, id string, artifacts []task.Artifact) error {
	if err := checkID(id, "append artifacts"); err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return nil
	}
	data, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET artifacts = artifacts || $2::jsonb
		 WHERE id = $1 AND status NOT IN `+terminalStatuses,
		id, data)
	if err != nil {
		return fmt.Errorf("append artifacts %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "tasks", id, "append artifacts")
	}
	return nil
}

func (s *TaskStore) Requeue(ctx context.Context, id string, delay time.Duration) error {
	if err := checkID(id, "requeue"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'queued', agent_id = NULL,
		        available_at = now() + ($2 * interval '1 millisecond')
		 WHERE id = $1 AND status = 'in_progress'`,
		id, millis(delay))
	if err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "tasks", id, "requeue")
	}
	return nil
}

func (s *TaskStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE status = 'queued'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return n, nil
}

// readyCount counts queued tasks that Dequeue would hand out right now.
func (s *TaskStore) readyCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE status = 'queued' AND available_at <= now()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ready count: %w", err)
	}
	return n, nil
}

func (s *TaskStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE tasks SET status = 'queued', agent_id = NULL, available_at = now()
		 WHERE status = 'in_progress' AND updated_at < now() - ($1 * interval '1 millisecond')
		 RETURNING id::text`,
		millis(olderThan))
	if err != nil {
		return nil, fmt.Errorf("reclaim stuck: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("reclaim stuck: %w", err)
	}
	return ids, nil
}

func (s *TaskStore) FailStaleReviews(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE tasks SET status = 'failed'
		 WHERE status = 'pending_review' AND updated_at < now() - ($1 * interval '1 millisecond')
		 RETURNING id::text`,
		millis(olderThan))
	if err != nil {
		return nil, fmt.Errorf("fail stale reviews: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("fail stale reviews: %w", err)
	}
	return ids, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if err := checkID(id, "get task"); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *TaskStore) List(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.Type != "" {
		add("task_type = $%d", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return orEmpty(tasks), rows.Err()
}

func (s *TaskStore) CountByStatus(ctx context.Context) ([]task.StatusCount, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM tasks GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (task.StatusCount, error) {
		var c task.StatusCount
		err := row.Scan(&c.Status, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return orEmpty(counts), nil
}

func (s *TaskStore) PurgeUnfinished(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE status IN ('queued', 'in_progress')`)
	if err != nil {
		return 0, fmt.Errorf("purge unfinished: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *TaskStore) RetryFailed(ctx context.Context, id string) error {
	if err := checkID(id, "retry"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'queued', agent_id = NULL, available_at = now()
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return explainMiss(ctx, s.pool, "tasks", id, "retry")
	}
	return nil
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t                         task.Task
		payload, artifacts        []byte
		agentID, session, dedupID *string
	)
	err := row.Scan(&t.ID, &t.Type, &payload, &t.Status, &agentID, &session, &artifacts,
		&dedupID, &t.Attempts, &t.AvailableAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.AgentID = deref(agentID)
	t.SessionID = deref(session)
	t.DedupKey = deref(dedupID)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return t, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &t.Artifacts); err != nil {
			return t, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	return t, nil
}

// qualified prefixes each column of a taskColumns-style list with table.
func qualified(table, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func orNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
