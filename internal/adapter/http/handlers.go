package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const (
	maxListLimit  = 500
	maxSpawnCount = 64
)

// TaskQueue is the queue side of the API.
type TaskQueue interface {
	Push(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
	RetryFailed(ctx context.Context, id string) error
	Stats(ctx context.Context) (task.QueueStats, error)
}

// Swarm manages running workers.
type Swarm interface {
	Spawn(ctx context.Context, classTag, id string, config map[string]any) (worker.Info, error)
	Stop(ctx context.Context, id string, permanent bool) error
	List() []worker.Info
	Classes() []string
}

// Directory reads agent records.
type Directory interface {
	List(ctx context.Context) ([]agent.Record, error)
	ListActive(ctx context.Context) ([]agent.Record, error)
	Get(ctx context.Context, id string) (*agent.Record, error)
}

// Karma reads the ledger.
type Karma interface {
	Score(ctx context.Context, agentID string) (int, error)
	Top(ctx context.Context, limit int) ([]karma.Standing, error)
	Events(ctx context.Context, agentID string, limit int) ([]karma.Event, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks     TaskQueue
	Swarm     Swarm
	Directory Directory
	Karma     Karma
}

// --- Workers ---

// SpawnRequest spawns one worker, or Count workers named BaseID-1..n.
type SpawnRequest struct {
	ClassTag string         `json:"class_tag"`
	ID       string         `json:"id,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Count    int            `json:"count,omitempty"`
	BaseID   string         `json:"base_id,omitempty"`
}

// ids expands the request into worker ids.
func (r *SpawnRequest) ids() ([]string, error) {
	if r.Count <= 0 {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: id or count is required", domain.ErrValidation)
		}
		return []string{r.ID}, nil
	}
	if r.Count > maxSpawnCount {
		return nil, fmt.Errorf("%w: count must be <= %d", domain.ErrValidation, maxSpawnCount)
	}
	base := r.BaseID
	if base == "" {
		base = r.ClassTag
	}
	ids := make([]string, r.Count)
	for i := range ids {
		ids[i] = base + "-" + strconv.Itoa(i+1)
	}
	return ids, nil
}

func (h *Handlers) ListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeList(w, h.Swarm.List())
}

func (h *Handlers) ListWorkerClasses(w http.ResponseWriter, _ *http.Request) {
	writeList(w, h.Swarm.Classes())
}

// SpawnWorkers starts every requested worker. On the first failure the
// workers already started stay running and are reported with the error.
func (h *Handlers) SpawnWorkers(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[SpawnRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ClassTag, "class_tag") {
		return
	}
	ids, err := req.ids()
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	spawned := make([]worker.Info, 0, len(ids))
	for _, id := range ids {
		info, err := h.Swarm.Spawn(r.Context(), req.ClassTag, id, req.Config)
		if err != nil {
			if len(spawned) == 0 {
				writeDomainError(w, err, "worker class not found")
				return
			}
			writeJSON(w, http.StatusMultiStatus, map[string]any{"spawned": spawned, "error": err.Error()})
			return
		}
		spawned = append(spawned, info)
	}
	writeJSON(w, http.StatusCreated, spawned)
}

func (h *Handlers) StopWorker(w http.ResponseWriter, r *http.Request) {
	permanent, _ := strconv.ParseBool(r.URL.Query().Get("permanent"))
	if err := h.Swarm.Stop(r.Context(), chi.URLParam(r, "id"), permanent); err != nil {
		writeDomainError(w, err, "worker not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Agents ---

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	listOf(h.Directory.List)(w, r)
}

func (h *Handlers) ListActiveAgents(w http.ResponseWriter, r *http.Request) {
	listOf(h.Directory.ListActive)(w, r)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	byID(h.Directory.Get, "agent")(w, r)
}

// --- Tasks ---

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	t := req.ToTask()
	if err := h.Tasks.Push(r.Context(), t); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.ListFilter{
		Status:    task.Status(q.Get("status")),
		SessionID: q.Get("session_id"),
		Type:      q.Get("task_type"),
		Limit:     queryInt(r, "limit", 50, maxListLimit),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(filter.Status)))
		return
	}
	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeList(w, tasks)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	byID(h.Tasks.Get, "task")(w, r)
}

func (h *Handlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	actionOn(h.Tasks.RetryFailed, "task")(w, r)
}

func (h *Handlers) TaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Tasks.Stats(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Karma ---

// AgentKarma is the score of one agent with its latest ledger entries.
type AgentKarma struct {
	AgentID string        `json:"agent_id"`
	Score   int           `json:"score"`
	Events  []karma.Event `json:"events"`
}

func (h *Handlers) KarmaTop(w http.ResponseWriter, r *http.Request) {
	top, err := h.Karma.Top(r.Context(), queryInt(r, "limit", 10, maxListLimit))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeList(w, top)
}

func (h *Handlers) AgentKarma(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agent_id")
	score, err := h.Karma.Score(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	events, err := h.Karma.Events(r.Context(), id, queryInt(r, "limit", 20, maxListLimit))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []karma.Event{}
	}
	writeJSON(w, http.StatusOK, AgentKarma{AgentID: id, Score: score, Events: events})
}
