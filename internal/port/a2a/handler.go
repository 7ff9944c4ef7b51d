package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
)

const (
	maxRequestBody   = 1 << 20
	sessionListLimit = 100
)

// Tasks is the queue side used by the A2A endpoints.
type Tasks interface {
	Push(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
}

// Agents lists the live agents advertised on the card.
type Agents interface {
	ListActive(ctx context.Context) ([]agent.Record, error)
}

// Handler exposes the swarm queue over A2A.
type Handler struct {
	baseURL string
	version string
	tasks   Tasks
	agents  Agents
	guards  []func(http.Handler) http.Handler
}

func NewHandler(baseURL, version string, tasks Tasks, agents Agents) *Handler {
	return &Handler{baseURL: baseURL, version: version, tasks: tasks, agents: agents}
}

// GuardSubmit wraps task submission in mw, typically a rate limiter.
func (h *Handler) GuardSubmit(mw func(http.Handler) http.Handler) *Handler {
	h.guards = append(h.guards, mw)
	return h
}

// MountRoutes registers the card and task routes at the router root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.agentCard)
	r.Route("/a2a/tasks", func(r chi.Router) {
		r.With(h.guards...).Post("/", h.submit)
		r.Get("/", h.sessionTasks)
		r.Get("/{id}", h.status)
	})
}

func (h *Handler) agentCard(w http.ResponseWriter, r *http.Request) {
	live, err := h.agents.ListActive(r.Context())
	if err != nil {
		fail(w, r, err, "agent card")
		return
	}
	writeJSON(w, http.StatusOK, BuildAgentCard(h.baseURL, h.version, live))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, "skill is required")
		return
	}

	t := task.New(req.Skill, req.Input)
	if req.ID != "" {
		t.ID = req.ID
	}
	t.SessionID = req.sessionID()
	if err := t.Validate(); err != nil {
		fail(w, r, err, "submit")
		return
	}
	if err := h.tasks.Push(r.Context(), t); err != nil {
		fail(w, r, err, "submit")
		return
	}

	slog.InfoContext(r.Context(), "a2a task submitted", "task_id", t.ID, "skill", t.Type, "session_id", t.SessionID)
	writeJSON(w, http.StatusCreated, responseOf(t))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err, "status")
		return
	}
	writeJSON(w, http.StatusOK, responseOf(t))
}

// sessionTasks lists the tasks of one pipeline session, newest first.
func (h *Handler) sessionTasks(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	list, err := h.tasks.List(r.Context(), task.ListFilter{SessionID: sid, Limit: sessionListLimit})
	if err != nil {
		fail(w, r, err, "session tasks")
		return
	}
	out := make([]TaskResponse, len(list))
	for i := range list {
		out[i] = responseOf(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps domain errors onto A2A responses.
func fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "task already exists")
	default:
		slog.ErrorContext(r.Context(), "a2a "+op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
