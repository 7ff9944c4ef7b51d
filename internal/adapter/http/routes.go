package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the middleware applied to individual routes.
type RouteOptions struct {
	// Auth guards every /api/v1 route.
	Auth func(http.Handler) http.Handler
	// Submit guards POST /api/v1/tasks (rate limit).
	Submit func(http.Handler) http.Handler
	// Mutate wraps every non-GET /api/v1 route (idempotency replay).
	Mutate func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}

// MountRoutes registers the management API on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(orPassthrough(opts.Auth))

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1.0.0"}`))
		})

		mutate := r.With(orPassthrough(opts.Mutate))

		// Workers
		r.Get("/workers", h.ListWorkers)
		mutate.Post("/workers", h.SpawnWorkers)
		mutate.Delete("/workers/{id}", h.StopWorker)
		r.Get("/worker-classes", h.ListWorkerClasses)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/active", h.ListActiveAgents)
		r.Get("/agents/{id}", h.GetAgent)

		// Tasks
		mutate.With(orPassthrough(opts.Submit)).Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/stats", h.TaskStats)
		r.Get("/tasks/{id}", h.GetTask)
		mutate.Post("/tasks/{id}/retry", h.RetryTask)

		// Karma
		r.Get("/karma/top", h.KarmaTop)
		r.Get("/karma/{agent_id}", h.AgentKarma)
	})
}
