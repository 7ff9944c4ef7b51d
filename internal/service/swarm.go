package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

var (
	// ErrWorkerNotFound means no running worker has the id.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrWorkerExists means a worker with the id is already running.
	ErrWorkerExists = errors.New("worker already running")
)

// Swarm owns the running worker harnesses.
type Swarm struct {
	registry *worker.Registry
	deps     HarnessDeps
	events   *Events

	mu      sync.RWMutex
	workers map[string]*runningWorker
}

type runningWorker struct {
	harness *Harness
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSwarm creates an empty swarm building workers from registry.
func NewSwarm(registry *worker.Registry, deps HarnessDeps, events *Events) *Swarm {
	return &Swarm{registry: registry, deps: deps, events: events, workers: make(map[string]*runningWorker)}
}

// Classes returns the registered worker class tags.
func (s *Swarm) Classes() []string {
	return s.registry.Available()
}

// Spawn builds a worker of classTag, registers it and starts its loop. The
// worker outlives ctx; only Stop or StopAll end it.
func (s *Swarm) Spawn(ctx context.Context, classTag, id string, config map[string]any) (worker.Info, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return worker.Info{}, fmt.Errorf("%w: spawn %s: worker id is required", domain.ErrValidation, classTag)
	}

	s.mu.Lock()
	if _, exists := s.workers[id]; exists {
		s.mu.Unlock()
		return worker.Info{}, fmt.Errorf("spawn %s: %w", id, ErrWorkerExists)
	}
	// Reserve the id while building so concurrent spawns cannot race.
	s.workers[id] = nil
	s.mu.Unlock()

	h, err := s.build(ctx, classTag, id, config)
	if err != nil {
		s.mu.Lock()
		delete(s.workers, id)
		s.mu.Unlock()
		return worker.Info{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rw := &runningWorker{harness: h, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.workers[id] = rw
	s.mu.Unlock()

	go func() {
		defer close(rw.done)
		if err := h.Run(runCtx); err != nil {
			slog.Error("worker exited", "agent_id", id, "error", err)
		}
	}()

	info := h.Info()
	slog.Info("worker spawned", "agent_id", id, "class_tag", classTag, "task_types", info.TaskTypes)
	s.events.AgentStatus(ctx, id, classTag, "spawned")
	return info, nil
}

func (s *Swarm) build(ctx context.Context, classTag, id string, config map[string]any) (*Harness, error) {
	handler, err := s.registry.New(classTag, id, config)
	if err != nil {
		return nil, err
	}
	h := NewHarness(id, classTag, config, handler, s.deps)
	if err := h.Register(ctx); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}
	return h, nil
}

// Stop ends the worker and waits for its current task. permanent deletes
// the directory record so the worker is never respawned.
func (s *Swarm) Stop(ctx context.Context, id string, permanent bool) error {
	s.mu.Lock()
	rw, ok := s.workers[id]
	if !ok || rw == nil {
		s.mu.Unlock()
		return fmt.Errorf("stop %s: %w", id, ErrWorkerNotFound)
	}
	delete(s.workers, id)
	s.mu.Unlock()

	rw.harness.SetPermanent(permanent)
	rw.cancel()
	select {
	case <-rw.done:
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", id, ctx.Err())
	}

	status := "stopped"
	if permanent {
		status = "deleted"
	}
	slog.Info("worker stopped", "agent_id", id, "permanent", permanent)
	s.events.AgentStatus(ctx, id, rw.harness.classTag, status)
	return nil
}

// Deliver puts t into the inbox of worker id.
func (s *Swarm) Deliver(_ context.Context, id string, t *task.Task) error {
	s.mu.RLock()
	rw := s.workers[id]
	s.mu.RUnlock()
	if rw == nil {
		return fmt.Errorf("deliver to %s: %w", id, ErrWorkerNotFound)
	}
	if err := rw.harness.Deliver(t); err != nil {
		return fmt.Errorf("deliver to %s: %w", id, ErrWorkerNotFound)
	}
	return nil
}

// List returns the running workers ordered by id.
func (s *Swarm) List() []worker.Info {
	s.mu.RLock()
	out := make([]worker.Info, 0, len(s.workers))
	for _, rw := range s.workers {
		if rw != nil {
			out = append(out, rw.harness.Info())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b worker.Info) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Respawn recreates every non-deleted directory agent that carries a class
// tag and is not already running. It returns how many were started.
func (s *Swarm) Respawn(ctx context.Context) (int, error) {
	records, err := s.deps.Directory.ListRespawnCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("respawn: %w", err)
	}

	started := 0
	for _, rec := range records {
		if !s.registry.Has(rec.ClassTag) {
			slog.Warn("respawn skipped, unknown class", "agent_id", rec.ID, "class_tag", rec.ClassTag)
			continue
		}
		if _, err := s.Spawn(ctx, rec.ClassTag, rec.ID, rec.Config); err != nil {
			if errors.Is(err, ErrWorkerExists) {
				continue
			}
			slog.Error("respawn failed", "agent_id", rec.ID, "class_tag", rec.ClassTag, "error", err)
			continue
		}
		started++
	}
	slog.Info("respawn complete", "started", started, "candidates", len(records))
	return started, nil
}

// StopAll stops every worker, leaving their records inactive.
func (s *Swarm) StopAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workers))
	for id, rw := range s.workers {
		if rw != nil {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() {
			if err := s.Stop(ctx, id, false); err != nil && !errors.Is(err, ErrWorkerNotFound) {
				slog.Warn("stop worker", "agent_id", id, "error", err)
			}
		})
	}
	wg.Wait()
}
