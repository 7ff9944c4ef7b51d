package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
	"github.com/MFaiqKhan/sweepjudge/internal/port/directory"
)

// Directory tracks which agents are alive and what they handle. Each
// registered agent gets one heartbeat goroutine owned by this service.
type Directory struct {
	store directory.Store
	cfg   config.Directory

	mu    sync.Mutex
	beats map[string]*heartbeat
}

type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDirectory creates a Directory over store.
func NewDirectory(store directory.Store, cfg config.Directory) *Directory {
	return &Directory{store: store, cfg: cfg, beats: make(map[string]*heartbeat)}
}

// Register upserts the agent as active and keeps one heartbeat loop
// running for it. A deleted agent cannot register again.
func (d *Directory) Register(ctx context.Context, reg agent.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if err := d.store.Upsert(ctx, reg); err != nil {
		return fmt.Errorf("register agent %s: %w", reg.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, running := d.beats[reg.ID]; !running {
		// The loop outlives the registering request.
		hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		hb := &heartbeat{cancel: cancel, done: make(chan struct{})}
		d.beats[reg.ID] = hb
		go d.beat(hbCtx, reg.ID, hb.done)
	}
	slog.Info("agent registered", "agent_id", reg.ID, "task_types", reg.TaskTypes, "class_tag", reg.ClassTag)
	return nil
}

func (d *Directory) beat(ctx context.Context, id string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.Touch(ctx, id); err != nil && ctx.Err() == nil {
				slog.Warn("heartbeat failed", "agent_id", id, "error", err)
			}
		}
	}
}

// Heartbeat refreshes the agent's liveness and forces it active.
func (d *Directory) Heartbeat(ctx context.Context, id string) error {
	return d.store.Touch(ctx, id)
}

// Unregister stops the agent's heartbeat loop and marks it inactive, or
// deleted when permanent. A deleted agent is never respawned.
func (d *Directory) Unregister(ctx context.Context, id string, permanent bool) error {
	d.stopBeat(id)

	status := agent.StatusInactive
	if permanent {
		status = agent.StatusDeleted
	}
	if err := d.store.SetStatus(ctx, id, status); err != nil {
		return fmt.Errorf("unregister agent %s: %w", id, err)
	}
	slog.Info("agent unregistered", "agent_id", id, "status", status)
	return nil
}

func (d *Directory) stopBeat(id string) {
	d.mu.Lock()
	hb, ok := d.beats[id]
	delete(d.beats, id)
	d.mu.Unlock()
	if ok {
		hb.cancel()
		<-hb.done
	}
}

// GetCandidates returns the sorted ids of live agents that handle taskType.
func (d *Directory) GetCandidates(ctx context.Context, taskType string) ([]string, error) {
	return d.store.Candidates(ctx, taskType, d.cfg.StaleAfter)
}

// ListActive returns active agents with a fresh heartbeat.
func (d *Directory) ListActive(ctx context.Context) ([]agent.Record, error) {
	return d.store.ListLive(ctx, d.cfg.StaleAfter)
}

// ListRespawnCandidates returns non-deleted agents that carry a class tag.
func (d *Directory) ListRespawnCandidates(ctx context.Context) ([]agent.Record, error) {
	return d.store.ListRespawnCandidates(ctx)
}

// Get returns one directory record.
func (d *Directory) Get(ctx context.Context, id string) (*agent.Record, error) {
	return d.store.Get(ctx, id)
}

// List returns every directory record.
func (d *Directory) List(ctx context.Context) ([]agent.Record, error) {
	return d.store.List(ctx)
}

// Beating reports whether a heartbeat loop runs for id.
func (d *Directory) Beating(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.beats[id]
	return ok
}

// Close stops every heartbeat loop without changing agent status.
func (d *Directory) Close() {
	d.mu.Lock()
	beats := d.beats
	d.beats = make(map[string]*heartbeat)
	d.mu.Unlock()

	for _, hb := range beats {
		hb.cancel()
		<-hb.done
	}
}
