package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/agent"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/broadcast"
	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
	"github.com/MFaiqKhan/sweepjudge/internal/port/directory"
	"github.com/MFaiqKhan/sweepjudge/internal/port/ledger"
	"github.com/MFaiqKhan/sweepjudge/internal/port/messagequeue"
	"github.com/MFaiqKhan/sweepjudge/internal/port/taskqueue"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ taskqueue.Store       = (*mockTaskStore)(nil)
	_ taskqueue.Waker       = (*mockWaker)(nil)
	_ directory.Store       = (*mockAgentStore)(nil)
	_ ledger.Store          = (*mockLedger)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ cache.Cache           = (*memCache)(nil)
)

// --- task store ---

type mockTaskStore struct {
	mu         sync.Mutex
	tasks      map[string]*task.Task
	order      []string
	dequeueErr error
	reclaim    []string
	pushErr    map[string]error // by task type
}

func newMockTaskStore() *mockTaskStore {
	return &mockTaskStore{tasks: make(map[string]*task.Task)}
}

func (m *mockTaskStore) Push(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pushErr[t.Type]; err != nil {
		return err
	}
	if t.DedupKey != "" {
		for _, existing := range m.tasks {
			if existing.DedupKey == t.DedupKey {
				return fmt.Errorf("dedup %s: %w", t.DedupKey, domain.ErrConflict)
			}
		}
	}
	now := time.Now()
	t.Status = task.StatusQueued
	t.CreatedAt, t.UpdatedAt, t.AvailableAt = now, now, now
	cp := *t
	m.tasks[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return nil
}

func (m *mockTaskStore) Dequeue(_ context.Context) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	now := time.Now()
	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status == task.StatusQueued && !t.AvailableAt.After(now) {
			t.Status = task.StatusInProgress
			t.Attempts++
			t.UpdatedAt = now
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockTaskStore) transition(id, agentID string, from []task.Status, to task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if from != nil && !slices.Contains(from, t.Status) || from == nil && t.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", id, t.Status, domain.ErrConflict)
	}
	t.Status = to
	t.AgentID = agentID
	t.UpdatedAt = time.Now()
	return nil
}

func (m *mockTaskStore) MarkCompleted(_ context.Context, id, agentID string) error {
	return m.transition(id, agentID, nil, task.StatusCompleted)
}

func (m *mockTaskStore) MarkFailed(_ context.Context, id, agentID string) error {
	return m.transition(id, agentID, nil, task.StatusFailed)
}

func (m *mockTaskStore) MarkCanceled(_ context.Context, id, agentID string) error {
	return m.transition(id, agentID, nil, task.StatusCanceled)
}

func (m *mockTaskStore) MarkPendingReview(ctx context.Context, id, agentID string, artifacts []task.Artifact) error {
	if err := m.transition(id, agentID, []task.Status{task.StatusInProgress}, task.StatusPendingReview); err != nil {
		return err
	}
	return m.AppendArtifacts(ctx, id, artifacts)
}

func (m *mockTaskStore) AppendArtifacts(_ context.Context, id string, artifacts []task.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Artifacts = append(t.Artifacts, artifacts...)
	return nil
}

func (m *mockTaskStore) Requeue(_ context.Context, id string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != task.StatusInProgress {
		return fmt.Errorf("task %s is %s: %w", id, t.Status, domain.ErrConflict)
	}
	t.Status = task.StatusQueued
	t.AgentID = ""
	t.AvailableAt = time.Now().Add(delay)
	return nil
}

func (m *mockTaskStore) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == task.StatusQueued {
			n++
		}
	}
	return n, nil
}

func (m *mockTaskStore) ReclaimStuck(_ context.Context, _ time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.reclaim
	m.reclaim = nil
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			t.Status = task.StatusQueued
			t.AgentID = ""
		}
	}
	return ids, nil
}

func (m *mockTaskStore) FailStaleReviews(_ context.Context, olderThan time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []string
	for _, id := range m.order {
		if t := m.tasks[id]; t.Status == task.StatusPendingReview && t.UpdatedAt.Before(cutoff) {
			t.Status = task.StatusFailed
			t.UpdatedAt = time.Now()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockTaskStore) age(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].UpdatedAt = time.Now().Add(-d)
}

func (m *mockTaskStore) Get(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskStore) List(_ context.Context, f task.ListFilter) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, id := range m.order {
		t := m.tasks[id]
		if (f.Status == "" || t.Status == f.Status) && (f.SessionID == "" || t.SessionID == f.SessionID) && (f.Type == "" || t.Type == f.Type) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTaskStore) CountByStatus(_ context.Context) ([]task.StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[task.Status]int{}
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	var out []task.StatusCount
	for s, n := range counts {
		out = append(out, task.StatusCount{Status: s, Count: n})
	}
	slices.SortFunc(out, func(a, b task.StatusCount) int { return strings.Compare(string(a.Status), string(b.Status)) })
	return out, nil
}

func (m *mockTaskStore) PurgeUnfinished(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if t.Status == task.StatusQueued || t.Status == task.StatusInProgress {
			delete(m.tasks, id)
			n++
		}
	}
	m.order = slices.DeleteFunc(m.order, func(id string) bool { _, ok := m.tasks[id]; return !ok })
	return n, nil
}

func (m *mockTaskStore) RetryFailed(_ context.Context, id string) error {
	return m.transition(id, "", []task.Status{task.StatusFailed}, task.StatusQueued)
}

func (m *mockTaskStore) status(id string) task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.Status
	}
	return ""
}

func (m *mockTaskStore) byType(taskType string) []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, id := range m.order {
		if t := m.tasks[id]; t.Type == taskType {
			out = append(out, *t)
		}
	}
	return out
}

// --- waker ---

type mockWaker struct {
	ch      chan struct{}
	signals int
	mu      sync.Mutex
}

func newMockWaker() *mockWaker {
	return &mockWaker{ch: make(chan struct{}, 1)}
}

func (w *mockWaker) Signal() {
	w.mu.Lock()
	w.signals++
	w.mu.Unlock()
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *mockWaker) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

func (w *mockWaker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (w *mockWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.signals
}

// --- agent store ---

type mockAgentStore struct {
	mu      sync.Mutex
	records map[string]*agent.Record
	touches map[string]int
}

func newMockAgentStore() *mockAgentStore {
	return &mockAgentStore{records: make(map[string]*agent.Record), touches: make(map[string]int)}
}

func (m *mockAgentStore) Upsert(_ context.Context, reg agent.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[reg.ID]; ok && r.Status == agent.StatusDeleted {
		return fmt.Errorf("agent %s: %w", reg.ID, domain.ErrConflict)
	}
	m.records[reg.ID] = &agent.Record{
		ID:            reg.ID,
		TaskTypes:     reg.TaskTypes,
		ClassTag:      reg.ClassTag,
		Config:        reg.Config,
		Status:        agent.StatusActive,
		LastHeartbeat: time.Now(),
	}
	return nil
}

func (m *mockAgentStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if r.Status == agent.StatusDeleted {
		return fmt.Errorf("agent %s: %w", id, domain.ErrConflict)
	}
	r.Status = agent.StatusActive
	r.LastHeartbeat = time.Now()
	m.touches[id]++
	return nil
}

func (m *mockAgentStore) SetStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if !agent.CanTransition(r.Status, status) {
		return fmt.Errorf("agent %s: %w", id, domain.ErrConflict)
	}
	r.Status = status
	return nil
}

func (m *mockAgentStore) Candidates(_ context.Context, taskType string, staleAfter time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	now := time.Now()
	for _, r := range m.records {
		if r.Live(now, staleAfter) && r.Handles(taskType) {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *mockAgentStore) ListLive(_ context.Context, staleAfter time.Duration) ([]agent.Record, error) {
	return m.filter(func(r *agent.Record) bool { return r.Live(time.Now(), staleAfter) }), nil
}

func (m *mockAgentStore) ListRespawnCandidates(_ context.Context) ([]agent.Record, error) {
	return m.filter(func(r *agent.Record) bool { return r.ClassTag != "" && r.Status != agent.StatusDeleted }), nil
}

func (m *mockAgentStore) Get(_ context.Context, id string) (*agent.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockAgentStore) List(_ context.Context) ([]agent.Record, error) {
	return m.filter(func(*agent.Record) bool { return true }), nil
}

func (m *mockAgentStore) filter(keep func(*agent.Record) bool) []agent.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b agent.Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (m *mockAgentStore) statusOf(id string) agent.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r.Status
	}
	return ""
}

// --- ledger ---

type mockLedger struct {
	mu       sync.Mutex
	events   []karma.Event
	scoreErr map[string]error
	scoreHit int
}

func (m *mockLedger) Append(_ context.Context, ev *karma.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	ev.CreatedAt = time.Now()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockLedger) Score(_ context.Context, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreHit++
	if err := m.scoreErr[agentID]; err != nil {
		return 0, err
	}
	sum := 0
	for _, ev := range m.events {
		if ev.AgentID == agentID {
			sum += ev.Delta
		}
	}
	return sum, nil
}

func (m *mockLedger) Top(ctx context.Context, limit int) ([]karma.Standing, error) {
	m.mu.Lock()
	ids := map[string]struct{}{}
	for _, ev := range m.events {
		ids[ev.AgentID] = struct{}{}
	}
	m.mu.Unlock()
	var out []karma.Standing
	for id := range ids {
		n, _ := m.Score(ctx, id)
		out = append(out, karma.Standing{AgentID: id, Score: n})
	}
	slices.SortFunc(out, func(a, b karma.Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.AgentID, b.AgentID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockLedger) Events(_ context.Context, agentID string, limit int) ([]karma.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []karma.Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].AgentID == agentID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *mockLedger) forAgent(agentID string) []karma.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []karma.Event
	for _, ev := range m.events {
		if ev.AgentID == agentID {
			out = append(out, ev)
		}
	}
	return out
}

// --- event sinks ---

type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	m.mu.Lock()
	m.events = append(m.events, eventType)
	m.mu.Unlock()
}

func (m *mockBroadcaster) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type mockQueue struct {
	mu         sync.Mutex
	published  map[string]int
	publishErr error
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = map[string]int{}
	}
	m.published[subject]++
	return m.publishErr
}

func (m *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[subject]
}

// --- cache ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- fixture ---

type fixture struct {
	tasks  *mockTaskStore
	waker  *mockWaker
	agents *mockAgentStore
	ledger *mockLedger
	hub    *mockBroadcaster
	nats   *mockQueue
	cache  *memCache
	queue  *TaskQueue
	dir    *Directory
	karma  *KarmaService
	deps   HarnessDeps
	sched  config.Scheduler
}

func newFixture() *fixture {
	f := &fixture{
		tasks:  newMockTaskStore(),
		waker:  newMockWaker(),
		agents: newMockAgentStore(),
		ledger: &mockLedger{},
		hub:    &mockBroadcaster{},
		nats:   &mockQueue{},
		cache:  newMemCache(),
	}
	events := NewEvents(f.nats, f.hub)
	f.queue = NewTaskQueue(f.tasks, f.waker, events, config.Queue{
		ReclaimInterval: 10 * time.Millisecond,
		StuckAfter:      time.Minute,
		ReviewTimeout:   15 * time.Minute,
	})
	f.dir = NewDirectory(f.agents, config.Directory{
		HeartbeatInterval: 5 * time.Millisecond,
		StaleAfter:        time.Minute,
	})
	f.karma = NewKarmaService(f.ledger, f.cache, time.Minute, events)
	f.deps = HarnessDeps{Queue: f.queue, Directory: f.dir, Karma: f.karma, FailurePenalty: -1}
	f.sched = config.Scheduler{PopTimeout: 20 * time.Millisecond, RetryDelay: 0}
	return f
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
