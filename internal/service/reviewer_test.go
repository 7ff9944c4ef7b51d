package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
)

type fakeScorer struct {
	score llm.Score
	err   error
}

func (s fakeScorer) Score(context.Context, task.Artifact, time.Duration) (llm.Score, error) {
	return s.score, s.err
}

// captureEmitter records karma without a harness.
type captureEmitter struct {
	karma    []karma.Event
	karmaErr error
}

func (e *captureEmitter) EmitTask(context.Context, *task.Task) error { return nil }

func (e *captureEmitter) EmitKarma(_ context.Context, agentID string, delta int, reason, taskID string) error {
	if e.karmaErr != nil {
		return e.karmaErr
	}
	e.karma = append(e.karma, karma.Event{AgentID: agentID, Delta: delta, Reason: reason, TaskID: taskID})
	return nil
}

var testPolicy = karma.ReviewPolicy{BaseReward: 3, MaxQuality: 1.5, SlowAfter: time.Minute, SlowPenalty: -1}

// pendingOriginal stores a task that went through a worker and awaits review.
func pendingOriginal(t *testing.T, f *fixture) *task.Task {
	t.Helper()
	ctx := context.Background()
	orig := task.New(task.TypeFetchPaper, nil)
	if err := f.queue.Push(ctx, orig); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tasks.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.tasks.MarkPendingReview(ctx, orig.ID, "fetcher-1", nil); err != nil {
		t.Fatal(err)
	}
	return orig
}

func reviewTask(origID string, seconds float64) *task.Task {
	p := task.ReviewPayload{
		OriginalTaskID:  origID,
		OriginalAgentID: "fetcher-1",
		Artifact:        task.Artifact{Name: "paper", Parts: []task.Part{task.TextPart("abstract")}},
		Duration:        seconds,
	}
	return task.New(task.TypeReviewArtifact, p.Map())
}

func TestReviewerScores(t *testing.T) {
	tests := []struct {
		name      string
		quality   float64
		seconds   float64
		wantDelta int
		wantQ     string
	}{
		{"good and fast", 1.0, 5, 3, "1.00"},
		{"clamped high", 4.0, 5, 5, "1.50"},
		{"clamped low", -2, 5, 0, "0.00"},
		{"slow", 1.0, 120, 2, "1.00"},
		{"rounding", 0.87, 5, 3, "0.87"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			orig := pendingOriginal(t, f)
			r := NewReviewer(fakeScorer{score: llm.Score{Quality: tt.quality, Justification: "clear"}}, testPolicy, -2, f.queue)
			em := &captureEmitter{}
			rt := reviewTask(orig.ID, tt.seconds)

			if err := r.Handle(context.Background(), rt, em); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if rt.Phase != task.PhaseCompleted {
				t.Fatalf("expected review completed, got %s", rt.Phase)
			}
			if len(em.karma) != 1 {
				t.Fatalf("expected one karma event, got %+v", em.karma)
			}
			ev := em.karma[0]
			if ev.AgentID != "fetcher-1" || ev.TaskID != orig.ID || ev.Delta != tt.wantDelta {
				t.Fatalf("unexpected karma %+v, want delta %d", ev, tt.wantDelta)
			}
			if !strings.HasPrefix(ev.Reason, "Reviewer score: "+tt.wantQ+".") {
				t.Fatalf("unexpected reason %q", ev.Reason)
			}
			if got := f.tasks.status(orig.ID); got != task.StatusCompleted {
				t.Fatalf("original should be completed, got %s", got)
			}
			if len(rt.Artifacts) != 1 || rt.Artifacts[0].Name != "review" {
				t.Fatalf("expected review artifact, got %+v", rt.Artifacts)
			}
		})
	}
}

func TestReviewerInvalidPayload(t *testing.T) {
	f := newFixture()
	r := NewReviewer(StaticScorer{Quality: 1}, testPolicy, -2, f.queue)
	em := &captureEmitter{}
	rt := task.New(task.TypeReviewArtifact, map[string]any{"original_task_id": "x"})

	if err := r.Handle(context.Background(), rt, em); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rt.Phase != task.PhaseFailed {
		t.Fatalf("expected failed, got %s", rt.Phase)
	}
	if len(em.karma) != 1 || em.karma[0].AgentID != "" || em.karma[0].Delta != -2 || em.karma[0].Reason != karma.ReasonInvalidReview {
		t.Fatalf("expected self penalty, got %+v", em.karma)
	}
}

func TestReviewerScoringFailureFailsOriginal(t *testing.T) {
	f := newFixture()
	orig := pendingOriginal(t, f)
	r := NewReviewer(fakeScorer{err: errors.New("llm down")}, testPolicy, -2, f.queue)
	em := &captureEmitter{}
	rt := reviewTask(orig.ID, 3)

	if err := r.Handle(context.Background(), rt, em); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rt.Phase != task.PhaseFailed {
		t.Fatalf("expected review failed, got %s", rt.Phase)
	}
	if got := f.tasks.status(orig.ID); got != task.StatusFailed {
		t.Fatalf("original should be failed, got %s", got)
	}
	if len(em.karma) != 0 {
		t.Fatalf("no karma on scoring failure, got %+v", em.karma)
	}
}

func TestReviewerKarmaFailureFailsOriginal(t *testing.T) {
	f := newFixture()
	orig := pendingOriginal(t, f)
	r := NewReviewer(StaticScorer{Quality: 1}, testPolicy, -2, f.queue)
	em := &captureEmitter{karmaErr: errors.New("ledger down")}
	rt := reviewTask(orig.ID, 3)

	if err := r.Handle(context.Background(), rt, em); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rt.Phase != task.PhaseFailed {
		t.Fatalf("expected review failed, got %s", rt.Phase)
	}
	if got := f.tasks.status(orig.ID); got != task.StatusFailed {
		t.Fatalf("original should be failed, got %s", got)
	}
}

func TestReviewerJustificationKeepsRunesWhole(t *testing.T) {
	f := newFixture()
	orig := pendingOriginal(t, f)
	justification := strings.Repeat("a", maxJustification-1) + "— and more"
	r := NewReviewer(fakeScorer{score: llm.Score{Quality: 1, Justification: justification}}, testPolicy, -2, f.queue)
	em := &captureEmitter{}

	if err := r.Handle(context.Background(), reviewTask(orig.ID, 3), em); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(em.karma) != 1 {
		t.Fatalf("expected one karma event, got %+v", em.karma)
	}
	reason := em.karma[0].Reason
	if !utf8.ValidString(reason) {
		t.Fatalf("reason is not valid UTF-8: %q", reason)
	}
	if !strings.HasSuffix(reason, "a—") {
		t.Errorf("expected the dash kept whole at the cut, got ...%q", reason[len(reason)-8:])
	}
}

func TestReviewerCapabilities(t *testing.T) {
	r := NewReviewer(StaticScorer{}, testPolicy, -2, nil)
	caps := r.Capabilities()
	if !caps.Reviewer || !caps.Handles(task.TypeReviewArtifact) {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}
