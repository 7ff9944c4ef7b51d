package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/karma"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/llm"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
)

const reviewReasonPrefix = "Reviewer score: "

// maxJustification keeps the karma reason within its column, in runes.
const maxJustification = 200

// StaticScorer gives every artifact the same quality. It stands in for the
// LLM judge when none is configured.
type StaticScorer struct {
	Quality float64
}

// Score implements llm.Scorer.
func (s StaticScorer) Score(context.Context, task.Artifact, time.Duration) (llm.Score, error) {
	return llm.Score{Quality: s.Quality, Justification: "static score"}, nil
}

// Reviewer judges Review_Artifact tasks, rewards the original worker and
// completes the original task.
type Reviewer struct {
	scorer         llm.Scorer
	policy         karma.ReviewPolicy
	invalidPenalty int
	queue          *TaskQueue
}

// NewReviewer creates the reviewer handler.
func NewReviewer(scorer llm.Scorer, policy karma.ReviewPolicy, invalidPenalty int, queue *TaskQueue) *Reviewer {
	return &Reviewer{scorer: scorer, policy: policy, invalidPenalty: invalidPenalty, queue: queue}
}

// Capabilities implements worker.Handler.
func (r *Reviewer) Capabilities() worker.Capabilities {
	return worker.Capabilities{TaskTypes: []string{task.TypeReviewArtifact}, Reviewer: true}
}

// Handle implements worker.Handler.
func (r *Reviewer) Handle(ctx context.Context, t *task.Task, emit worker.Emitter) error {
	p, err := task.ParseReviewPayload(t.Payload)
	if err != nil {
		slog.WarnContext(ctx, "invalid review request", "error", err)
		if kerr := emit.EmitKarma(ctx, "", r.invalidPenalty, karma.ReasonInvalidReview, ""); kerr != nil {
			slog.ErrorContext(ctx, "record invalid review penalty", "error", kerr)
		}
		t.Phase = task.PhaseFailed
		return nil
	}

	ctx, span := cfotel.StartReviewSpan(ctx, p.OriginalTaskID, p.OriginalAgentID)
	defer span.End()

	took := time.Duration(p.Duration * float64(time.Second))
	original := &task.Task{ID: p.OriginalTaskID}

	score, err := r.scorer.Score(ctx, p.Artifact, took)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		slog.ErrorContext(ctx, "review scoring failed", "original_task_id", p.OriginalTaskID, "error", err)
		r.abandon(ctx, t, original, p.OriginalAgentID)
		return nil
	}

	quality := r.policy.ClampQuality(score.Quality)
	delta := r.policy.Delta(quality, took)
	span.SetAttributes(attribute.Float64("review.quality", quality), attribute.Int("review.delta", delta))

	reason := fmt.Sprintf("%s%.2f. %s", reviewReasonPrefix, quality, karma.Clip(strings.TrimSpace(score.Justification), maxJustification))
	if err := emit.EmitKarma(ctx, p.OriginalAgentID, delta, strings.TrimSpace(reason), p.OriginalTaskID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "karma write failed")
		slog.ErrorContext(ctx, "record review karma", "original_task_id", p.OriginalTaskID, "error", err)
		r.abandon(ctx, t, original, p.OriginalAgentID)
		return nil
	}
	if err := r.queue.Finish(ctx, original, task.StatusCompleted, p.OriginalAgentID, nil, 0); err != nil {
		slog.WarnContext(ctx, "complete reviewed task", "original_task_id", p.OriginalTaskID, "error", err)
	}

	t.Artifacts = []task.Artifact{{
		Name: "review",
		Parts: []task.Part{task.DataPart(map[string]any{
			"original_task_id":  p.OriginalTaskID,
			"original_agent_id": p.OriginalAgentID,
			"quality_score":     quality,
			"delta":             delta,
			"justification":     score.Justification,
		})},
	}}
	t.Phase = task.PhaseCompleted
	return nil
}

// abandon fails both the original and the review task when a review cannot
// finish, so the original never stays pending_review.
func (r *Reviewer) abandon(ctx context.Context, review, original *task.Task, agentID string) {
	if err := r.queue.Finish(ctx, original, task.StatusFailed, agentID, nil, 0); err != nil {
		slog.ErrorContext(ctx, "fail reviewed task", "original_task_id", original.ID, "error", err)
	}
	review.Phase = task.PhaseFailed
}
