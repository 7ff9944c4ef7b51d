package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sweepjudge"

// StartDispatchSpan starts a span for one scheduler dispatch.
func StartDispatchSpan(ctx context.Context, taskID, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartHandleSpan starts a span for a worker handling a task.
func StartHandleSpan(ctx context.Context, agentID, taskID, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "handle",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartReviewSpan starts a span for scoring a reviewed artifact.
func StartReviewSpan(ctx context.Context, originalTaskID, originalAgentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review",
		trace.WithAttributes(
			attribute.String("review.task_id", originalTaskID),
			attribute.String("review.agent_id", originalAgentID),
		),
	)
}
