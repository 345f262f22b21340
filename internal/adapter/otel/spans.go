package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "conductor"

// StartRunSpan starts a span for one pipeline run.
func StartRunSpan(ctx context.Context, repository, taskID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.repository", repository),
			attribute.String("run.task_id", taskID),
			attribute.String("run.tool", tool),
		),
	)
}

// StartStageSpan starts a span for one stage attempt within a run.
func StartStageSpan(ctx context.Context, stage string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.Int("stage.attempt", attempt),
		),
	)
}
