package logging

import (
	"context"
	"log/slog"

	"fecingest/internal/services"
)

const (
	// FieldRunID is the structured logging key for pipeline run identifiers.
	FieldRunID = "run_id"
	// FieldPipeline is the structured logging key for pipeline identifiers.
	FieldPipeline = "pipeline"
	// FieldStage is the structured logging key for stage names.
	FieldStage = "stage"
	// FieldCorrelationID is the structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact    = "impact"
	FieldErrorKind = "error_kind"
	// FieldName and FieldCycle identify the affected workspace.
	FieldName  = "name"
	FieldCycle = "cycle"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if pipeline, ok := services.PipelineFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPipeline, pipeline))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
