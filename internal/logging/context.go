package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type runCtxKey struct{}
type collectionCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}

	if collection := CollectionFromContext(ctx); collection != "" {
		fields = append(fields, zap.String("collection", collection))
	}

	return fields
}

// ContextWithRunID attaches a migration run identifier to the context.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run ID from the context, or "".
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextWithCollection attaches the collection being migrated to the context.
func ContextWithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, collectionCtxKey{}, collection)
}

// CollectionFromContext returns the collection name from the context, or "".
func CollectionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(collectionCtxKey{}).(string); ok {
		return v
	}
	return ""
}
