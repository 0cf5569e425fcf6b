// Package telemetry provides thin span helpers around the turn loop and
// tool execution, carried as ambient observability per SPEC_FULL.md.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xonecas/agentrt/internal/session"

// Tracer returns the package-wide tracer, sourced from the globally
// configured TracerProvider. Callers that never configure one get otel's
// default no-op provider, so the engine has no mandatory collector
// dependency.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartTurnSpan starts a span covering one assistant turn (one provider
// request plus its decode).
func StartTurnSpan(ctx context.Context, sessionID string, turnIndex int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("session.turn_index", turnIndex),
		),
	)
}

// StartToolSpan starts a span covering one tool execution.
func StartToolSpan(ctx context.Context, sessionID, toolName, toolUseID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.tool_call",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("tool.name", toolName),
			attribute.String("tool.use_id", toolUseID),
		),
	)
}

// EndWithError ends span, recording err as its status if non-nil. Safe to
// call with a nil err.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
