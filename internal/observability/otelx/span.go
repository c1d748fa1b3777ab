package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bakkerme/marketwatch/internal/core"
)

const tracerPrefix = "marketwatch/"

// StartSpan opens a span on the component's tracer and tags it with the
// cycle and query carried by ctx.
func StartSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerPrefix+component).Start(ctx, name)
	span.SetAttributes(CorrelationAttributes(ctx)...)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// CorrelationAttributes returns the cycle.id and query attributes present in ctx.
func CorrelationAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := core.CycleIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("cycle.id", id))
	}
	if q := core.QueryFromContext(ctx); q != "" {
		attrs = append(attrs, attribute.String("query", q))
	}
	return attrs
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
