package otelx

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bakkerme/marketwatch/internal/core"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	return recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestStartSpanCarriesCycleAndQuery(t *testing.T) {
	recorder := recordSpans(t)
	ctx := core.WithQuery(core.WithCycleID(context.Background(), "cycle-1"), "nike air")

	_, span := StartSpan(ctx, "test", "test.op", attribute.Int("page_size", 5))
	EndSpan(span, errors.New("boom"))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	got := ended[0]
	if got.Name() != "test.op" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	for key, want := range map[string]string{"cycle.id": "cycle-1", "query": "nike air", "page_size": "5"} {
		if v, ok := attrValue(got.Attributes(), key); !ok || v != want {
			t.Fatalf("attribute %s=%q (present=%v) want %q", key, v, ok, want)
		}
	}
	if got.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", got.Status())
	}
}

func TestCorrelationAttributesEmptyContext(t *testing.T) {
	if attrs := CorrelationAttributes(context.Background()); len(attrs) != 0 {
		t.Fatalf("expected no attributes, got %v", attrs)
	}
}
