package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"clusterkit/internal/telemetry"
)

func TestStartRequestRecordsAttributesAndError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")

	op := telemetry.StartRequest(context.Background(), tracer, "_eval", "nonce-1", 3)
	if op == nil {
		t.Fatal("expected non-nil operation")
	}
	op.End(errors.New("boom"))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans: got %d want 1", len(spans))
	}
	if spans[0].Name() != "_eval" {
		t.Fatalf("span name: got %q want %q", spans[0].Name(), "_eval")
	}
}

func TestStartRequestNilTracerIsSafe(t *testing.T) {
	op := telemetry.StartRequest(context.Background(), nil, "_eval", "nonce-1", 3)
	if op.Context() == nil {
		t.Fatal("expected non-nil background context")
	}
	op.End(nil) // must not panic
}
