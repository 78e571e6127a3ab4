// Package telemetry wraps nonce-correlated IPC requests in OpenTelemetry
// spans so a manager or cluster client's eval/fetch/request calls show up
// as traceable operations.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	NonceKey     = "clusterkit.nonce"
	ClusterIDKey = "clusterkit.cluster_id"
	KindKey      = "clusterkit.kind"

	defaultOperationID = "request"
)

// Operation tracks the span for one outstanding nonce-correlated request.
type Operation struct {
	ctx  context.Context
	span trace.Span
}

// StartRequest begins a span for an outbound request identified by kind
// (the MessageEnvelope discriminator), nonce, and the cluster id it targets
// (-1 when the request has no single cluster target, e.g. a broadcast).
func StartRequest(ctx context.Context, tracer trace.Tracer, kind, nonce string, clusterID int) *Operation {
	if tracer == nil {
		return nil
	}
	operation := strings.TrimSpace(kind)
	if operation == "" {
		operation = defaultOperationID
	}

	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String(KindKey, kind),
		attribute.String(NonceKey, nonce),
		attribute.Int(ClusterIDKey, clusterID),
	))
	return &Operation{ctx: spanCtx, span: span}
}

// Context returns the span-carrying context, or the background context if
// the Operation is nil (telemetry is always optional).
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn as a named child span, recording any returned error.
func (o *Operation) RunStep(ctx context.Context, name string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if o == nil || o.span == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	tracer := trace.SpanFromContext(o.ctx).TracerProvider().Tracer("clusterkit")
	stepCtx, span := tracer.Start(ctx, strings.TrimSpace(name))
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// End closes the span, recording err if the request failed (including
// TimedOut — a timeout is a normal, expected outcome per spec.md §5, but
// still worth recording on the span for observability).
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	}
	o.span.End()
}
