package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/liveline-dev/liveline/pkg/server"

// tracer instruments dispatch passes. Each pass becomes one span, so a live
// connection's updates show up as a chain of spans under the same request id
// attribute.
type tracer struct {
	t trace.Tracer
}

func newTracer() *tracer {
	return &tracer{t: otel.Tracer(tracerName)}
}

func (tr *tracer) startPass(parent context.Context, ctx *Context, live bool) (context.Context, trace.Span) {
	return tr.t.Start(parent, "dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", ctx.Request.Method),
			attribute.String("url.path", ctx.URL.Path),
			attribute.String("liveline.request_id", ctx.ID),
			attribute.Bool("liveline.live", live),
		))
}

func (tr *tracer) endPass(span trace.Span, ctx *Context) {
	span.SetAttributes(attribute.Int("http.response.status_code", ctx.Response.Status()))
	if ctx.Err != nil {
		span.RecordError(ctx.Err)
		span.SetStatus(codes.Error, "handler failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
