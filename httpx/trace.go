package httpx

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator propagation.TextMapPropagator = propagation.TraceContext{}

// injectTrace writes traceparent (and tracestate) for ctx into h. When
// ctx carries no span, a fresh sampled root context is used so that every
// outgoing request can be correlated.
func injectTrace(ctx context.Context, h Header) {
	if h.Get("traceparent") != "" {
		return
	}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, newRootSpanContext())
	}
	propagator.Inject(ctx, headerCarrier(h))
}

// TraceFrom extracts a remote span context from response or request
// headers.
func TraceFrom(h Header) (trace.SpanContext, bool) {
	ctx := propagator.Extract(context.Background(), headerCarrier(h))
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

func newRootSpanContext() trace.SpanContext {
	var tid trace.TraceID
	var sid trace.SpanID
	for !tid.IsValid() {
		_, _ = rand.Read(tid[:])
	}
	for !sid.IsValid() {
		_, _ = rand.Read(sid[:])
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

// headerCarrier adapts Header to propagation.TextMapCarrier.
type headerCarrier Header

func (c headerCarrier) Get(key string) string { return Header(c).Get(key) }
func (c headerCarrier) Set(key, value string) { Header(c).Set(key, value) }
func (c headerCarrier) Keys() []string        { return Header(c).keys() }
