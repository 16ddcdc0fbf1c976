// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps go.opentelemetry.io/otel spans around a mount's
// checkout and diff operations.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts and ends spans around one mount's operations. EdenMount's
// Checkout and Diff go through this interface (overlay I/O is not traced),
// so swapping in NewNoopTracer for tests costs nothing.
type Tracer interface {
	// StartSpan begins an internal span (e.g. one checkout walk step).
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	// StartServerSpan begins a span for an inbound request (e.g. one
	// fuseops.*Op handler), the root of a trace rather than a child.
	StartServerSpan(ctx context.Context, name string) (context.Context, trace.Span)
	// EndSpan ends span, safe to call with a nil span.
	EndSpan(span trace.Span)
	// RecordError attaches err to span and marks it errored; a nil err
	// is a no-op.
	RecordError(span trace.Span, err error)
	// PropagateTraceContext copies from's trace context onto to, the way
	// a checkout hands its span down into object-store fetches issued by
	// worker goroutines with their own derived contexts. The otel Tracer
	// copies through the process's global otel propagator, which copies
	// nothing unless the process installed one; the noop Tracer returns to
	// unchanged.
	PropagateTraceContext(to, from context.Context) context.Context
}

const instrumentationName = "github.com/edenfs-go/edenfs"

// otelTracer is the production Tracer, backed by the TracerProvider passed
// to NewOtelTracer (for example one built by NewStdoutTracerProvider).
type otelTracer struct {
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

// NewOtelTracer builds a Tracer using the given otel TracerProvider. Pass
// otel.GetTracerProvider() to use whatever the process installed globally.
func NewOtelTracer(tp trace.TracerProvider) Tracer {
	return &otelTracer{
		tracer: tp.Tracer(instrumentationName),
		prop:   otel.GetTextMapPropagator(),
	}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

func (t *otelTracer) StartServerSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

func (t *otelTracer) EndSpan(span trace.Span) {
	if span == nil {
		return
	}
	span.End()
}

func (t *otelTracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *otelTracer) PropagateTraceContext(to, from context.Context) context.Context {
	carrier := propagation.MapCarrier{}
	t.prop.Inject(from, carrier)
	return t.prop.Extract(to, carrier)
}
