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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// noopTracer discards every span; used by tests and by mounts that start
// without a configured TracerProvider.
type noopTracer struct {
	tracer trace.Tracer
}

// NewNoopTracer returns a Tracer that does no instrumentation work.
func NewNoopTracer() Tracer {
	return &noopTracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

func (t *noopTracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

func (t *noopTracer) StartServerSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

func (t *noopTracer) EndSpan(span trace.Span) {
	if span == nil {
		return
	}
	span.End()
}

func (t *noopTracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func (t *noopTracer) PropagateTraceContext(to, from context.Context) context.Context {
	return to
}
