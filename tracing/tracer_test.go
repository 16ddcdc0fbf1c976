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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOtelTracerRecordsErrorAndEndsSpan(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewStdoutTracerProvider(&buf)
	require.NoError(t, err)
	defer ShutdownTracerProvider(context.Background(), tp)

	tr := NewOtelTracer(tp)
	ctx, span := tr.StartSpan(context.Background(), "checkout.applyEntry")
	assert.NotNil(t, ctx)
	tr.RecordError(span, errors.New("boom"))
	tr.EndSpan(span)

	require.NoError(t, ShutdownTracerProvider(context.Background(), tp))
	assert.Contains(t, buf.String(), "checkout.applyEntry")
	assert.Contains(t, buf.String(), "boom")
}

func TestNoopTracerNeverPanics(t *testing.T) {
	tr := NewNoopTracer()
	ctx, span := tr.StartServerSpan(context.Background(), "fs.LookUpInode")
	assert.NotPanics(t, func() {
		tr.RecordError(span, nil)
		tr.RecordError(span, errors.New("x"))
		tr.EndSpan(span)
		tr.PropagateTraceContext(ctx, ctx)
	})
}
