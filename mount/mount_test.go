// Copyright 2015 Google Inc. All Rights Reserved.
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

package mount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/edenfs-go/edenfs/checkout"
	"github.com/edenfs-go/edenfs/clock"
	"github.com/edenfs-go/edenfs/metrics"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/tracing"
)

func newTestMount(t *testing.T) *EdenMount {
	t.Helper()
	store := objectstore.NewFakeStore()
	m, err := Open(t.TempDir(), store, clock.RealClock{}, model.Hash{})
	require.NoError(t, err)
	return m
}

func TestOpenReachesInitialized(t *testing.T) {
	m := newTestMount(t)
	assert.Equal(t, Initialized, m.State())
}

func TestStartReachesRunning(t *testing.T) {
	m := newTestMount(t)
	require.NoError(t, m.Start())
	assert.Equal(t, Running, m.State())
}

func TestStartFailsAfterUnmountRequested(t *testing.T) {
	m := newTestMount(t)
	m.RequestUnmount()
	err := m.Start()
	assert.ErrorIs(t, err, ErrUnmountCancelled)
	assert.Equal(t, FuseError, m.State())
}

func TestCheckoutCreatesFileAndAdvancesParent(t *testing.T) {
	m := newTestMount(t)
	ctx := context.Background()

	store := m.store.(*objectstore.FakeStore)
	blob := &objectstore.Blob{Hash: model.Hash{9}, Content: []byte("hi")}
	store.PutBlob(blob)
	newTree := &objectstore.Tree{Hash: model.Hash{1}, Entries: []model.TreeEntry{
		{Name: "a.txt", Hash: blob.Hash, Mode: 0644, Type: model.EntryTypeRegular},
	}}
	store.PutTree(newTree)

	cc, err := m.Checkout(ctx, newTree.Hash, checkout.Normal)
	require.NoError(t, err)
	assert.Empty(t, cc.Conflicts())
	assert.Equal(t, newTree.Hash, m.CurrentParent())

	e, err := m.Root().Lookup(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, blob.Hash, e.Hash)
}

func TestDryRunCheckoutDoesNotAdvanceParent(t *testing.T) {
	m := newTestMount(t)
	ctx := context.Background()

	store := m.store.(*objectstore.FakeStore)
	newTree := &objectstore.Tree{Hash: model.Hash{2}, Entries: nil}
	store.PutTree(newTree)

	before := m.CurrentParent()
	_, err := m.Checkout(ctx, newTree.Hash, checkout.DryRun)
	require.NoError(t, err)
	assert.Equal(t, before, m.CurrentParent())
}

func TestCheckoutSerializesAgainstConcurrentCheckout(t *testing.T) {
	m := newTestMount(t)
	m.parentLockTimeout = 50 * time.Millisecond
	ctx := context.Background()

	require.True(t, m.parentLock.tryLock(time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	var checkoutErr error
	go func() {
		defer wg.Done()
		_, checkoutErr = m.Checkout(ctx, model.Hash{3}, checkout.Normal)
	}()
	wg.Wait()

	assert.ErrorIs(t, checkoutErr, checkout.ErrCheckoutInProgress)
	m.parentLock.unlock()
}

func TestDiffEnforcesCurrentParent(t *testing.T) {
	m := newTestMount(t)
	ctx := context.Background()

	_, err := m.Diff(ctx, model.Hash{4}, true)
	assert.ErrorIs(t, err, checkout.ErrOutOfDateParent)
}

func TestShutdownTransitionsToShutDown(t *testing.T) {
	m := newTestMount(t)
	require.NoError(t, m.Start())
	err := m.Shutdown(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, ShutDown, m.State())
}

func TestGenerationIsUniquePerOpen(t *testing.T) {
	a := newTestMount(t)
	b := newTestMount(t)
	assert.NotEmpty(t, a.Generation())
	assert.NotEqual(t, a.Generation(), b.Generation())
}

func TestCheckoutRespectsPrefetchLimiter(t *testing.T) {
	m := newTestMount(t)
	ctx := context.Background()

	store := m.store.(*objectstore.FakeStore)
	newTree := &objectstore.Tree{Hash: model.Hash{5}, Entries: nil}
	store.PutTree(newTree)

	// A limiter with zero burst rejects the very first fetch immediately
	// instead of blocking forever, so this proves the limiter is actually
	// consulted rather than silently ignored.
	m.SetPrefetchLimiter(rate.NewLimiter(rate.Limit(1), 0))
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	_, err := m.Checkout(ctx, newTree.Hash, checkout.Normal)
	assert.Error(t, err)
}

func TestSetParentLockTimeoutOverridesDefault(t *testing.T) {
	m := newTestMount(t)
	m.SetParentLockTimeout(time.Millisecond)
	assert.Equal(t, time.Millisecond, m.parentLockTimeout)
}

func TestSetMetricsAndTracerAreOptional(t *testing.T) {
	m := newTestMount(t)
	m.SetMetrics(metrics.NewRegistry(prometheus.NewRegistry()))
	m.SetTracer(tracing.NewNoopTracer())

	ctx := context.Background()
	store := m.store.(*objectstore.FakeStore)
	newTree := &objectstore.Tree{Hash: model.Hash{6}, Entries: nil}
	store.PutTree(newTree)

	_, err := m.Checkout(ctx, newTree.Hash, checkout.Normal)
	require.NoError(t, err)
}

func TestCheckoutReportsDurationFromInjectedClock(t *testing.T) {
	store := objectstore.NewFakeStore()
	simClock := clock.NewSimulatedClock(time.Unix(1000, 0))
	m, err := Open(t.TempDir(), store, simClock, model.Hash{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m.SetMetrics(metrics.NewRegistry(reg))

	newTree := &objectstore.Tree{Hash: model.Hash{11}, Entries: nil}
	store.PutTree(newTree)

	// clock.Now is read once before and once after the walk; since nothing
	// else advances it between those reads, the walk itself observes a
	// zero-duration checkout regardless of wall-clock time.
	simClock.AdvanceTime(5 * time.Second)
	_, err = m.Checkout(context.Background(), newTree.Hash, checkout.Normal)
	require.NoError(t, err)

	mf, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, fam := range mf {
		if fam.GetName() == "edenfs_checkout_duration_seconds" {
			found = true
			require.Len(t, fam.GetMetric(), 1)
			assert.Equal(t, uint64(1), fam.GetMetric()[0].GetHistogram().GetSampleCount())
			assert.InDelta(t, 0, fam.GetMetric()[0].GetHistogram().GetSampleSum(), 1e-9)
		}
	}
	assert.True(t, found, "edenfs_checkout_duration_seconds not reported")
}
