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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"golang.org/x/time/rate"

	"github.com/edenfs-go/edenfs/checkout"
	"github.com/edenfs-go/edenfs/common"
	"github.com/edenfs-go/edenfs/inode"
	"github.com/edenfs-go/edenfs/metrics"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/overlay"
	"github.com/edenfs-go/edenfs/tracing"
)

// DefaultParentLockTimeout is the specified acquisition wait before a
// checkout request fails with ErrCheckoutInProgress.
const DefaultParentLockTimeout = 500 * time.Millisecond

// EdenMount is the per-mount aggregate: it owns the InodeMap, the
// Overlay, the current parent commit, and serializes checkouts against
// one another via the parent-commit lock.
type EdenMount struct {
	state stateHolder

	overlay *overlay.Overlay
	inodes  *inode.Map
	root    *inode.TreeInode
	store   objectstore.Store
	clock   timeutil.Clock

	parentLock        *parentCommitLock
	parentLockTimeout time.Duration
	renameLock        sync.RWMutex

	parentMu sync.Mutex
	parent   model.Hash

	unmountRequested atomic.Bool

	// generation identifies this process's mount instance across a
	// takeover restart, distinct per Open call.
	generation string

	tracer          tracing.Tracer
	metrics         *metrics.Registry
	prefetchLimiter *rate.Limiter
}

// SetParentLockTimeout overrides DefaultParentLockTimeout, the max wait
// to acquire the parent-commit lock before Checkout fails with
// ErrCheckoutInProgress.
func (m *EdenMount) SetParentLockTimeout(d time.Duration) {
	m.parentLockTimeout = d
}

// SetPrefetchLimiter bounds how fast Checkout and Diff fetch trees from
// the object store. It limits the rate at which fetches start, not how
// many are in flight. A nil limiter (the default) leaves fetches unbounded.
func (m *EdenMount) SetPrefetchLimiter(l *rate.Limiter) {
	m.prefetchLimiter = l
}

// SetTracer installs t as the mount's Tracer, replacing the no-op default
// Open installs. Intended to be called once, before Start.
func (m *EdenMount) SetTracer(t tracing.Tracer) {
	if t != nil {
		m.tracer = t
	}
}

// SetMetrics installs r as the mount's metrics collector. A nil r is a
// valid "no metrics wired" configuration, since every Registry method is
// nil-receiver safe.
func (m *EdenMount) SetMetrics(r *metrics.Registry) {
	m.metrics = r
}

// Open initializes an EdenMount rooted at overlayDir and records rootHash
// as its parent commit. The root directory is materialized and takes its
// entries from the overlay (none for a fresh overlay); the tree rootHash
// names is not fetched. It leaves the mount in Initialized state;
// callers transition to Starting/Running once the kernel connection is
// live.
func Open(overlayDir string, store objectstore.Store, clk timeutil.Clock, rootHash model.Hash) (*EdenMount, error) {
	m := &EdenMount{
		parentLock:        newParentCommitLock(),
		parentLockTimeout: DefaultParentLockTimeout,
		store:             store,
		clock:             clk,
		parent:            rootHash,
		tracer:            tracing.NewNoopTracer(),
		generation:        uuid.NewString(),
	}
	if err := m.state.transition(Initializing); err != nil {
		return nil, err
	}

	ov, err := overlay.Open(overlayDir)
	if err != nil {
		m.state.transition(InitError)
		return nil, fmt.Errorf("mount: opening overlay: %w", err)
	}
	m.overlay = ov

	inodes := inode.NewMap(ov)
	deps := inodes.Deps(store, clk)
	root := inode.NewRoot(deps, rootHash)
	if err := root.MarkMaterialized(); err != nil {
		m.state.transition(InitError)
		return nil, fmt.Errorf("mount: materializing root: %w", err)
	}
	inodes.Register(root)

	m.inodes = inodes
	m.root = root

	if err := m.state.transition(Initialized); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EdenMount) State() State { return m.state.load() }

// Generation identifies this in-process mount instance, minted fresh by
// Open. A takeover restart that inherits the kernel connection gets a
// new generation even though InodeMap state carries over via
// SerializeForTakeover/LoadFromTakeover.
func (m *EdenMount) Generation() string { return m.generation }

func (m *EdenMount) Root() *inode.TreeInode { return m.root }

func (m *EdenMount) Inodes() *inode.Map { return m.inodes }

// Start transitions the mount into Running, the point at which it begins
// serving kernel requests. An unmount requested during startup is
// observed here and fails the transition with ErrUnmountCancelled.
func (m *EdenMount) Start() error {
	if err := m.state.transition(Starting); err != nil {
		return err
	}
	if m.unmountRequested.Load() {
		m.state.transition(FuseError)
		return ErrUnmountCancelled
	}
	return m.state.transition(Running)
}

// RequestUnmount sets the "unmount started" flag observed by Start. It
// does not unmount or shut down a mount that is already Running.
func (m *EdenMount) RequestUnmount() {
	m.unmountRequested.Store(true)
}

// CurrentParent returns the mount's recorded parent commit hash.
func (m *EdenMount) CurrentParent() model.Hash {
	m.parentMu.Lock()
	defer m.parentMu.Unlock()
	return m.parent
}

// Checkout moves the mount's live tree from its current parent to
// targetHash under mode, serializing against any other in-flight
// checkout via the parent-commit lock (step 1 of the specified flow) and
// holding the rename lock exclusively while mutations are applied (step
// 4). On success (and not DryRun) it records targetHash as the new
// parent.
func (m *EdenMount) Checkout(ctx context.Context, targetHash model.Hash, mode checkout.Mode) (*checkout.Context, error) {
	ctx, span := m.tracer.StartSpan(ctx, "mount.Checkout")
	defer m.tracer.EndSpan(span)

	if !m.parentLock.tryLock(m.parentLockTimeout) {
		m.tracer.RecordError(span, checkout.ErrCheckoutInProgress)
		return nil, checkout.ErrCheckoutInProgress
	}
	defer m.parentLock.unlock()

	oldHash := m.CurrentParent()

	m.renameLock.Lock()
	defer m.renameLock.Unlock()

	cc := checkout.NewContext(targetHash, mode).WithPrefetchLimiter(m.prefetchLimiter)
	start := m.clock.Now()
	err := checkout.Run(ctx, m.store, m.root, oldHash, targetHash, cc)
	m.metrics.ObserveCheckout(mode, m.clock.Now().Sub(start), cc)
	if err != nil {
		m.tracer.RecordError(span, err)
		return cc, err
	}

	if mode != checkout.DryRun {
		m.parentMu.Lock()
		m.parent = targetHash
		m.parentMu.Unlock()
	}
	return cc, nil
}

// ResetParents updates the mount's recorded parent commit without
// touching the working copy; used to reconcile EdenMount's bookkeeping
// with an out-of-band change to the backing commit (e.g. an external
// `reset --soft`).
func (m *EdenMount) ResetParents(parent model.Hash) {
	m.parentMu.Lock()
	defer m.parentMu.Unlock()
	m.parent = parent
}

// Diff walks (currentParent, commitHash, live tree) the same way checkout
// does but never mutates anything: it runs a DryRun checkout and returns
// its Context. Only conflicts are reported; paths the walk would add,
// remove or update without a conflict are not listed.
func (m *EdenMount) Diff(ctx context.Context, commitHash model.Hash, enforceCurrentParent bool) (*checkout.Context, error) {
	ctx, span := m.tracer.StartSpan(ctx, "mount.Diff")
	defer m.tracer.EndSpan(span)

	if enforceCurrentParent && m.CurrentParent() != commitHash {
		m.tracer.RecordError(span, checkout.ErrOutOfDateParent)
		return nil, checkout.ErrOutOfDateParent
	}
	cc := checkout.NewContext(commitHash, checkout.DryRun).WithPrefetchLimiter(m.prefetchLimiter)
	start := m.clock.Now()
	err := checkout.Run(ctx, m.store, m.root, m.CurrentParent(), commitHash, cc)
	m.metrics.ObserveCheckout(checkout.DryRun, m.clock.Now().Sub(start), cc)
	if err != nil {
		m.tracer.RecordError(span, err)
	}
	return cc, err
}

// Shutdown runs journalShutdown, closes the overlay (releasing its lock),
// and transitions to ShutDown. It does not wait for the InodeMap to drain.
// Unmount and shutdown are separable: shutdown only releases in-process
// state.
func (m *EdenMount) Shutdown(ctx context.Context, journalShutdown common.ShutdownFn) error {
	if err := m.state.transition(ShuttingDown); err != nil {
		return err
	}

	shutdown := common.JoinShutdownFunc(journalShutdown, func(ctx context.Context) error {
		return m.overlay.Close()
	})
	if err := shutdown(ctx); err != nil {
		return err
	}

	return m.state.transition(ShutDown)
}

// Destroy forces the mount into Destroying from any state, for abrupt
// teardown (e.g. a fatal invariant violation).
func (m *EdenMount) Destroy() {
	m.state.transition(Destroying)
}
