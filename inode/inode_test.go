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

package inode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/clock"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/overlay"
)

// harness bundles a fresh Map + root TreeInode + fake store for tests.
type harness struct {
	ov    *overlay.Overlay
	store *objectstore.FakeStore
	m     *Map
	root  *TreeInode
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ov, err := overlay.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ov.Close() })

	store := objectstore.NewFakeStore()
	m := NewMap(ov)
	d := m.Deps(store, clock.RealClock{})
	root := NewRoot(d, model.Hash{})
	require.NoError(t, root.MarkMaterialized())
	m.Register(root)

	return &harness{ov: ov, store: store, m: m, root: root}
}

func TestCreateThenReadRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.root.Create(ctx, "a.txt", 0644, []byte("hello world"), nil)
	require.NoError(t, err)

	child, err := h.root.GetOrLoadChild(ctx, "a.txt")
	require.NoError(t, err)
	f := child.(*FileInode)

	buf := make([]byte, 32)
	n, err := f.Read(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestWriteMaterializesAndGrows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	f, err := h.root.Create(ctx, "a.txt", 0644, []byte("hello"), nil)
	require.NoError(t, err)

	n, err := f.Write(ctx, 5, []byte(" world"), nil)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, FileMaterialized, f.State())

	buf := make([]byte, 32)
	got, err := f.Read(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:got]))
}

func TestReadPastEOFReturnsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	f, err := h.root.Create(ctx, "a.txt", 0644, []byte("hi"), nil)
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := f.Read(ctx, 100, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMkdirAndLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.root.Mkdir(ctx, "sub", 0755, nil)
	require.NoError(t, err)

	e, err := h.root.Lookup(ctx, "sub")
	require.NoError(t, err)
	assert.True(t, e.Type.IsDir())
}

func TestUnlinkRemovesEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.root.Create(ctx, "a.txt", 0644, []byte("x"), nil)
	require.NoError(t, err)

	ino, err := h.root.Unlink(ctx, "a.txt")
	require.NoError(t, err)
	assert.NotZero(t, ino)

	_, err = h.root.Lookup(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkDirectoryFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.root.Mkdir(ctx, "sub", 0755, nil)
	require.NoError(t, err)

	_, err = h.root.Unlink(ctx, "sub")
	assert.ErrorIs(t, err, ErrIsDir)
}

func TestRmdirFailsWhenNotEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.root.Mkdir(ctx, "sub", 0755, nil)
	require.NoError(t, err)
	_, err = sub.Create(ctx, "leaf.txt", 0644, []byte("x"), nil)
	require.NoError(t, err)

	_, err = h.root.Rmdir(ctx, "sub")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestRenameWithinDirectory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.root.Create(ctx, "a.txt", 0644, []byte("x"), nil)
	require.NoError(t, err)

	require.NoError(t, h.root.Rename(ctx, "a.txt", h.root, "b.txt"))

	_, err = h.root.Lookup(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.root.Lookup(ctx, "b.txt")
	assert.NoError(t, err)
}

func TestRenameAcrossDirectories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.root.Mkdir(ctx, "sub", 0755, nil)
	require.NoError(t, err)
	_, err = h.root.Create(ctx, "a.txt", 0644, []byte("x"), nil)
	require.NoError(t, err)

	require.NoError(t, h.root.Rename(ctx, "a.txt", sub, "a.txt"))

	_, err = h.root.Lookup(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = sub.Lookup(ctx, "a.txt")
	assert.NoError(t, err)
}

func TestInodeMapLookupCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	f, err := h.root.Create(ctx, "a.txt", 0644, []byte("x"), nil)
	require.NoError(t, err)

	h.m.IncLookup(f.Number(), 2)
	assert.Equal(t, uint64(2), h.m.LookupCount(f.Number()))

	h.m.Forget(f.Number(), 1)
	assert.Equal(t, uint64(1), h.m.LookupCount(f.Number()))

	h.m.Forget(f.Number(), 1)
	assert.Equal(t, uint64(0), h.m.LookupCount(f.Number()))

	_, ok := h.m.LookupInode(f.Number())
	assert.False(t, ok)
}

func TestIsSameAsUsesHashWhenUnmaterialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	blob := &objectstore.Blob{Hash: model.Hash{9}, Content: []byte("from store")}
	h.store.PutBlob(blob)

	d := h.m.Deps(h.store, clock.RealClock{})
	f := newFileInode(d, 42, "x", 0644, blob.Hash, model.InodeTimestamps{})

	same, err := f.IsSameAs(ctx, blob.Hash, 0644)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = f.IsSameAs(ctx, model.Hash{1, 2, 3}, 0644)
	require.NoError(t, err)
	assert.False(t, same)
}

// blockingStore wraps a Store and holds GetBlob until release is closed,
// so a test can force a load into FileLoading and keep it there.
type blockingStore struct {
	objectstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) GetBlob(ctx context.Context, hash model.Hash) (*objectstore.Blob, error) {
	close(s.entered)
	<-s.release
	return s.Store.GetBlob(ctx, hash)
}

func TestSetSizeZeroIsNotResurrectedByConcurrentLoad(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	blob := &objectstore.Blob{Hash: model.Hash{7}, Content: []byte("pre-truncate content")}
	h.store.PutBlob(blob)

	bs := &blockingStore{Store: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	d := h.m.Deps(bs, clock.RealClock{})
	f := newFileInode(d, 99, "x", 0644, blob.Hash, model.InodeTimestamps{})

	loadErrCh := make(chan error, 1)
	go func() {
		loadErrCh <- f.ensureLoaded(ctx)
	}()
	<-bs.entered // the fetch is now in flight, blocked on bs.release

	setSizeErrCh := make(chan error, 1)
	go func() {
		setSizeErrCh <- f.SetSize(ctx, 0)
	}()

	close(bs.release)
	require.NoError(t, <-loadErrCh)
	require.NoError(t, <-setSizeErrCh)

	buf := make([]byte, 64)
	n, err := f.Read(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "truncated content must not be resurrected by the in-flight load")
	assert.Equal(t, FileMaterialized, f.State())
}
