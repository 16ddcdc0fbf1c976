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

package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/clock"
	"github.com/edenfs-go/edenfs/inode"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/overlay"
)

type fixture struct {
	ov    *overlay.Overlay
	store *objectstore.FakeStore
	m     *inode.Map
	root  *inode.TreeInode
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ov, err := overlay.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ov.Close() })

	store := objectstore.NewFakeStore()
	m := inode.NewMap(ov)
	d := m.Deps(store, clock.RealClock{})
	root := inode.NewRoot(d, model.Hash{})
	require.NoError(t, root.MarkMaterialized())
	m.Register(root)

	return &fixture{ov: ov, store: store, m: m, root: root}
}

func blobEntry(store *objectstore.FakeStore, name string, content []byte) model.TreeEntry {
	b := &objectstore.Blob{Hash: model.Hash{byte(len(content)), name[0]}, Content: content}
	store.PutBlob(b)
	return model.TreeEntry{Name: name, Hash: b.Hash, Mode: 0644, Type: model.EntryTypeRegular}
}

func TestCheckoutCreatesNewFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newTreeEntry := blobEntry(f.store, "a.txt", []byte("hello"))
	newTree := &objectstore.Tree{Hash: model.Hash{1}, Entries: []model.TreeEntry{newTreeEntry}}
	f.store.PutTree(newTree)

	cc := NewContext(newTree.Hash, Normal)
	err := Run(ctx, f.store, f.root, model.Hash{}, newTree.Hash, cc)
	require.NoError(t, err)
	assert.Empty(t, cc.Conflicts())

	e, err := f.root.Lookup(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, newTreeEntry.Hash, e.Hash)
}

func TestCheckoutRemovesDeletedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldTreeEntry := blobEntry(f.store, "a.txt", []byte("hello"))
	oldTree := &objectstore.Tree{Hash: model.Hash{2}, Entries: []model.TreeEntry{oldTreeEntry}}
	f.store.PutTree(oldTree)
	newTree := &objectstore.Tree{Hash: model.Hash{3}, Entries: nil}
	f.store.PutTree(newTree)

	_, err := f.root.Create(ctx, "a.txt", 0644, []byte("hello"), nil)
	require.NoError(t, err)
	require.NoError(t, f.root.CheckoutSetEntry("a.txt", &model.DirEntry{
		Name: "a.txt", Mode: 0644, Type: model.EntryTypeRegular, Kind: model.DirEntryByHash, Hash: oldTreeEntry.Hash,
	}))

	cc := NewContext(newTree.Hash, Normal)
	err = Run(ctx, f.store, f.root, oldTree.Hash, newTree.Hash, cc)
	require.NoError(t, err)
	assert.Empty(t, cc.Conflicts())

	_, err = f.root.Lookup(ctx, "a.txt")
	assert.ErrorIs(t, err, inode.ErrNotFound)
}

func TestCheckoutNormalModeReportsConflictOnLocalEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldTreeEntry := blobEntry(f.store, "a.txt", []byte("hello"))
	oldTree := &objectstore.Tree{Hash: model.Hash{4}, Entries: []model.TreeEntry{oldTreeEntry}}
	f.store.PutTree(oldTree)

	newTreeEntry := blobEntry(f.store, "a.txt", []byte("goodbye"))
	newTree := &objectstore.Tree{Hash: model.Hash{5}, Entries: []model.TreeEntry{newTreeEntry}}
	f.store.PutTree(newTree)

	fi, err := f.root.Create(ctx, "a.txt", 0644, []byte("hello"), nil)
	require.NoError(t, err)
	_, err = fi.Write(ctx, 0, []byte("locally edited"), nil)
	require.NoError(t, err)

	cc := NewContext(newTree.Hash, Normal)
	err = Run(ctx, f.store, f.root, oldTree.Hash, newTree.Hash, cc)
	require.NoError(t, err)

	conflicts := cc.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, Modified, conflicts[0].Type)

	buf := make([]byte, 64)
	n, err := fi.Read(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "locally edited", string(buf[:n]))
}

func TestCheckoutForceModeOverwritesLocalEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldTreeEntry := blobEntry(f.store, "a.txt", []byte("hello"))
	oldTree := &objectstore.Tree{Hash: model.Hash{6}, Entries: []model.TreeEntry{oldTreeEntry}}
	f.store.PutTree(oldTree)

	newTreeEntry := blobEntry(f.store, "a.txt", []byte("goodbye"))
	newTree := &objectstore.Tree{Hash: model.Hash{7}, Entries: []model.TreeEntry{newTreeEntry}}
	f.store.PutTree(newTree)

	fi, err := f.root.Create(ctx, "a.txt", 0644, []byte("hello"), nil)
	require.NoError(t, err)
	_, err = fi.Write(ctx, 0, []byte("locally edited"), nil)
	require.NoError(t, err)

	cc := NewContext(newTree.Hash, Force)
	err = Run(ctx, f.store, f.root, oldTree.Hash, newTree.Hash, cc)
	require.NoError(t, err)
	require.Len(t, cc.Conflicts(), 1)

	e, err := f.root.Lookup(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, newTreeEntry.Hash, e.Hash)
	assert.Equal(t, model.DirEntryByHash, e.Kind)
}

func TestCheckoutRecursesIntoMaterializedDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldLeaf := blobEntry(f.store, "leaf.txt", []byte("old"))
	oldSubTree := &objectstore.Tree{Hash: model.Hash{20}, Entries: []model.TreeEntry{oldLeaf}}
	f.store.PutTree(oldSubTree)
	oldRootTree := &objectstore.Tree{Hash: model.Hash{21}, Entries: []model.TreeEntry{
		{Name: "sub", Hash: oldSubTree.Hash, Mode: 0755, Type: model.EntryTypeTree},
	}}
	f.store.PutTree(oldRootTree)

	sub, err := f.root.Mkdir(ctx, "sub", 0755, nil)
	require.NoError(t, err)
	// leaf.txt exists but is unmodified relative to the old tree: mark it
	// by-hash against oldLeaf so the walk doesn't see it as a conflict.
	require.NoError(t, sub.CheckoutSetEntry("leaf.txt", &model.DirEntry{
		Name: "leaf.txt", Mode: 0644, Type: model.EntryTypeRegular, Kind: model.DirEntryByHash, Hash: oldLeaf.Hash,
	}))

	newLeaf := blobEntry(f.store, "leaf.txt", []byte("newer"))
	newSubTree := &objectstore.Tree{Hash: model.Hash{8}, Entries: []model.TreeEntry{newLeaf}}
	f.store.PutTree(newSubTree)
	newRootTree := &objectstore.Tree{Hash: model.Hash{9}, Entries: []model.TreeEntry{
		{Name: "sub", Hash: newSubTree.Hash, Mode: 0755, Type: model.EntryTypeTree},
	}}
	f.store.PutTree(newRootTree)

	cc := NewContext(newRootTree.Hash, Normal)
	err = Run(ctx, f.store, f.root, oldRootTree.Hash, newRootTree.Hash, cc)
	require.NoError(t, err)
	assert.Empty(t, cc.Conflicts())

	e, err := sub.Lookup(ctx, "leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, newLeaf.Hash, e.Hash)
}

func TestCheckoutNormalModeReportsUntrackedAddedForUntrackedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fi, err := f.root.Create(ctx, "u.txt", 0644, []byte("untracked"), nil)
	require.NoError(t, err)

	cc := NewContext(model.Hash{}, Normal)
	err = Run(ctx, f.store, f.root, model.Hash{}, model.Hash{}, cc)
	require.NoError(t, err)

	conflicts := cc.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, UntrackedAdded, conflicts[0].Type)

	_, err = f.root.Lookup(ctx, "u.txt")
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := fi.Read(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "untracked", string(buf[:n]))
}

func TestCheckoutForceModeRemovesUntrackedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.root.Create(ctx, "u.txt", 0644, []byte("untracked"), nil)
	require.NoError(t, err)

	cc := NewContext(model.Hash{}, Force)
	err = Run(ctx, f.store, f.root, model.Hash{}, model.Hash{}, cc)
	require.NoError(t, err)

	conflicts := cc.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, UntrackedAdded, conflicts[0].Type)

	_, err = f.root.Lookup(ctx, "u.txt")
	assert.ErrorIs(t, err, inode.ErrNotFound)
}

func TestDryRunAppliesNoMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newTreeEntry := blobEntry(f.store, "a.txt", []byte("hello"))
	newTree := &objectstore.Tree{Hash: model.Hash{10}, Entries: []model.TreeEntry{newTreeEntry}}
	f.store.PutTree(newTree)

	cc := NewContext(newTree.Hash, DryRun)
	err := Run(ctx, f.store, f.root, model.Hash{}, newTree.Hash, cc)
	require.NoError(t, err)

	_, err = f.root.Lookup(ctx, "a.txt")
	assert.ErrorIs(t, err, inode.ErrNotFound)
}
