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
	"fmt"
	"sort"

	"github.com/jacobsa/syncutil"

	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/overlay"
)

// TreeInode is a directory. It owns a name → DirEntry mapping and is
// either unmaterialized (every child by hash, own hash known) or
// materialized (persisted in the overlay; children may mix materialized
// and unmaterialized entries).
type TreeInode struct {
	d    deps
	ino  model.InodeNumber
	name string
	mode uint32

	// GUARDED_BY(mu)
	mu           syncutil.InvariantMutex
	materialized bool
	hash         model.Hash // valid iff !materialized
	entries      map[string]model.DirEntry
	order        []string // insertion order, preserved across save/load for diff determinism
	ts           model.InodeTimestamps

	loaded map[string]Inode // resident children, by name
}

func newTreeInode(d deps, ino model.InodeNumber, name string, mode uint32, hash model.Hash, ts model.InodeTimestamps) *TreeInode {
	t := &TreeInode{
		d:       d,
		ino:     ino,
		name:    name,
		mode:    mode,
		hash:    hash,
		entries: make(map[string]model.DirEntry),
		loaded:  make(map[string]Inode),
		ts:      ts,
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// checkInvariants panics if the entries map and the order slice have
// drifted apart, or if a resident child isn't backed by an entry. Runs on
// every Unlock via the InvariantMutex.
//
// INVARIANT: len(order) == len(entries), with no duplicate names
// INVARIANT: every name in loaded has a corresponding entry
func (t *TreeInode) checkInvariants() {
	if t.order == nil {
		return
	}
	if len(t.order) != len(t.entries) {
		panic(fmt.Sprintf("tree %d: order has %d names, entries has %d", t.ino, len(t.order), len(t.entries)))
	}
	seen := make(map[string]bool, len(t.order))
	for _, name := range t.order {
		if seen[name] {
			panic(fmt.Sprintf("tree %d: duplicate name %q in order", t.ino, name))
		}
		seen[name] = true
		if _, ok := t.entries[name]; !ok {
			panic(fmt.Sprintf("tree %d: name %q in order but not entries", t.ino, name))
		}
	}
	for name := range t.loaded {
		if _, ok := t.entries[name]; !ok {
			panic(fmt.Sprintf("tree %d: loaded child %q has no entry", t.ino, name))
		}
	}
}

func (t *TreeInode) Number() model.InodeNumber { return t.ino }
func (t *TreeInode) Name() string              { return t.name }

func (t *TreeInode) IsMaterialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.materialized
}

// loadEntriesLocked populates t.entries/order from the overlay (if
// materialized) or the object store tree (if not), the first time a
// structural operation needs them. Callers must hold t.mu.
func (t *TreeInode) loadEntriesLocked(ctx context.Context) error {
	if t.order != nil {
		return nil
	}

	if t.d.overlay.HasData(t.ino) {
		contents, err := t.d.overlay.LoadDir(t.ino)
		if err != nil {
			return fmt.Errorf("tree %d: %w", t.ino, err)
		}
		t.materialized = true
		t.entries = make(map[string]model.DirEntry, len(contents.Entries))
		t.order = make([]string, 0, len(contents.Entries))
		for _, e := range contents.Entries {
			t.entries[e.Name] = e
			t.order = append(t.order, e.Name)
		}
		return nil
	}

	tree, err := t.d.store.GetTree(ctx, t.hash)
	if err != nil {
		return fmt.Errorf("tree %d: fetching %s: %w", t.ino, t.hash, err)
	}
	t.entries = make(map[string]model.DirEntry, len(tree.Entries))
	t.order = make([]string, 0, len(tree.Entries))
	for _, te := range tree.Entries {
		t.entries[te.Name] = model.DirEntry{
			Name: te.Name,
			Mode: te.Mode,
			Type: te.Type,
			Kind: model.DirEntryByHash,
			Hash: te.Hash,
		}
		t.order = append(t.order, te.Name)
	}
	return nil
}

// materializeLocked ensures this directory (and, transitively per
// invariant I2, its ancestors) has overlay data, then persists. Callers
// must hold t.mu.
func (t *TreeInode) materializeLocked(markParentMaterialized func() error) error {
	if !t.materialized {
		t.materialized = true
		if markParentMaterialized != nil {
			if err := markParentMaterialized(); err != nil {
				return err
			}
		}
	}
	return t.saveLocked()
}

func (t *TreeInode) saveLocked() error {
	contents := overlay.DirContents{Entries: make([]model.DirEntry, 0, len(t.order))}
	for _, name := range t.order {
		contents.Entries = append(contents.Entries, t.entries[name])
	}
	return t.d.overlay.SaveDir(t.ino, contents, t.ts)
}

// ReadDir returns a stable enumeration of children in insertion order.
func (t *TreeInode) ReadDir(ctx context.Context) ([]model.DirEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]model.DirEntry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name])
	}
	return out, nil
}

// Lookup returns the DirEntry for name, without loading a live inode for
// it.
func (t *TreeInode) Lookup(ctx context.Context, name string) (model.DirEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadEntriesLocked(ctx); err != nil {
		return model.DirEntry{}, err
	}
	e, ok := t.entries[name]
	if !ok {
		return model.DirEntry{}, ErrNotFound
	}
	return e, nil
}

// GetOrLoadChild returns the live inode object for name, allocating an
// inode number and constructing it on first access. Concurrent callers
// for the same child observe the same object because construction happens
// while t.mu is held.
func (t *TreeInode) GetOrLoadChild(ctx context.Context, name string) (Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}

	if child, ok := t.loaded[name]; ok {
		return child, nil
	}

	e, ok := t.entries[name]
	if !ok {
		return nil, ErrNotFound
	}

	if e.Ino == 0 {
		e.Ino = t.d.inodes.AllocateInodeNumber()
		e.Kind = model.DirEntryByHash
		t.entries[name] = e
		if t.materialized {
			if err := t.saveLocked(); err != nil {
				return nil, err
			}
		}
	}

	var child Inode
	if e.Type.IsDir() {
		child = newTreeInode(t.d, e.Ino, name, e.Mode, e.Hash, t.ts)
	} else {
		child = newFileInode(t.d, e.Ino, name, e.Mode, e.Hash, t.ts)
	}
	t.loaded[name] = child
	t.d.inodes.register(e.Ino, child)
	return child, nil
}

// Create adds a new regular/executable file entry, materializing this
// directory if necessary, and writes its initial content to the overlay.
func (t *TreeInode) Create(ctx context.Context, name string, mode uint32, content []byte, markParentMaterialized func() error) (*FileInode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}
	if _, ok := t.entries[name]; ok {
		return nil, ErrExists
	}

	ino := t.d.inodes.AllocateInodeNumber()
	entryType := model.EntryTypeRegular
	if mode&0111 != 0 {
		entryType = model.EntryTypeExecutable
	}
	t.addEntryLocked(name, model.DirEntry{
		Name: name, Mode: mode, Type: entryType, Ino: ino, Kind: model.DirEntryMaterialized,
	})

	if err := t.d.overlay.CreateFile(ino, t.ts, content); err != nil {
		return nil, fmt.Errorf("tree %d: creating file %q: %w", t.ino, name, err)
	}
	if err := t.materializeLocked(markParentMaterialized); err != nil {
		return nil, err
	}

	f := newFileInode(t.d, ino, name, mode, model.Hash{}, t.ts)
	t.loaded[name] = f
	t.d.inodes.register(ino, f)
	return f, nil
}

// Mkdir adds a new, empty, materialized subdirectory entry.
func (t *TreeInode) Mkdir(ctx context.Context, name string, mode uint32, markParentMaterialized func() error) (*TreeInode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}
	if _, ok := t.entries[name]; ok {
		return nil, ErrExists
	}

	ino := t.d.inodes.AllocateInodeNumber()
	t.addEntryLocked(name, model.DirEntry{
		Name: name, Mode: mode, Type: model.EntryTypeTree, Ino: ino, Kind: model.DirEntryMaterialized,
	})

	child := newTreeInode(t.d, ino, name, mode, model.Hash{}, t.ts)
	child.materialized = true
	if err := child.SaveEmpty(); err != nil {
		return nil, err
	}
	if err := t.materializeLocked(markParentMaterialized); err != nil {
		return nil, err
	}

	t.loaded[name] = child
	t.d.inodes.register(ino, child)
	return child, nil
}

// SaveEmpty persists an empty directory payload; used right after Mkdir
// creates the child inode, before any entries exist.
func (t *TreeInode) SaveEmpty() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]model.DirEntry)
	t.order = []string{}
	return t.saveLocked()
}

// MarkMaterialized marks this directory materialized and persists an
// empty payload if it doesn't have one yet. Used to seed the mount root,
// which is always materialized from the moment the overlay is opened.
func (t *TreeInode) MarkMaterialized() error {
	t.mu.Lock()
	t.materialized = true
	t.mu.Unlock()
	if t.d.overlay.HasData(t.ino) {
		return nil
	}
	return t.SaveEmpty()
}

// Symlink adds a symlink entry whose content is the link target.
func (t *TreeInode) Symlink(ctx context.Context, name, target string, markParentMaterialized func() error) (*FileInode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}
	if _, ok := t.entries[name]; ok {
		return nil, ErrExists
	}

	ino := t.d.inodes.AllocateInodeNumber()
	t.addEntryLocked(name, model.DirEntry{
		Name: name, Mode: 0777, Type: model.EntryTypeSymlink, Ino: ino, Kind: model.DirEntryMaterialized,
	})
	if err := t.d.overlay.CreateFile(ino, t.ts, []byte(target)); err != nil {
		return nil, fmt.Errorf("tree %d: creating symlink %q: %w", t.ino, name, err)
	}
	if err := t.materializeLocked(markParentMaterialized); err != nil {
		return nil, err
	}

	f := newFileInode(t.d, ino, name, 0777, model.Hash{}, t.ts)
	t.loaded[name] = f
	t.d.inodes.register(ino, f)
	return f, nil
}

// addEntryLocked inserts a brand new entry, appending to the insertion
// order. Callers must hold t.mu and must have already checked for
// collision.
func (t *TreeInode) addEntryLocked(name string, e model.DirEntry) {
	t.entries[name] = e
	t.order = append(t.order, name)
}

func (t *TreeInode) removeEntryLocked(name string) {
	delete(t.entries, name)
	delete(t.loaded, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Unlink removes a non-directory entry and returns its inode number. It
// does not delete the entry's overlay data.
func (t *TreeInode) Unlink(ctx context.Context, name string) (model.InodeNumber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return 0, err
	}
	e, ok := t.entries[name]
	if !ok {
		return 0, ErrNotFound
	}
	if e.Type.IsDir() {
		return 0, ErrIsDir
	}

	t.removeEntryLocked(name)
	if t.materialized {
		if err := t.saveLocked(); err != nil {
			return 0, err
		}
	}
	return e.Ino, nil
}

// Rmdir removes an empty subdirectory entry.
func (t *TreeInode) Rmdir(ctx context.Context, name string) (model.InodeNumber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return 0, err
	}
	e, ok := t.entries[name]
	if !ok {
		return 0, ErrNotFound
	}
	if !e.Type.IsDir() {
		return 0, ErrNotDir
	}

	if child, ok := t.loaded[name].(*TreeInode); ok {
		empty, err := child.isEmpty(ctx)
		if err != nil {
			return 0, err
		}
		if !empty {
			return 0, ErrNotEmpty
		}
	} else if t.d.overlay.HasData(e.Ino) {
		contents, err := t.d.overlay.LoadDir(e.Ino)
		if err != nil {
			return 0, err
		}
		if len(contents.Entries) != 0 {
			return 0, ErrNotEmpty
		}
	}

	t.removeEntryLocked(name)
	if t.materialized {
		if err := t.saveLocked(); err != nil {
			return 0, err
		}
	}
	return e.Ino, nil
}

func (t *TreeInode) isEmpty(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadEntriesLocked(ctx); err != nil {
		return false, err
	}
	return len(t.order) == 0, nil
}

// Rename moves an entry from t to newParent under newName. Callers must
// already hold the mount's rename lock (shared for a same-directory move,
// exclusive for a cross-directory one); Rename itself does not acquire
// it, since lock scope is a mount-level concern.
func (t *TreeInode) Rename(ctx context.Context, oldName string, newParent *TreeInode, newName string) error {
	if t == newParent {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.renameWithinLocked(ctx, oldName, newName)
	}

	// Lock ordering across two distinct directories: always acquire the
	// lower inode number first, to match the rest of the codebase's
	// convention of ordering sibling locks and avoid deadlock against a
	// concurrent rename in the opposite direction.
	first, second := t, newParent
	if newParent.ino < t.ino {
		first, second = newParent, t
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := t.loadEntriesLocked(ctx); err != nil {
		return err
	}
	if err := newParent.loadEntriesLocked(ctx); err != nil {
		return err
	}

	e, ok := t.entries[oldName]
	if !ok {
		return ErrNotFound
	}
	if dst, ok := newParent.entries[newName]; ok {
		if dst.Type.IsDir() != e.Type.IsDir() {
			return fmt.Errorf("inode: rename target %q type mismatch", newName)
		}
		if dst.Type.IsDir() {
			if child, ok := newParent.loaded[newName].(*TreeInode); ok {
				empty, err := child.isEmpty(ctx)
				if err != nil {
					return err
				}
				if !empty {
					return ErrNotEmpty
				}
			}
		}
	}

	t.removeEntryLocked(oldName)
	newParent.removeEntryLocked(newName)
	e.Name = newName
	newParent.addEntryLocked(newName, e)
	if child, ok := t.loaded[oldName]; ok {
		newParent.loaded[newName] = child
	}

	if t.materialized {
		if err := t.saveLocked(); err != nil {
			return err
		}
	}
	if newParent.materialized {
		if err := newParent.saveLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TreeInode) renameWithinLocked(ctx context.Context, oldName, newName string) error {
	if err := t.loadEntriesLocked(ctx); err != nil {
		return err
	}
	e, ok := t.entries[oldName]
	if !ok {
		return ErrNotFound
	}
	if oldName == newName {
		return nil
	}
	if dst, ok := t.entries[newName]; ok && dst.Type.IsDir() != e.Type.IsDir() {
		return fmt.Errorf("inode: rename target %q type mismatch", newName)
	}

	t.removeEntryLocked(oldName)
	t.removeEntryLocked(newName)
	e.Name = newName
	t.addEntryLocked(newName, e)
	if child, ok := t.loaded[oldName]; ok {
		t.loaded[newName] = child
	}

	if t.materialized {
		return t.saveLocked()
	}
	return nil
}

// SortedNames returns the entry names in lexicographic order, the fixed
// total order the checkout engine's three-way walk zips streams by.
func (t *TreeInode) SortedNames(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadEntriesLocked(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(t.order))
	for _, n := range t.order {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
