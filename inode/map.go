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
	"sync"

	"github.com/jacobsa/timeutil"

	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/overlay"
)

// entry is what the Map holds per known inode number: either a live inode
// object, or just enough bookkeeping (lookup count) to resolve it lazily.
type entry struct {
	inode  Inode
	lookup uint64
}

// Map is the single source of truth for the InodeNumber -> live-inode
// mapping in a mount. It owns the kernel-visible lookup count per inode.
// It never fetches anything: loading a child, and handing concurrent
// lookups of the same child one shared object, is done by
// TreeInode.GetOrLoadChild.
type Map struct {
	overlay *overlay.Overlay

	mu      sync.Mutex
	entries map[model.InodeNumber]*entry
}

// NewMap constructs an empty Map backed by ov for inode number allocation.
// Callers build the root TreeInode with the deps returned by this Map
// (see Deps and NewRoot) and then Register it before serving any request.
func NewMap(ov *overlay.Overlay) *Map {
	return &Map{
		overlay: ov,
		entries: make(map[model.InodeNumber]*entry),
	}
}

// Deps builds the deps bundle threaded into every inode constructor,
// bound to this Map for inode number allocation and child registration.
func (m *Map) Deps(store objectstore.Store, clock timeutil.Clock) deps {
	return deps{overlay: m.overlay, store: store, clock: clock, inodes: m}
}

// NewRoot constructs the fixed root TreeInode. It is left to the caller
// to Register it with the owning Map once built.
func NewRoot(d deps, rootHash model.Hash) *TreeInode {
	return newTreeInode(d, model.RootInodeNumber, "", 0755, rootHash, model.InodeTimestamps{})
}

// Register records obj (typically the root TreeInode) under its own
// inode number. Exported twin of the unexported register used internally
// by TreeInode child construction.
func (m *Map) Register(obj Inode) {
	m.register(obj.Number(), obj)
}

// register records a freshly constructed live inode, initializing its
// lookup count to zero (the kernel will IncLookup after the reply that
// introduced this inode number is sent).
func (m *Map) register(ino model.InodeNumber, obj Inode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[ino]; ok {
		e.inode = obj
		return
	}
	m.entries[ino] = &entry{inode: obj}
}

// LookupInode returns the live inode for ino, if the Map has one resident.
// Unloaded children are only reachable through their parent's
// GetOrLoadChild; the Map itself never fetches.
func (m *Map) LookupInode(ino model.InodeNumber) (Inode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ino]
	if !ok || e.inode == nil {
		return nil, false
	}
	return e.inode, true
}

// IncLookup increments the kernel protocol's reference count for ino by n.
func (m *Map) IncLookup(ino model.InodeNumber, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ino]
	if !ok {
		return
	}
	e.lookup += n
}

// Forget decrements the lookup count by n; when it reaches zero the inode
// becomes a candidate for unload. Unload itself is lazy: Forget only
// drops the Map's strong reference once the count is zero, it does not
// force a flush.
func (m *Map) Forget(ino model.InodeNumber, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ino]
	if !ok {
		return
	}
	if n >= e.lookup {
		e.lookup = 0
	} else {
		e.lookup -= n
	}
	if e.lookup == 0 {
		delete(m.entries, ino)
	}
}

// LookupCount reports the current kernel-visible reference count for ino,
// for tests and diagnostics.
func (m *Map) LookupCount(ino model.InodeNumber) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ino]
	if !ok {
		return 0
	}
	return e.lookup
}

// AllocateInodeNumber delegates to the overlay's allocator, the single
// source of monotonically-increasing inode numbers for the mount.
func (m *Map) AllocateInodeNumber() model.InodeNumber {
	return m.overlay.AllocateInodeNumber()
}

// TakeoverState is the flattened (inode -> parent, name, lookup count)
// graph exported by SerializeForTakeover and consumed by LoadFromTakeover,
// used when a restart inherits an already-open kernel connection.
type TakeoverState struct {
	Entries []TakeoverEntry
}

type TakeoverEntry struct {
	Ino    model.InodeNumber
	Parent model.InodeNumber
	Name   string
	Lookup uint64
}

// SerializeForTakeover exports the current lookup-count graph. Only
// inodes with a nonzero lookup count matter to a takeover: anything else
// the new process can re-derive lazily from the overlay and object store.
func (m *Map) SerializeForTakeover(parentOf func(model.InodeNumber) (model.InodeNumber, string, bool)) TakeoverState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var state TakeoverState
	for ino, e := range m.entries {
		if e.lookup == 0 {
			continue
		}
		parent, name, ok := parentOf(ino)
		if !ok {
			continue
		}
		state.Entries = append(state.Entries, TakeoverEntry{Ino: ino, Parent: parent, Name: name, Lookup: e.lookup})
	}
	return state
}

// LoadFromTakeover rebuilds lookup counts after a restart that inherited
// the kernel connection. It only restores bookkeeping; inode objects
// themselves are reconstructed lazily on first access, the same as any
// other cold lookup.
func (m *Map) LoadFromTakeover(state TakeoverState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, te := range state.Entries {
		e, ok := m.entries[te.Ino]
		if !ok {
			e = &entry{}
			m.entries[te.Ino] = e
		}
		e.lookup = te.Lookup
	}
}
