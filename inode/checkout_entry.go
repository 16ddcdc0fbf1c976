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
	"github.com/edenfs-go/edenfs/model"
)

// CheckoutSetEntry is the mutation primitive the checkout engine invokes
// once it has classified a per-entry action: set newEntry (create or
// replace), or remove the entry if newEntry is nil. Any already-resident
// live child inode is dropped from the loaded cache so the next access
// reconstructs it against the new entry's hash rather than serving stale
// cached content.
func (t *TreeInode) CheckoutSetEntry(name string, newEntry *model.DirEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.loaded, name)

	if newEntry == nil {
		t.removeEntryLocked(name)
	} else {
		e := *newEntry
		e.Name = name
		if _, existed := t.entries[name]; !existed {
			t.order = append(t.order, name)
		}
		t.entries[name] = e
	}

	if t.materialized {
		return t.saveLocked()
	}
	return nil
}

// CheckoutChild returns the already-loaded TreeInode for name if resident,
// without triggering a fetch; the checkout walk uses this to decide
// whether a subtree needs per-entry recursion (a live, possibly-modified
// directory) or can be replaced wholesale (nothing resident under it).
func (t *TreeInode) CheckoutChild(name string) (*TreeInode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	child, ok := t.loaded[name].(*TreeInode)
	return child, ok
}

// CheckoutFileChild returns the already-loaded FileInode for name if
// resident.
func (t *TreeInode) CheckoutFileChild(name string) (*FileInode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	child, ok := t.loaded[name].(*FileInode)
	return child, ok
}
