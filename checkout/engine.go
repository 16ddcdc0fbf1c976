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
	"path"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/edenfs-go/edenfs/inode"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
)

// Run drives the recursive three-way walk of (old tree, new tree, live
// root) to completion, applying mutations (or, in DryRun mode, only
// populating cc.Conflicts) along the way. Callers are responsible for the
// mount-level locking described in the specification: the parent-commit
// write lock held across the whole call, and the rename lock held
// exclusive while mutations are applied.
func Run(ctx context.Context, store objectstore.Store, root *inode.TreeInode, oldHash, newHash model.Hash, cc *Context) error {
	return walkDir(ctx, store, root, oldHash, newHash, "", cc)
}

// walkDir fetches the old and new trees for one directory (when their
// hashes are non-zero), zips them against the live directory's current
// entries in a fixed lexicographic order, and fans out one goroutine per
// name. Concurrency inside one directory is unbounded; only cross-action
// coordination (the rename lock) is serialized, and that happens above
// this function.
func walkDir(ctx context.Context, store objectstore.Store, dir *inode.TreeInode, oldHash, newHash model.Hash, dirPath string, cc *Context) error {
	var oldEntries, newEntries map[string]model.TreeEntry

	g, gctx := errgroup.WithContext(ctx)
	if !oldHash.IsZero() {
		g.Go(func() error {
			if err := cc.waitFetch(gctx); err != nil {
				return err
			}
			t, err := store.GetTree(gctx, oldHash)
			if err != nil {
				return err
			}
			cc.Stats.addTree()
			oldEntries = toEntryMap(t.Entries)
			return nil
		})
	}
	if !newHash.IsZero() {
		g.Go(func() error {
			if err := cc.waitFetch(gctx); err != nil {
				return err
			}
			t, err := store.GetTree(gctx, newHash)
			if err != nil {
				return err
			}
			cc.Stats.addTree()
			newEntries = toEntryMap(t.Entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cc.AddConflict(Conflict{Type: Error, Path: dirPath, Message: err.Error()})
		return err
	}

	liveList, err := dir.ReadDir(ctx)
	if err != nil {
		cc.AddConflict(Conflict{Type: Error, Path: dirPath, Message: err.Error()})
		return err
	}
	liveEntries := make(map[string]model.DirEntry, len(liveList))
	for _, e := range liveList {
		liveEntries[e.Name] = e
	}

	names := unionNames(oldEntries, newEntries, liveEntries)

	eg, egctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		var oldPtr, newPtr *model.TreeEntry
		if e, ok := oldEntries[name]; ok {
			oldPtr = &e
		}
		if e, ok := newEntries[name]; ok {
			newPtr = &e
		}
		var livePtr *model.DirEntry
		if e, ok := liveEntries[name]; ok {
			livePtr = &e
		}

		eg.Go(func() error {
			return applyEntry(egctx, store, dir, path.Join(dirPath, name), name, oldPtr, newPtr, livePtr, cc)
		})
	}
	return eg.Wait()
}

func toEntryMap(entries []model.TreeEntry) map[string]model.TreeEntry {
	m := make(map[string]model.TreeEntry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return m
}

func unionNames(old, new map[string]model.TreeEntry, live map[string]model.DirEntry) []string {
	set := make(map[string]struct{}, len(old)+len(new)+len(live))
	for n := range old {
		set[n] = struct{}{}
	}
	for n := range new {
		set[n] = struct{}{}
	}
	for n := range live {
		set[n] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func byHashEntry(mode uint32, typ model.EntryType, ino model.InodeNumber, hash model.Hash) *model.DirEntry {
	return &model.DirEntry{Mode: mode, Type: typ, Ino: ino, Kind: model.DirEntryByHash, Hash: hash}
}

// isFileModified reports whether a live file entry diverges from the old
// tree's recorded entry: either it has already been materialized (a write
// or truncate happened) or its unmaterialized hash/mode no longer match
// what old recorded.
func isFileModified(live model.DirEntry, old *model.TreeEntry) bool {
	if old == nil {
		return true
	}
	if live.Kind == model.DirEntryMaterialized {
		return true
	}
	return live.Hash != old.Hash || live.Mode != old.Mode
}

// applyEntry classifies and applies the action for one (old, new, live)
// triple at path p, per the table in the specification.
func applyEntry(ctx context.Context, store objectstore.Store, parent *inode.TreeInode, p, name string, old, new *model.TreeEntry, live *model.DirEntry, cc *Context) error {
	force := cc.Mode == Force
	commit := cc.Mode != DryRun

	set := func(e *model.DirEntry) error {
		if !commit {
			return nil
		}
		return parent.CheckoutSetEntry(name, e)
	}

	switch {
	case live == nil:
		return applyAbsentLive(ctx, store, set, p, old, new, force, cc)

	case new == nil:
		return applyRemoval(ctx, store, parent, set, name, p, old, live, force, cc)

	case live.Type.IsDir() && new.Type.IsDir():
		return applyDirToDir(ctx, store, parent, set, name, p, old, new, live, cc)

	case !live.Type.IsDir() && !new.Type.IsDir():
		return applyFileToFile(set, p, old, new, live, force, cc)

	default:
		return applyTypeSwap(ctx, store, parent, set, name, p, old, new, live, force, cc)
	}
}

func applyAbsentLive(ctx context.Context, store objectstore.Store, set func(*model.DirEntry) error, p string, old, new *model.TreeEntry, force bool, cc *Context) error {
	switch {
	case old == nil && new == nil:
		return nil
	case old == nil && new != nil:
		return set(byHashEntry(new.Mode, new.Type, 0, new.Hash))
	case old != nil && new == nil:
		return nil
	default:
		if old.Hash == new.Hash && old.Mode == new.Mode && old.Type == new.Type {
			return nil
		}
		cc.AddConflict(Conflict{Type: MissingRemoved, Path: p})
		if force {
			return set(byHashEntry(new.Mode, new.Type, 0, new.Hash))
		}
		return nil
	}
}

func applyRemoval(ctx context.Context, store objectstore.Store, parent *inode.TreeInode, set func(*model.DirEntry) error, name, p string, old *model.TreeEntry, live *model.DirEntry, force bool, cc *Context) error {
	if live.Type.IsDir() {
		if live.Kind != model.DirEntryMaterialized {
			return set(nil)
		}

		child, ok := parent.CheckoutChild(name)
		if !ok {
			loaded, err := parent.GetOrLoadChild(ctx, name)
			if err != nil {
				cc.AddConflict(Conflict{Type: Error, Path: p, Message: err.Error()})
				return err
			}
			child, ok = loaded.(*inode.TreeInode)
			if !ok {
				return set(nil)
			}
		}

		var oldHash model.Hash
		if old != nil {
			oldHash = old.Hash
		}
		before := len(cc.Conflicts())
		if err := walkDir(ctx, store, child, oldHash, model.Hash{}, p, cc); err != nil {
			return err
		}
		if len(cc.Conflicts()) > before {
			if force {
				return set(nil)
			}
			cc.AddConflict(Conflict{Type: DirectoryNotEmpty, Path: p})
			return nil
		}
		return set(nil)
	}

	if old == nil {
		cc.AddConflict(Conflict{Type: UntrackedAdded, Path: p})
		if force {
			return set(nil)
		}
		return nil
	}
	if isFileModified(*live, old) {
		cc.AddConflict(Conflict{Type: Modified, Path: p})
		if force {
			return set(nil)
		}
		return nil
	}
	return set(nil)
}

func applyDirToDir(ctx context.Context, store objectstore.Store, parent *inode.TreeInode, set func(*model.DirEntry) error, name, p string, old, new *model.TreeEntry, live *model.DirEntry, cc *Context) error {
	if live.Kind != model.DirEntryMaterialized {
		return set(byHashEntry(new.Mode, new.Type, live.Ino, new.Hash))
	}

	child, ok := parent.CheckoutChild(name)
	if !ok {
		loaded, err := parent.GetOrLoadChild(ctx, name)
		if err != nil {
			cc.AddConflict(Conflict{Type: Error, Path: p, Message: err.Error()})
			return err
		}
		child = loaded.(*inode.TreeInode)
	}

	var oldHash model.Hash
	if old != nil {
		oldHash = old.Hash
	}
	return walkDir(ctx, store, child, oldHash, new.Hash, p, cc)
}

func applyFileToFile(set func(*model.DirEntry) error, p string, old, new *model.TreeEntry, live *model.DirEntry, force bool, cc *Context) error {
	if live.Hash == new.Hash && live.Mode == new.Mode && live.Kind == model.DirEntryByHash {
		return nil
	}
	if !isFileModified(*live, old) {
		return set(byHashEntry(new.Mode, new.Type, live.Ino, new.Hash))
	}
	if old == nil {
		cc.AddConflict(Conflict{Type: UntrackedAdded, Path: p})
	} else {
		cc.AddConflict(Conflict{Type: Modified, Path: p})
	}
	if force {
		return set(byHashEntry(new.Mode, new.Type, live.Ino, new.Hash))
	}
	return nil
}

func applyTypeSwap(ctx context.Context, store objectstore.Store, parent *inode.TreeInode, set func(*model.DirEntry) error, name, p string, old, new *model.TreeEntry, live *model.DirEntry, force bool, cc *Context) error {
	localTypeChanged := old == nil || old.Type.IsDir() != live.Type.IsDir()
	if localTypeChanged {
		cc.AddConflict(Conflict{Type: Modified, Path: p})
		if force {
			return set(byHashEntry(new.Mode, new.Type, live.Ino, new.Hash))
		}
		return nil
	}

	if live.Type.IsDir() {
		if live.Kind == model.DirEntryMaterialized {
			child, ok := parent.CheckoutChild(name)
			if !ok {
				loaded, err := parent.GetOrLoadChild(ctx, name)
				if err != nil {
					cc.AddConflict(Conflict{Type: Error, Path: p, Message: err.Error()})
					return err
				}
				child = loaded.(*inode.TreeInode)
			}
			before := len(cc.Conflicts())
			if err := walkDir(ctx, store, child, old.Hash, model.Hash{}, p, cc); err != nil {
				return err
			}
			if len(cc.Conflicts()) > before && !force {
				return nil
			}
		}
	} else if isFileModified(*live, old) {
		cc.AddConflict(Conflict{Type: Modified, Path: p})
		if !force {
			return nil
		}
	}

	return set(byHashEntry(new.Mode, new.Type, live.Ino, new.Hash))
}
