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

package fs

import (
	"context"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/edenfs-go/edenfs/inode"
)

// dirHandle buffers one readdir stream. Unlike the object-listing-backed
// directories this codebase's teacher served, a TreeInode's children are
// already fully enumerable in memory, so the handle snapshots SortedNames
// whenever a read starts at offset 0 (or nothing is buffered yet) and slices
// into that snapshot by offset.
type dirHandle struct {
	in *inode.TreeInode

	mu      sync.Mutex
	entries []fuseutil.Dirent
}

func newDirHandle(in *inode.TreeInode) *dirHandle {
	return &dirHandle{in: in}
}

func (dh *dirHandle) readAt(ctx context.Context, offset fuseops.DirOffset, size int) ([]byte, error) {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	if offset == 0 || dh.entries == nil {
		if err := dh.reload(ctx); err != nil {
			return nil, err
		}
	}

	idx := int(offset)
	if idx > len(dh.entries) {
		idx = len(dh.entries)
	}

	var out []byte
	for _, e := range dh.entries[idx:] {
		next := fuseutil.AppendDirent(out, e)
		if len(next) > size {
			break
		}
		out = next
	}
	return out, nil
}

func (dh *dirHandle) reload(ctx context.Context) error {
	names, err := dh.in.SortedNames(ctx)
	if err != nil {
		return err
	}

	entries := make([]fuseutil.Dirent, 0, len(names))
	for i, name := range names {
		e, err := dh.in.Lookup(ctx, name)
		if err != nil {
			continue
		}
		typ := fuseutil.DT_File
		if e.Type.IsDir() {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(e.Ino),
			Name:   name,
			Type:   typ,
		})
	}
	dh.entries = entries
	return nil
}
