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

// Package model holds the data-model types shared by the overlay, inode and
// checkout packages (overlay must not import inode, so these types live
// below both).
package model

import "time"

// InodeNumber is the stable, monotonically-allocated handle used by both the
// kernel protocol and the overlay to identify an inode. It is never reused
// after retirement.
type InodeNumber uint64

// RootInodeNumber is the fixed reserved value for the mount root.
const RootInodeNumber InodeNumber = 1

// Hash is a fixed-width content-address of an immutable Tree or Blob in the
// ObjectStore. 160 bits, matching a SHA-1 source-control object id.
type Hash [20]byte

// IsZero reports whether h is the zero hash (used as a sentinel for "no
// source-control hash", e.g. a materialized inode).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// EntryType is the type of a child reference, either in a source-control
// Tree or in a live directory.
type EntryType uint8

const (
	EntryTypeTree EntryType = iota
	EntryTypeRegular
	EntryTypeExecutable
	EntryTypeSymlink
)

func (t EntryType) IsDir() bool {
	return t == EntryTypeTree
}

func (t EntryType) String() string {
	switch t {
	case EntryTypeTree:
		return "tree"
	case EntryTypeRegular:
		return "file"
	case EntryTypeExecutable:
		return "executable"
	case EntryTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// TreeEntry is one child reference inside a source-control tree: name,
// hash, mode bits, and type.
type TreeEntry struct {
	Name string
	Hash Hash
	Mode uint32
	Type EntryType
}

// DirEntryKind distinguishes how a live DirEntry's content is identified.
type DirEntryKind uint8

const (
	// DirEntryByHash means the child is unmaterialized: its content is
	// defined by a source-control hash and has never diverged.
	DirEntryByHash DirEntryKind = iota
	// DirEntryMaterialized means the child's content lives in the overlay.
	DirEntryMaterialized
	// DirEntryLoaded means a live inode object for this child is already
	// resident in memory (via InodeMap); Hash/Materialized bookkeeping is
	// delegated to that inode.
	DirEntryLoaded
)

// DirEntry is one child reference inside a live tree inode.
type DirEntry struct {
	Name  string
	Mode  uint32
	Type  EntryType
	Ino   InodeNumber
	Kind  DirEntryKind
	Hash  Hash // valid iff Kind == DirEntryByHash
}

// InodeTimestamps holds atime/ctime/mtime at nanosecond precision. Stored in
// the overlay file header for materialized inodes; kept in-memory only for
// unmaterialized ones, which copy their parent directory's timestamps when
// loaded (they are not set from the time of the last checkout).
type InodeTimestamps struct {
	Atime time.Time
	Ctime time.Time
	Mtime time.Time
}
