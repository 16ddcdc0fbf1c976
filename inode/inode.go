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

// Package inode implements the live, in-memory inode model: FileInode and
// TreeInode variants, each able to answer from memory, read through the
// overlay, or fetch from the object store, plus the InodeMap that indexes
// live inodes by number and owns the kernel-visible lookup count.
package inode

import (
	"errors"

	"github.com/jacobsa/timeutil"

	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/overlay"
)

// ErrNotFound is returned when a name has no entry in a directory.
var ErrNotFound = errors.New("inode: not found")

// ErrNotDir is returned when an operation that requires a directory is
// applied to a file or symlink.
var ErrNotDir = errors.New("inode: not a directory")

// ErrIsDir is returned when an operation that forbids a directory target
// (e.g. unlink) is applied to one.
var ErrIsDir = errors.New("inode: is a directory")

// ErrExists is returned by create-like operations when name is already
// present.
var ErrExists = errors.New("inode: already exists")

// ErrNotEmpty is returned by rmdir/rename when a directory target still
// has children.
var ErrNotEmpty = errors.New("inode: directory not empty")

// ErrCorrupt wraps overlay.ErrCorrupt at the inode boundary: the inode
// remains resolvable (so it can still be unlinked) even though its content
// could not be read.
var ErrCorrupt = overlay.ErrCorrupt

// Inode is the common interface implemented by *FileInode and *TreeInode.
type Inode interface {
	Number() model.InodeNumber
	Name() string
}

// deps bundles the collaborators every inode needs, threaded down from the
// InodeMap so individual inode constructors don't each take five params.
type deps struct {
	overlay *overlay.Overlay
	store   objectstore.Store
	clock   timeutil.Clock
	inodes  *Map
}
