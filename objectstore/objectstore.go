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

// Package objectstore defines the external collaborator that serves
// immutable Tree and Blob objects by content hash. The real store (a
// content-addressed source-control backend) lives outside this module's
// scope, the way gcs.Bucket was an external dependency of the teacher's
// inode package; this package defines the contract, the in-memory
// FakeStore used by tests, and LocalStore, a loose-object directory store.
package objectstore

import (
	"context"
	"errors"

	"github.com/edenfs-go/edenfs/model"
)

// ErrNotFound is returned when a Hash has no corresponding object.
var ErrNotFound = errors.New("objectstore: object not found")

// Tree is an immutable directory listing as recorded in source control.
type Tree struct {
	Hash    model.Hash
	Entries []model.TreeEntry
}

// Lookup returns the entry with the given name, or ok=false.
func (t *Tree) Lookup(name string) (model.TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return model.TreeEntry{}, false
}

// Blob is an immutable file's content as recorded in source control.
type Blob struct {
	Hash    model.Hash
	Content []byte
}

// Store is the by-hash fetch interface onto the content-addressed object
// store. Implementations are expected to be safe for concurrent use and to
// perform I/O asynchronously with respect to the caller (the dispatcher
// threads in fs/ and checkout/ never want to block a worker on a fetch that
// some other goroutine could be doing at the same time).
type Store interface {
	// GetTree fetches an immutable Tree by hash.
	GetTree(ctx context.Context, hash model.Hash) (*Tree, error)

	// GetBlob fetches an immutable Blob by hash.
	GetBlob(ctx context.Context, hash model.Hash) (*Blob, error)

	// GetBlobSize returns the size of a blob's content in bytes. FakeStore
	// and LocalStore answer it by fetching the blob.
	GetBlobSize(ctx context.Context, hash model.Hash) (int64, error)
}
