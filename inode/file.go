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
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"

	"github.com/jacobsa/syncutil"

	"github.com/edenfs-go/edenfs/model"
)

// FileState is FileInode's lifecycle position.
type FileState int

const (
	// FileNotLoaded means the inode knows its source-control hash but has
	// not fetched the blob.
	FileNotLoaded FileState = iota
	// FileLoading means a fetch is in flight; waiters are queued.
	FileLoading
	// FileLoaded means an immutable blob is cached in memory.
	FileLoaded
	// FileMaterialized means the overlay holds this file's content; the
	// hash is no longer valid and this state is terminal until unlink.
	FileMaterialized
)

// FileInode is a file or symlink. Exactly one of {hash, overlay content}
// is authoritative, governed by state.
type FileInode struct {
	d    deps
	ino  model.InodeNumber
	name string
	mode uint32

	// GUARDED_BY(mu)
	mu        syncutil.InvariantMutex
	state     FileState
	hash      model.Hash
	content   []byte // valid when state == FileLoaded or FileMaterialized
	sha1      [20]byte
	sha1Valid bool
	waiters   []chan error
	loadErr   error
	ts        model.InodeTimestamps
}

func newFileInode(d deps, ino model.InodeNumber, name string, mode uint32, hash model.Hash, ts model.InodeTimestamps) *FileInode {
	state := FileNotLoaded
	if hash.IsZero() {
		// A freshly created file starts out materialized with empty
		// content; there is no source-control hash to defer to.
		state = FileMaterialized
	}
	f := &FileInode{
		d:     d,
		ino:   ino,
		name:  name,
		mode:  mode,
		state: state,
		hash:  hash,
		ts:    ts,
	}
	f.mu = syncutil.NewInvariantMutex(f.checkInvariants)
	return f
}

// checkInvariants panics if the inode's state is inconsistent. Runs on
// every Unlock via the InvariantMutex.
//
// INVARIANT: content != nil only when state is FileLoaded or FileMaterialized
// INVARIANT: sha1Valid implies content was loaded at least once
func (f *FileInode) checkInvariants() {
	if f.content != nil && f.state != FileLoaded && f.state != FileMaterialized {
		panic(fmt.Sprintf("inode %d: content set in state %d", f.ino, f.state))
	}
	if f.sha1Valid && f.content == nil {
		panic(fmt.Sprintf("inode %d: sha1Valid with no content", f.ino))
	}
}

func (f *FileInode) Number() model.InodeNumber { return f.ino }
func (f *FileInode) Name() string              { return f.name }

// Size reports the file's current length. It loads the content first
// (fetching the blob through ctx for an unmaterialized file, reading the
// overlay for a materialized one) and returns 0 if that fails.
func (f *FileInode) Size(ctx context.Context) int64 {
	if err := f.ensureLoaded(ctx); err != nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.contentLocked()
	if err != nil {
		return 0
	}
	return int64(len(content))
}

func (f *FileInode) State() FileState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ensureLoaded brings the inode to at least FileLoaded (or leaves it
// FileMaterialized), fetching the blob from the object store if
// necessary. Concurrent callers share one fetch.
func (f *FileInode) ensureLoaded(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case FileLoaded, FileMaterialized:
		f.mu.Unlock()
		return nil
	case FileLoading:
		wait := make(chan error, 1)
		f.waiters = append(f.waiters, wait)
		f.mu.Unlock()
		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.state = FileLoading
	hash := f.hash
	f.mu.Unlock()

	blob, err := f.d.store.GetBlob(ctx, hash)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.loadErr = err
		f.state = FileNotLoaded
		for _, w := range f.waiters {
			w <- err
		}
		f.waiters = nil
		return err
	}
	f.content = blob.Content
	f.state = FileLoaded
	for _, w := range f.waiters {
		w <- nil
	}
	f.waiters = nil
	return nil
}

// waitForInFlightLoad blocks until any ensureLoaded fetch already in
// flight for this inode finishes, without itself triggering a fetch. The
// fetch's own error, if any, doesn't matter to the caller: either way the
// inode is no longer FileLoading once this returns.
func (f *FileInode) waitForInFlightLoad(ctx context.Context) error {
	f.mu.Lock()
	if f.state != FileLoading {
		f.mu.Unlock()
		return nil
	}
	wait := make(chan error, 1)
	f.waiters = append(f.waiters, wait)
	f.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read serves bytes starting at offset, up to len(buf). Past-EOF returns
// zero bytes and no error.
func (f *FileInode) Read(ctx context.Context, offset int64, buf []byte) (int, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := f.contentLocked()
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(content)) {
		return 0, nil
	}
	n := copy(buf, content[offset:])
	return n, nil
}

// contentLocked returns the authoritative bytes for the file; callers must
// hold f.mu and have already called ensureLoaded.
func (f *FileInode) contentLocked() ([]byte, error) {
	switch f.state {
	case FileLoaded, FileMaterialized:
		if f.content == nil {
			data, err := f.d.overlay.LoadFile(f.ino)
			if err != nil {
				return nil, fmt.Errorf("inode %d: %w", f.ino, err)
			}
			f.content = data
		}
		return f.content, nil
	default:
		return nil, fmt.Errorf("inode %d: read before load completed", f.ino)
	}
}

// Write forces materialization, overwriting content at offset. It marks
// the SHA-1 cache invalid and propagates materialization to the parent.
func (f *FileInode) Write(ctx context.Context, offset int64, data []byte, markParentMaterialized func() error) (int, error) {
	if err := f.ensureLoaded(ctx); err != nil && f.State() != FileMaterialized {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, err := f.contentLocked(); err == nil {
		f.content = existing
	}
	end := offset + int64(len(data))
	if end > int64(len(f.content)) {
		grown := make([]byte, end)
		copy(grown, f.content)
		f.content = grown
	}
	copy(f.content[offset:end], data)
	f.state = FileMaterialized
	f.hash = model.Hash{}
	f.sha1Valid = false

	if err := f.d.overlay.CreateFile(f.ino, f.ts, f.content); err != nil {
		return 0, fmt.Errorf("inode %d: materializing write: %w", f.ino, err)
	}
	if markParentMaterialized != nil {
		if err := markParentMaterialized(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// SetSize truncates or extends the file to size, materializing it. A
// truncate to zero shortcuts the load: there is no need to fetch a blob
// that is about to be discarded. It still waits out any fetch already in
// flight so that fetch's completion can't clobber the truncated content
// afterward.
func (f *FileInode) SetSize(ctx context.Context, size int64) error {
	if size != 0 {
		if err := f.ensureLoaded(ctx); err != nil {
			return err
		}
	} else if err := f.waitForInFlightLoad(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if size != 0 {
		if existing, err := f.contentLocked(); err == nil {
			f.content = existing
		}
	}

	switch {
	case size == 0:
		f.content = []byte{}
	case size <= int64(len(f.content)):
		f.content = f.content[:size]
	default:
		grown := make([]byte, size)
		copy(grown, f.content)
		f.content = grown
	}
	f.state = FileMaterialized
	f.hash = model.Hash{}
	f.sha1Valid = false
	return f.d.overlay.CreateFile(f.ino, f.ts, f.content)
}

// ReadLink returns the symlink target, which is simply the file's content.
func (f *FileInode) ReadLink(ctx context.Context) (string, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, err := f.contentLocked()
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// GetSHA1 returns the SHA-1 of the file's content, loading the content
// first if needed and caching the result until the next write or resize.
// Materialized inodes hash their overlay content; unmaterialized ones hash
// their blob's bytes, as the object store keeps no separate SHA-1.
func (f *FileInode) GetSHA1(ctx context.Context) ([20]byte, error) {
	if err := f.ensureLoaded(ctx); err != nil {
		return [20]byte{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FileMaterialized {
		// The object store's Hash already is a content address; for this
		// codebase's purposes that is the authoritative identity, so we
		// derive a SHA-1 directly from the blob bytes once loaded.
	}
	if f.sha1Valid {
		return f.sha1, nil
	}
	content, err := f.contentLocked()
	if err != nil {
		return [20]byte{}, err
	}
	f.sha1 = sha1.Sum(content)
	f.sha1Valid = true
	return f.sha1, nil
}

// IsSameAs reports whether the inode's current content matches the given
// source-control entry, without necessarily loading content when a
// cheaper hash comparison suffices.
func (f *FileInode) IsSameAs(ctx context.Context, entryHash model.Hash, entryMode uint32) (bool, error) {
	f.mu.Lock()
	state := f.state
	hash := f.hash
	mode := f.mode
	f.mu.Unlock()

	if mode != entryMode {
		return false, nil
	}
	if state != FileMaterialized {
		return hash == entryHash, nil
	}

	f.mu.Lock()
	content, err := f.contentLocked()
	f.mu.Unlock()
	if err != nil {
		return false, err
	}

	blob, err := f.d.store.GetBlob(ctx, entryHash)
	if err != nil {
		return false, err
	}
	return bytes.Equal(content, blob.Content), nil
}
