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

package overlay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/edenfs-go/edenfs/common"
	"github.com/edenfs-go/edenfs/model"
)

// infoMagic is the 4-byte sentinel at the start of the overlay's info
// file, chosen to be unlikely to collide with any other file format an
// operator might accidentally point the overlay directory at.
var infoMagic = [4]byte{0xED, 0xE0, 0x00, 0x01}

const infoFormatVersion uint32 = 1

const numShards = 256

// Overlay is the on-disk, sharded, single-writer store backing
// materialized directories and files. Exactly one process may hold an
// Overlay open against a given directory at a time; the info file's
// advisory lock enforces this.
type Overlay struct {
	dir      string
	lockFile *os.File

	nextIno atomic.Uint64

	metaMu sync.Mutex
	meta   *metadataTable

	closed atomic.Bool
}

// Open opens (or, if absent, initializes) an overlay rooted at dir. It
// takes an exclusive advisory lock on the info file for the lifetime of
// the returned Overlay; Close releases it.
func Open(dir string) (*Overlay, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("overlay: creating root %s: %w", dir, err)
	}

	infoPath := filepath.Join(dir, "info")
	lockFile, fresh, err := openOrCreateInfoFile(infoPath)
	if err != nil {
		return nil, err
	}

	if fresh {
		if err := writeInfoFile(lockFile); err != nil {
			lockFile.Close()
			return nil, err
		}
	} else {
		if err := validateInfoFile(lockFile); err != nil {
			lockFile.Close()
			return nil, err
		}
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("overlay: acquiring exclusive lock on %s (already open elsewhere?): %w", infoPath, err)
	}

	for i := 0; i < numShards; i++ {
		shard := filepath.Join(dir, shardName(model.InodeNumber(i)))
		if err := os.MkdirAll(shard, 0700); err != nil {
			unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
			lockFile.Close()
			return nil, fmt.Errorf("overlay: creating shard %s: %w", shard, err)
		}
	}

	meta, err := openMetadataTable(filepath.Join(dir, "metadata"))
	if err != nil {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		return nil, err
	}

	ov := &Overlay{
		dir:      dir,
		lockFile: lockFile,
		meta:     meta,
	}

	next, err := loadNextInodeNumber(filepath.Join(dir, "next-inode"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ov.Close()
			return nil, err
		}
		next, err = ov.recoverNextInodeNumber()
		if err != nil {
			ov.Close()
			return nil, err
		}
	}
	ov.nextIno.Store(uint64(next))

	return ov, nil
}

func openOrCreateInfoFile(path string) (f *os.File, fresh bool, err error) {
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_NOFOLLOW, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("overlay: opening info file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("overlay: statting info file %s: %w", path, err)
	}
	return f, info.Size() == 0, nil
}

func writeInfoFile(f *os.File) error {
	var buf [8]byte
	copy(buf[0:4], infoMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], infoFormatVersion)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("overlay: writing info file: %w", err)
	}
	return nil
}

func validateInfoFile(f *os.File) error {
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil && err != io.EOF {
		return fmt.Errorf("overlay: reading info file: %w", err)
	}
	if !bytes.Equal(buf[0:4], infoMagic[:]) {
		return fmt.Errorf("%w: info file has bad magic", ErrCorrupt)
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != infoFormatVersion {
		return fmt.Errorf("%w: on-disk version %d, binary expects %d", ErrStaleFormat, version, infoFormatVersion)
	}
	return nil
}

// Close releases the overlay's lock and flushes its allocator state. It is
// safe to call more than once.
func (ov *Overlay) Close() error {
	if ov.closed.Swap(true) {
		return nil
	}
	var err error
	if saveErr := ov.persistNextInodeNumber(); saveErr != nil {
		err = errors.Join(err, saveErr)
	}
	if ov.meta != nil {
		err = errors.Join(err, ov.meta.Close())
	}
	if ov.lockFile != nil {
		unix.Flock(int(ov.lockFile.Fd()), unix.LOCK_UN)
		err = errors.Join(err, ov.lockFile.Close())
	}
	return err
}

func shardName(ino model.InodeNumber) string {
	return fmt.Sprintf("%02x", byte(ino))
}

func (ov *Overlay) path(ino model.InodeNumber) string {
	return filepath.Join(ov.dir, shardName(ino), strconv.FormatUint(uint64(ino), 10))
}

// has_data.
func (ov *Overlay) HasData(ino model.InodeNumber) bool {
	_, err := os.Stat(ov.path(ino))
	return err == nil
}

// Remove unlinks the overlay file for ino. A missing file is not an error.
func (ov *Overlay) Remove(ino model.InodeNumber) error {
	err := os.Remove(ov.path(ino))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("overlay: removing inode %d: %w", ino, err)
	}
	return nil
}

// RecursivelyRemove removes directory ino and every file and directory
// reachable from it through the directory contents stored in the overlay,
// walking the directories breadth-first. It is
// safe to run asynchronously: by the time it is called the parent has
// already dropped its reference to ino, so the inode numbers involved
// cannot be reallocated out from under it.
func (ov *Overlay) RecursivelyRemove(ino model.InodeNumber) error {
	queue := common.NewLinkedListQueue[model.InodeNumber]()
	queue.Push(ino)

	var firstErr error
	for !queue.IsEmpty() {
		cur := queue.Pop()

		contents, err := ov.LoadDir(cur)
		if err != nil && !errors.Is(err, ErrNoData) {
			if firstErr == nil {
				firstErr = err
			}
		}
		for _, e := range contents.Entries {
			if e.Type.IsDir() {
				queue.Push(e.Ino)
				continue
			}
			if err := ov.Remove(e.Ino); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := ov.meta.remove(e.Ino); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if err := ov.Remove(cur); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := ov.meta.remove(cur); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SaveDir atomically writes the serialized DirContents plus header for
// ino. At-most-one writer per inode is the caller's (the owning TreeInode
// lock's) responsibility; the overlay itself does not serialize per-inode.
func (ov *Overlay) SaveDir(ino model.InodeNumber, contents DirContents, ts model.InodeTimestamps) error {
	var buf bytes.Buffer
	buf.Grow(headerSize)
	var header [headerSize]byte
	encodeHeader(header[:], entryKindDir, ts)
	buf.Write(header[:])
	if err := encodeDirContents(&buf, contents); err != nil {
		return fmt.Errorf("overlay: encoding directory %d: %w", ino, err)
	}
	return ov.atomicWrite(ino, buf.Bytes())
}

// LoadDir returns the DirContents persisted for ino. If no overlay data
// exists it returns ErrNoData. A truncated or malformed header fails with
// ErrCorrupt.
func (ov *Overlay) LoadDir(ino model.InodeNumber) (DirContents, error) {
	data, _, err := ov.readFile(ino, entryKindDir)
	if err != nil {
		return DirContents{}, err
	}
	contents, err := decodeDirContents(bytes.NewReader(data))
	if err != nil {
		return DirContents{}, fmt.Errorf("overlay: decoding directory %d: %w", ino, err)
	}
	return contents, nil
}

// CreateFile writes the materialized content of a regular or executable
// file, using the same temp-file-then-rename pattern as SaveDir.
func (ov *Overlay) CreateFile(ino model.InodeNumber, ts model.InodeTimestamps, content []byte) error {
	buf := make([]byte, headerSize, headerSize+len(content))
	encodeHeader(buf, entryKindFile, ts)
	buf = append(buf, content...)
	return ov.atomicWrite(ino, buf)
}

// LoadFile returns the raw bytes persisted for ino (past the header).
func (ov *Overlay) LoadFile(ino model.InodeNumber) ([]byte, error) {
	data, _, err := ov.readFile(ino, entryKindFile)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// HeaderTimestamps reads just the timestamp triple from ino's header
// without parsing the payload, for the stat path.
func (ov *Overlay) HeaderTimestamps(ino model.InodeNumber) (model.InodeTimestamps, error) {
	_, ts, err := ov.readFile(ino, -1)
	return ts, err
}

// readFile reads and validates the header of ino's overlay file, then
// returns the payload bytes after it. If wantKind is not -1, a header
// identifying the other kind is a corruption error (a directory overlay
// file can never satisfy a file read or vice versa).
func (ov *Overlay) readFile(ino model.InodeNumber, wantKind entryKind) ([]byte, model.InodeTimestamps, error) {
	raw, err := os.ReadFile(ov.path(ino))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.InodeTimestamps{}, ErrNoData
		}
		return nil, model.InodeTimestamps{}, fmt.Errorf("overlay: reading inode %d: %w", ino, err)
	}

	kind, ts, err := decodeHeader(raw)
	if err != nil {
		return nil, model.InodeTimestamps{}, err
	}
	if wantKind >= 0 && kind != wantKind {
		return nil, model.InodeTimestamps{}, fmt.Errorf("%w: inode %d has wrong entry kind", ErrCorrupt, ino)
	}
	return raw[headerSize:], ts, nil
}

// atomicWrite writes data to a sibling temp file then renames it over
// ino's overlay path, unlinking the temp file on any failure.
func (ov *Overlay) atomicWrite(ino model.InodeNumber, data []byte) error {
	target := ov.path(ino)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0600)
	if err != nil {
		return fmt.Errorf("overlay: opening temp file for inode %d: %w", ino, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("overlay: writing temp file for inode %d: %w", ino, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("overlay: closing temp file for inode %d: %w", ino, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("overlay: renaming temp file for inode %d: %w", ino, err)
	}
	return nil
}

// AllocateInodeNumber returns the next monotonically-increasing inode
// number. The value is only durably recorded at Close ("clean shutdown");
// an ungraceful exit is recovered from by scanning on the next Open.
func (ov *Overlay) AllocateInodeNumber() model.InodeNumber {
	return model.InodeNumber(ov.nextIno.Add(1))
}

func loadNextInodeNumber(path string) (model.InodeNumber, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(raw) < 8 {
		return 0, fmt.Errorf("%w: truncated next-inode file", ErrCorrupt)
	}
	return model.InodeNumber(binary.BigEndian.Uint64(raw[0:8])), nil
}

func (ov *Overlay) persistNextInodeNumber() error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[0:8], ov.nextIno.Load())
	path := filepath.Join(ov.dir, "next-inode")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0600); err != nil {
		return fmt.Errorf("overlay: persisting allocator state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("overlay: persisting allocator state: %w", err)
	}
	return nil
}

// recoverNextInodeNumber scans the overlay tree to determine the smallest
// safe allocator seed after an unclean shutdown: the maximum inode number
// referenced by any on-disk DirEntry, or present as a shard filename,
// whichever is larger, plus one. Shards are independent directories, so
// the scan fans out one goroutine per shard via errgroup.
func (ov *Overlay) recoverNextInodeNumber() (model.InodeNumber, error) {
	var mu sync.Mutex
	var max model.InodeNumber
	observe := func(n model.InodeNumber) {
		mu.Lock()
		if n > max {
			max = n
		}
		mu.Unlock()
	}

	var eg errgroup.Group
	for i := 0; i < numShards; i++ {
		shard := model.InodeNumber(i)
		eg.Go(func() error {
			return ov.scanShardForMaxInode(shard, observe)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	return max + 1, nil
}

// scanShardForMaxInode scans one shard directory, reporting the largest
// inode number it finds (as a filename, or referenced by an on-disk
// DirEntry) to observe.
func (ov *Overlay) scanShardForMaxInode(shard model.InodeNumber, observe func(model.InodeNumber)) error {
	shardPath := filepath.Join(ov.dir, shardName(shard))
	entries, err := os.ReadDir(shardPath)
	if err != nil {
		return fmt.Errorf("overlay: scanning shard %s during recovery: %w", shardPath, err)
	}
	for _, de := range entries {
		name := de.Name()
		if filepath.Ext(name) == ".tmp" {
			continue
		}
		n, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		observe(model.InodeNumber(n))

		header, err := os.ReadFile(filepath.Join(shardPath, name))
		if err != nil {
			return fmt.Errorf("overlay: reading %s during recovery: %w", name, err)
		}
		kind, _, err := decodeHeader(header)
		if err != nil {
			return fmt.Errorf("overlay: recovery scan: %w", err)
		}
		if kind != entryKindDir {
			continue
		}
		contents, err := decodeDirContents(bytes.NewReader(header[headerSize:]))
		if err != nil {
			return fmt.Errorf("overlay: recovery scan decoding directory %s: %w", name, err)
		}
		observe(contents.maxInodeNumber())
	}
	return nil
}
