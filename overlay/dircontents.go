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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/edenfs-go/edenfs/model"
)

// DirContents is the on-disk representation of a materialized directory:
// an ordered list of entries. Order is insertion order, not sorted, so
// that diff determinism matches what readdir returned before the restart.
type DirContents struct {
	Entries []model.DirEntry
}

// encodeDirContents writes a length-prefixed, deterministic serialization
// of c. Each entry: u16BE name length, name bytes, u32BE mode, u8 type,
// u64BE ino, u8 kind, 20 hash bytes (valid iff kind == DirEntryByHash).
func encodeDirContents(w io.Writer, c DirContents) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(c.Entries)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}

	for _, e := range c.Entries {
		if len(e.Name) > 0xffff {
			return fmt.Errorf("overlay: entry name %q too long to encode", e.Name)
		}
		var nameLen [2]byte
		binary.BigEndian.PutUint16(nameLen[:], uint16(len(e.Name)))
		if _, err := w.Write(nameLen[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.Name); err != nil {
			return err
		}

		var rest [4 + 1 + 8 + 1 + 20]byte
		binary.BigEndian.PutUint32(rest[0:4], e.Mode)
		rest[4] = byte(e.Type)
		binary.BigEndian.PutUint64(rest[5:13], uint64(e.Ino))
		rest[13] = byte(e.Kind)
		if e.Kind == model.DirEntryByHash {
			copy(rest[14:34], e.Hash[:])
		}
		if _, err := w.Write(rest[:]); err != nil {
			return err
		}
	}
	return nil
}

// decodeDirContents parses the format written by encodeDirContents. Any
// structural inconsistency is reported as ErrCorrupt.
func decodeDirContents(r io.Reader) (DirContents, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return DirContents{}, fmt.Errorf("%w: reading entry count: %v", ErrCorrupt, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	entries := make([]model.DirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen [2]byte
		if _, err := io.ReadFull(r, nameLen[:]); err != nil {
			return DirContents{}, fmt.Errorf("%w: reading name length of entry %d: %v", ErrCorrupt, i, err)
		}
		nameBuf := make([]byte, binary.BigEndian.Uint16(nameLen[:]))
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return DirContents{}, fmt.Errorf("%w: reading name of entry %d: %v", ErrCorrupt, i, err)
		}

		var rest [4 + 1 + 8 + 1 + 20]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return DirContents{}, fmt.Errorf("%w: reading fixed fields of entry %d: %v", ErrCorrupt, i, err)
		}

		e := model.DirEntry{
			Name: string(nameBuf),
			Mode: binary.BigEndian.Uint32(rest[0:4]),
			Type: model.EntryType(rest[4]),
			Ino:  model.InodeNumber(binary.BigEndian.Uint64(rest[5:13])),
			Kind: model.DirEntryKind(rest[13]),
		}
		if e.Kind == model.DirEntryByHash {
			copy(e.Hash[:], rest[14:34])
		}
		entries = append(entries, e)
	}
	return DirContents{Entries: entries}, nil
}

// maxInodeNumber returns the largest InodeNumber referenced by any entry in
// c, or 0 if c is empty. Used by the allocator's crash-recovery scan.
func (c DirContents) maxInodeNumber() model.InodeNumber {
	var max model.InodeNumber
	for _, e := range c.Entries {
		if e.Ino > max {
			max = e.Ino
		}
	}
	return max
}
