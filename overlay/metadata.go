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
	"os"
	"sync"

	"github.com/edenfs-go/edenfs/model"
)

// InodeMetadata is one row of the inode-metadata table: everything the
// stat path needs that isn't a directory/file payload.
type InodeMetadata struct {
	Mode uint32
	UID  uint32
	GID  uint32
	Ts   model.InodeTimestamps
}

const metadataRecordSize = 4 + 4 + 4 + 3*16 // mode, uid, gid, 3 timespecs

// metadataTable is a flat append-only-ish file mapping inode number to
// InodeMetadata, read entirely into memory at open and rewritten in full
// on every mutation. Materialized inode counts in a single checkout are
// small enough that this is simpler than a real on-disk index, and it
// follows the same temp+rename durability story as the rest of the
// overlay.
type metadataTable struct {
	path string

	mu      sync.Mutex
	records map[model.InodeNumber]InodeMetadata
}

func openMetadataTable(path string) (*metadataTable, error) {
	t := &metadataTable{
		path:    path,
		records: make(map[model.InodeNumber]InodeMetadata),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("overlay: reading metadata table: %w", err)
	}

	const entrySize = 8 + metadataRecordSize
	if len(raw)%entrySize != 0 {
		return nil, fmt.Errorf("%w: metadata table has trailing partial record", ErrCorrupt)
	}
	for off := 0; off < len(raw); off += entrySize {
		rec := raw[off : off+entrySize]
		ino := model.InodeNumber(binary.BigEndian.Uint64(rec[0:8]))
		meta := decodeMetadataRecord(rec[8:])
		t.records[ino] = meta
	}
	return t, nil
}

func decodeMetadataRecord(buf []byte) InodeMetadata {
	return InodeMetadata{
		Mode: binary.BigEndian.Uint32(buf[0:4]),
		UID:  binary.BigEndian.Uint32(buf[4:8]),
		GID:  binary.BigEndian.Uint32(buf[8:12]),
		Ts: model.InodeTimestamps{
			Atime: getTimespec(buf[12:28]),
			Ctime: getTimespec(buf[28:44]),
			Mtime: getTimespec(buf[44:60]),
		},
	}
}

func encodeMetadataRecord(buf []byte, m InodeMetadata) {
	binary.BigEndian.PutUint32(buf[0:4], m.Mode)
	binary.BigEndian.PutUint32(buf[4:8], m.UID)
	binary.BigEndian.PutUint32(buf[8:12], m.GID)
	putTimespec(buf[12:28], m.Ts.Atime)
	putTimespec(buf[28:44], m.Ts.Ctime)
	putTimespec(buf[44:60], m.Ts.Mtime)
}

// Get returns the metadata recorded for ino, or ok=false if none.
func (t *metadataTable) Get(ino model.InodeNumber) (InodeMetadata, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.records[ino]
	return m, ok
}

// Set records metadata for ino and persists the whole table.
func (t *metadataTable) Set(ino model.InodeNumber, m InodeMetadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[ino] = m
	return t.flushLocked()
}

// remove drops any metadata recorded for ino, if present, and persists.
func (t *metadataTable) remove(ino model.InodeNumber) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[ino]; !ok {
		return nil
	}
	delete(t.records, ino)
	return t.flushLocked()
}

func (t *metadataTable) flushLocked() error {
	const entrySize = 8 + metadataRecordSize
	buf := make([]byte, 0, entrySize*len(t.records))
	for ino, m := range t.records {
		var entry [entrySize]byte
		binary.BigEndian.PutUint64(entry[0:8], uint64(ino))
		encodeMetadataRecord(entry[8:], m)
		buf = append(buf, entry[:]...)
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return fmt.Errorf("overlay: writing metadata table: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("overlay: renaming metadata table: %w", err)
	}
	return nil
}

func (t *metadataTable) Close() error {
	return nil
}
