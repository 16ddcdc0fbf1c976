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
	"time"

	"github.com/edenfs-go/edenfs/model"
)

// headerSize is the fixed width of every per-inode overlay file header.
const headerSize = 64

const headerFormatVersion uint32 = 1

var dirIdentifier = [4]byte{'O', 'V', 'D', 'R'}
var fileIdentifier = [4]byte{'O', 'V', 'F', 'L'}

// entryKind distinguishes a directory overlay file from a regular file one;
// encoded as the 4-byte identifier at the start of the header.
type entryKind int

const (
	entryKindDir entryKind = iota
	entryKindFile
)

// encodeHeader writes the 64-byte fixed header for kind/ts into buf, which
// must be at least headerSize bytes.
func encodeHeader(buf []byte, kind entryKind, ts model.InodeTimestamps) {
	if len(buf) < headerSize {
		panic("overlay: header buffer too small")
	}
	for i := range buf[:headerSize] {
		buf[i] = 0
	}

	switch kind {
	case entryKindDir:
		copy(buf[0:4], dirIdentifier[:])
	case entryKindFile:
		copy(buf[0:4], fileIdentifier[:])
	default:
		panic("overlay: unknown entry kind")
	}

	binary.BigEndian.PutUint32(buf[4:8], headerFormatVersion)

	putTimespec(buf[8:24], ts.Atime)
	putTimespec(buf[24:40], ts.Ctime)
	putTimespec(buf[40:56], ts.Mtime)
	// buf[56:64] stays zero padding.
}

// decodeHeader parses the fixed header from the front of buf, which must be
// at least headerSize bytes. It returns ErrCorrupt on a bad magic or an
// unsupported version.
func decodeHeader(buf []byte) (entryKind, model.InodeTimestamps, error) {
	if len(buf) < headerSize {
		return 0, model.InodeTimestamps{}, fmt.Errorf("%w: header truncated (%d bytes)", ErrCorrupt, len(buf))
	}

	var kind entryKind
	switch {
	case string(buf[0:4]) == string(dirIdentifier[:]):
		kind = entryKindDir
	case string(buf[0:4]) == string(fileIdentifier[:]):
		kind = entryKindFile
	default:
		return 0, model.InodeTimestamps{}, fmt.Errorf("%w: bad magic %x", ErrCorrupt, buf[0:4])
	}

	version := binary.BigEndian.Uint32(buf[4:8])
	if version != headerFormatVersion {
		return 0, model.InodeTimestamps{}, fmt.Errorf("%w: header version %d unsupported", ErrCorrupt, version)
	}

	ts := model.InodeTimestamps{
		Atime: getTimespec(buf[8:24]),
		Ctime: getTimespec(buf[24:40]),
		Mtime: getTimespec(buf[40:56]),
	}
	return kind, ts, nil
}

func putTimespec(buf []byte, t time.Time) {
	sec := uint64(0)
	nsec := uint64(0)
	if !t.IsZero() {
		sec = uint64(t.Unix())
		nsec = uint64(t.Nanosecond())
	}
	binary.BigEndian.PutUint64(buf[0:8], sec)
	binary.BigEndian.PutUint64(buf[8:16], nsec)
}

func getTimespec(buf []byte) time.Time {
	sec := binary.BigEndian.Uint64(buf[0:8])
	nsec := binary.BigEndian.Uint64(buf[8:16])
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), int64(nsec)).UTC()
}
