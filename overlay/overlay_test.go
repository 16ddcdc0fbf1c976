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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/model"
)

func writeGarbageInfo(dir string) error {
	return os.WriteFile(filepath.Join(dir, "info"), []byte("garbagegarbage"), 0600)
}

func mustOpen(t *testing.T) *Overlay {
	t.Helper()
	ov, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ov.Close() })
	return ov
}

func TestOpenCreatesShardTreeAndInfoFile(t *testing.T) {
	ov := mustOpen(t)
	for i := 0; i < numShards; i++ {
		assert.DirExists(t, ov.dir+"/"+shardName(model.InodeNumber(i)))
	}
}

func TestOpenTwiceFailsToLock(t *testing.T) {
	dir := t.TempDir()
	ov, err := Open(dir)
	require.NoError(t, err)
	defer ov.Close()

	_, err = Open(dir)
	assert.Error(t, err)
}

func TestSaveLoadDirRoundTrip(t *testing.T) {
	ov := mustOpen(t)

	ts := model.InodeTimestamps{
		Atime: time.Unix(100, 1).UTC(),
		Ctime: time.Unix(200, 2).UTC(),
		Mtime: time.Unix(300, 3).UTC(),
	}
	contents := DirContents{Entries: []model.DirEntry{
		{Name: "a.txt", Mode: 0644, Type: model.EntryTypeRegular, Ino: 10, Kind: model.DirEntryByHash, Hash: model.Hash{1, 2, 3}},
		{Name: "sub", Mode: 0755, Type: model.EntryTypeTree, Ino: 11, Kind: model.DirEntryMaterialized},
	}}

	require.NoError(t, ov.SaveDir(5, contents, ts))

	got, err := ov.LoadDir(5)
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	gotTs, err := ov.HeaderTimestamps(5)
	require.NoError(t, err)
	assert.True(t, ts.Atime.Equal(gotTs.Atime))
	assert.True(t, ts.Ctime.Equal(gotTs.Ctime))
	assert.True(t, ts.Mtime.Equal(gotTs.Mtime))
}

func TestLoadDirMissingReturnsErrNoData(t *testing.T) {
	ov := mustOpen(t)
	_, err := ov.LoadDir(999)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadDirWrongKindIsCorrupt(t *testing.T) {
	ov := mustOpen(t)
	require.NoError(t, ov.CreateFile(7, model.InodeTimestamps{}, []byte("hello")))

	_, err := ov.LoadDir(7)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateLoadFileRoundTrip(t *testing.T) {
	ov := mustOpen(t)
	require.NoError(t, ov.CreateFile(42, model.InodeTimestamps{}, []byte("payload bytes")))

	got, err := ov.LoadFile(42)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), got)
	assert.True(t, ov.HasData(42))
}

func TestRemoveIsIdempotent(t *testing.T) {
	ov := mustOpen(t)
	require.NoError(t, ov.CreateFile(1, model.InodeTimestamps{}, []byte("x")))
	require.NoError(t, ov.Remove(1))
	assert.False(t, ov.HasData(1))
	require.NoError(t, ov.Remove(1))
}

func TestRecursivelyRemoveWalksTree(t *testing.T) {
	ov := mustOpen(t)

	require.NoError(t, ov.CreateFile(3, model.InodeTimestamps{}, []byte("leaf")))
	require.NoError(t, ov.SaveDir(2, DirContents{Entries: []model.DirEntry{
		{Name: "leaf.txt", Type: model.EntryTypeRegular, Ino: 3, Kind: model.DirEntryMaterialized},
	}}, model.InodeTimestamps{}))
	require.NoError(t, ov.SaveDir(1, DirContents{Entries: []model.DirEntry{
		{Name: "child", Type: model.EntryTypeTree, Ino: 2, Kind: model.DirEntryMaterialized},
	}}, model.InodeTimestamps{}))

	require.NoError(t, ov.RecursivelyRemove(1))

	assert.False(t, ov.HasData(1))
	assert.False(t, ov.HasData(2))
	assert.False(t, ov.HasData(3))
}

func TestAllocateInodeNumberMonotonic(t *testing.T) {
	ov := mustOpen(t)
	a := ov.AllocateInodeNumber()
	b := ov.AllocateInodeNumber()
	assert.Less(t, a, b)
}

func TestAllocatorRecoversAfterUncleanShutdown(t *testing.T) {
	dir := t.TempDir()

	ov, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, ov.SaveDir(model.RootInodeNumber, DirContents{Entries: []model.DirEntry{
		{Name: "big", Type: model.EntryTypeRegular, Ino: 500, Kind: model.DirEntryMaterialized},
	}}, model.InodeTimestamps{}))
	// Simulate an unclean shutdown: no Close, so next-inode is never
	// persisted and recovery must fall back to the scan.
	unixUnlock(ov)

	ov2, err := Open(dir)
	require.NoError(t, err)
	defer ov2.Close()

	next := ov2.AllocateInodeNumber()
	assert.Greater(t, next, model.InodeNumber(500))
}

// unixUnlock releases the flock without running the rest of Close, so the
// next Open sees an unclean-shutdown state (no persisted next-inode file).
func unixUnlock(ov *Overlay) {
	ov.lockFile.Close()
}

func TestCorruptInfoMagicRejected(t *testing.T) {
	dir := t.TempDir()
	ov, err := Open(dir)
	require.NoError(t, err)
	ov.Close()

	require.NoError(t, writeGarbageInfo(dir))

	_, err = Open(dir)
	assert.True(t, errors.Is(err, ErrCorrupt))
}
