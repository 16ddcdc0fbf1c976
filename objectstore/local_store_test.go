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

package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/model"
)

func TestLocalStoreRoundTripsBlobAndTree(t *testing.T) {
	s, err := OpenLocalStore(t.TempDir())
	require.NoError(t, err)

	blobHash := model.Hash{1, 2, 3}
	require.NoError(t, s.PutBlob(&Blob{Hash: blobHash, Content: []byte("hello")}))

	treeHash := model.Hash{4, 5, 6}
	tree := &Tree{
		Hash: treeHash,
		Entries: []model.TreeEntry{
			{Name: "hello.txt", Hash: blobHash, Mode: 0o644, Type: model.EntryTypeRegular},
		},
	}
	require.NoError(t, s.PutTree(tree))

	ctx := context.Background()
	gotBlob, err := s.GetBlob(ctx, blobHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), gotBlob.Content)

	size, err := s.GetBlobSize(ctx, blobHash)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	gotTree, err := s.GetTree(ctx, treeHash)
	require.NoError(t, err)
	require.Len(t, gotTree.Entries, 1)
	assert.Equal(t, "hello.txt", gotTree.Entries[0].Name)
	assert.Equal(t, blobHash, gotTree.Entries[0].Hash)
}

func TestLocalStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s, err := OpenLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetBlob(context.Background(), model.Hash{9})
	assert.ErrorIs(t, err, ErrNotFound)
}
