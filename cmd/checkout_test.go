// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/objectstore"
)

func setUpStore(t *testing.T) (dir string, blobHash, treeHash model.Hash) {
	t.Helper()
	dir = t.TempDir()
	store, err := objectstore.OpenLocalStore(dir)
	require.NoError(t, err)

	blobHash = model.Hash{1}
	require.NoError(t, store.PutBlob(&objectstore.Blob{Hash: blobHash, Content: []byte("hi")}))

	treeHash = model.Hash{2}
	require.NoError(t, store.PutTree(&objectstore.Tree{
		Hash: treeHash,
		Entries: []model.TreeEntry{
			{Name: "hello.txt", Hash: blobHash, Mode: 0o644, Type: model.EntryTypeRegular},
		},
	}))
	return dir, blobHash, treeHash
}

// RunE is invoked directly (rather than through Execute) so these tests
// exercise the command's logic without cobra's argument traversal, which
// redirects a subcommand's Execute to its parent root. Only Execute gives a
// command its context, so each test sets one before calling RunE.

func TestCheckoutCmdAppliesFreshTreeWithoutConflicts(t *testing.T) {
	viper.Reset()
	storeDir, _, treeHash := setUpStore(t)
	Config.Store.Dir = storeDir

	var out bytes.Buffer
	checkoutCmd.SetOut(&out)
	checkoutCmd.SetContext(context.Background())
	args := []string{filepath.Join(t.TempDir(), "overlay"), treeHash.String()}
	require.NoError(t, checkoutCmd.RunE(checkoutCmd, args))
	assert.Contains(t, out.String(), "no conflicts")
}

func TestDiffCmdReportsNoConflictsForPendingAddition(t *testing.T) {
	viper.Reset()
	storeDir, _, treeHash := setUpStore(t)
	Config.Store.Dir = storeDir

	var out bytes.Buffer
	diffCmd.SetOut(&out)
	diffCmd.SetContext(context.Background())
	args := []string{filepath.Join(t.TempDir(), "overlay"), treeHash.String()}
	require.NoError(t, diffCmd.RunE(diffCmd, args))
	assert.Contains(t, out.String(), "no conflicts")
}

func TestResetParentsCmdReportsNewParent(t *testing.T) {
	viper.Reset()
	storeDir, _, treeHash := setUpStore(t)
	Config.Store.Dir = storeDir

	var out bytes.Buffer
	resetParentsCmd.SetOut(&out)
	args := []string{filepath.Join(t.TempDir(), "overlay"), treeHash.String()}
	require.NoError(t, resetParentsCmd.RunE(resetParentsCmd, args))
	assert.Contains(t, out.String(), treeHash.String())
}
