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
	"sync"

	"github.com/edenfs-go/edenfs/model"
)

// FakeStore is an in-memory Store used by inode/checkout/overlay tests in
// place of a real content-addressed backend.
type FakeStore struct {
	mu    sync.RWMutex
	trees map[model.Hash]*Tree
	blobs map[model.Hash]*Blob
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		trees: make(map[model.Hash]*Tree),
		blobs: make(map[model.Hash]*Blob),
	}
}

// PutTree registers a Tree for later GetTree calls.
func (s *FakeStore) PutTree(t *Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[t.Hash] = t
}

// PutBlob registers a Blob for later GetBlob calls.
func (s *FakeStore) PutBlob(b *Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[b.Hash] = b
}

func (s *FakeStore) GetTree(ctx context.Context, hash model.Hash) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *FakeStore) GetBlob(ctx context.Context, hash model.Hash) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *FakeStore) GetBlobSize(ctx context.Context, hash model.Hash) (int64, error) {
	b, err := s.GetBlob(ctx, hash)
	if err != nil {
		return 0, err
	}
	return int64(len(b.Content)), nil
}

var _ Store = (*FakeStore)(nil)
