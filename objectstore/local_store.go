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
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/edenfs-go/edenfs/model"
)

// LocalStore is a Store backed by a directory of loose objects, sharded by
// the first byte of the hash the way git's object database is: this is a
// minimal stand-in for the real networked source-control backend (out of
// scope per this module's external-collaborator boundary), used so the CLI
// has something concrete to read from.
type LocalStore struct {
	dir string
}

// OpenLocalStore returns a LocalStore rooted at dir, creating it if absent.
func OpenLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: creating %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(hash model.Hash) string {
	hex := hash.String()
	return filepath.Join(s.dir, hex[:2], hex[2:])
}

type treeFile struct {
	Entries []treeEntryFile `yaml:"entries"`
}

type treeEntryFile struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
	Mode uint32 `yaml:"mode"`
	Type uint8  `yaml:"type"`
}

// PutTree writes t to the object store under its hash.
func (s *LocalStore) PutTree(t *Tree) error {
	tf := treeFile{Entries: make([]treeEntryFile, len(t.Entries))}
	for i, e := range t.Entries {
		tf.Entries[i] = treeEntryFile{Name: e.Name, Hash: e.Hash.String(), Mode: e.Mode, Type: uint8(e.Type)}
	}
	data, err := yaml.Marshal(tf)
	if err != nil {
		return err
	}
	return s.write(t.Hash, append([]byte{'T'}, data...))
}

// PutBlob writes b to the object store under its hash.
func (s *LocalStore) PutBlob(b *Blob) error {
	return s.write(b.Hash, append([]byte{'B'}, b.Content...))
}

func (s *LocalStore) write(hash model.Hash, data []byte) error {
	p := s.path(hash)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *LocalStore) read(hash model.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalStore) GetTree(ctx context.Context, hash model.Hash) (*Tree, error) {
	data, err := s.read(hash)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != 'T' {
		return nil, fmt.Errorf("objectstore: %s is not a tree", hash)
	}
	var tf treeFile
	if err := yaml.Unmarshal(data[1:], &tf); err != nil {
		return nil, fmt.Errorf("objectstore: decoding tree %s: %w", hash, err)
	}
	t := &Tree{Hash: hash, Entries: make([]model.TreeEntry, len(tf.Entries))}
	for i, e := range tf.Entries {
		var h model.Hash
		raw, err := hex.DecodeString(e.Hash)
		if err != nil || len(raw) != len(h) {
			return nil, fmt.Errorf("objectstore: decoding tree %s entry %q: bad hash", hash, e.Name)
		}
		copy(h[:], raw)
		t.Entries[i] = model.TreeEntry{Name: e.Name, Hash: h, Mode: e.Mode, Type: model.EntryType(e.Type)}
	}
	return t, nil
}

func (s *LocalStore) GetBlob(ctx context.Context, hash model.Hash) (*Blob, error) {
	data, err := s.read(hash)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != 'B' {
		return nil, fmt.Errorf("objectstore: %s is not a blob", hash)
	}
	return &Blob{Hash: hash, Content: data[1:]}, nil
}

func (s *LocalStore) GetBlobSize(ctx context.Context, hash model.Hash) (int64, error) {
	b, err := s.GetBlob(ctx, hash)
	if err != nil {
		return 0, err
	}
	return int64(len(b.Content)), nil
}
