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

// Package overlay implements the on-disk, sharded, single-writer binary
// store that backs materialized directories and files, plus the inode
// number allocator. It deliberately knows nothing about the inode package
// above it; the model package carries the shared value types.
package overlay

import "errors"

// ErrNoData is returned by LoadDir/LoadFile when no overlay data exists for
// an inode (the on-disk equivalent of ENOENT). Callers distinguish this
// from ErrCorrupt: a missing file means "not materialized", a corrupt one
// means the overlay itself is damaged.
var ErrNoData = errors.New("overlay: no data for inode")

// ErrCorrupt wraps any detected structural damage: bad magic, truncated
// header, or a directory payload that fails to parse. It is never returned
// for an absent file.
var ErrCorrupt = errors.New("overlay: corrupt data")

// ErrStaleFormat is returned by Open when the on-disk info file carries a
// format version other than the one this binary writes (older or newer);
// the operator must
// run an external migration rather than have the overlay silently
// reinterpret bytes it doesn't understand.
var ErrStaleFormat = errors.New("overlay: on-disk format requires migration")

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = errors.New("overlay: closed")
