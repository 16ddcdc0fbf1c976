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

package fs

import "github.com/edenfs-go/edenfs/inode"

// fileHandle is the open-file state a kernel file handle maps to. All of
// the interesting state (content, materialization) lives on the
// FileInode itself; the handle exists only because the kernel protocol
// addresses reads/writes by handle rather than by inode.
type fileHandle struct {
	file *inode.FileInode
}
