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

// Package checkout implements the concurrent three-way diff-and-apply walk
// that moves a mount's live tree from one source-control commit to
// another, producing mutations or structured conflicts.
package checkout

import "fmt"

// ConflictType classifies why a path could not be updated silently.
type ConflictType int

const (
	// UntrackedAdded: the target adds a path that already exists,
	// untracked, in the working copy.
	UntrackedAdded ConflictType = iota
	// Modified: the working copy diverges from the commit checkout is
	// moving away from, so the target's version cannot be applied
	// without data loss.
	Modified
	// MissingRemoved: a path tracked by the source commit is absent from
	// the working copy, and the target still wants a (different) version
	// of it.
	MissingRemoved
	// DirectoryNotEmpty: a directory the target wants removed still has
	// untracked content after its trackable children were processed.
	DirectoryNotEmpty
	// Error: an uncategorized failure occurred processing one entry;
	// siblings still proceed.
	Error
)

func (c ConflictType) String() string {
	switch c {
	case UntrackedAdded:
		return "UNTRACKED_ADDED"
	case Modified:
		return "MODIFIED"
	case MissingRemoved:
		return "MISSING_REMOVED"
	case DirectoryNotEmpty:
		return "DIRECTORY_NOT_EMPTY"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Conflict is a structured record of one path checkout could not update
// (or, for type Error, could not even classify).
type Conflict struct {
	Type    ConflictType
	Path    string
	Message string // populated iff Type == Error
}

func (c Conflict) String() string {
	if c.Type == Error {
		return fmt.Sprintf("%s: %s: %s", c.Type, c.Path, c.Message)
	}
	return fmt.Sprintf("%s: %s", c.Type, c.Path)
}
