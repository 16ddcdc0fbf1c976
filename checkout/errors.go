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

package checkout

import "errors"

// ErrCheckoutInProgress is returned when the mount's parent-commit lock
// could not be acquired within its timeout because another checkout is
// already running.
var ErrCheckoutInProgress = errors.New("checkout: another checkout is already in progress")

// ErrOutOfDateParent is returned by diff when enforceCurrentParent is
// requested and the given parent does not match the mount's recorded
// parent commit.
var ErrOutOfDateParent = errors.New("checkout: requested parent is out of date")
