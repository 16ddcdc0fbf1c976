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

package mount

import "time"

// parentCommitLock is a mutex with a bounded acquisition wait, so a
// caller that can't get in within the timeout gets a distinguished
// failure instead of blocking indefinitely behind a running checkout.
// Exactly one checkout makes progress at a time (invariant I6); everyone
// else either waits briefly or gives up.
type parentCommitLock struct {
	ch chan struct{}
}

func newParentCommitLock() *parentCommitLock {
	l := &parentCommitLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// tryLock attempts to acquire the lock within timeout, returning whether
// it succeeded.
func (l *parentCommitLock) tryLock(timeout time.Duration) bool {
	select {
	case <-l.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *parentCommitLock) unlock() {
	l.ch <- struct{}{}
}
