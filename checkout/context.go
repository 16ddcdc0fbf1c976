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

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/edenfs-go/edenfs/model"
)

// Mode selects how checkout treats conflicting entries.
type Mode int

const (
	// Normal refuses to clobber any path whose working-copy content
	// diverges from the commit being moved away from; such paths are
	// reported as conflicts instead.
	Normal Mode = iota
	// DryRun performs the full walk and populates the conflict list but
	// commits no mutations.
	DryRun
	// Force overwrites every path to match the target commit
	// unconditionally; conflicts are still recorded for visibility.
	Force
)

// FetchStats accumulates counters about what the walk had to fetch from
// the object store, surfaced for telemetry.
type FetchStats struct {
	mu          sync.Mutex
	TreesFetched int
	BlobsFetched int
}

func (s *FetchStats) addTree() {
	s.mu.Lock()
	s.TreesFetched++
	s.mu.Unlock()
}

func (s *FetchStats) addBlob() {
	s.mu.Lock()
	s.BlobsFetched++
	s.mu.Unlock()
}

// Context holds the state threaded through one checkout's entire walk:
// target hash, mode, the synchronized conflict list, and fetch-stats
// accumulator. One Context exists per in-flight checkout; the mount's
// parent-commit lock (owned by the mount package, not here) guarantees
// only one is ever in flight per mount at a time.
type Context struct {
	TargetHash model.Hash
	Mode       Mode

	mu        sync.Mutex
	conflicts []Conflict

	Stats FetchStats

	// fetchLimiter, when non-nil, rate-limits the object-store tree
	// fetches issued by the walk; nil means unbounded.
	fetchLimiter *rate.Limiter
}

// NewContext constructs a Context for one checkout invocation.
func NewContext(targetHash model.Hash, mode Mode) *Context {
	return &Context{TargetHash: targetHash, Mode: mode}
}

// WithPrefetchLimiter attaches a rate limiter bounding how fast the walk
// fetches trees from the object store. It limits the rate at which
// fetches start, not how many are in flight. A nil limiter (the default)
// leaves fetches unbounded.
func (c *Context) WithPrefetchLimiter(l *rate.Limiter) *Context {
	c.fetchLimiter = l
	return c
}

// waitFetch blocks until the prefetch limiter admits one more fetch, or
// returns immediately if no limiter is configured.
func (c *Context) waitFetch(ctx context.Context) error {
	if c.fetchLimiter == nil {
		return nil
	}
	return c.fetchLimiter.Wait(ctx)
}

// AddConflict appends c to the context's conflict list. Safe for
// concurrent use by every goroutine in the walk.
func (c *Context) AddConflict(conflict Conflict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conflict)
}

// Conflicts returns a snapshot of the conflicts recorded so far.
func (c *Context) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Conflict, len(c.conflicts))
	copy(out, c.conflicts)
	return out
}
