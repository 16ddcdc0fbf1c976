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

// Package mount implements EdenMount, the per-mount aggregate that owns
// the InodeMap, the Overlay, the current parent commit(s), and serializes
// checkouts against each other.
package mount

import (
	"fmt"
	"sync/atomic"
)

// State is EdenMount's lifecycle position.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Initialized
	InitError
	Starting
	Running
	FuseError
	ShuttingDown
	ShutDown
	Destroying
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initializing:
		return "INITIALIZING"
	case Initialized:
		return "INITIALIZED"
	case InitError:
		return "INIT_ERROR"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case FuseError:
		return "FUSE_ERROR"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case ShutDown:
		return "SHUT_DOWN"
	case Destroying:
		return "DESTROYING"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates every State -> State edge the state machine
// allows. Destroying is reachable from every state including itself, so
// it is checked separately rather than listed here.
var legalTransitions = map[State][]State{
	Uninitialized: {Initializing},
	Initializing:  {Initialized, InitError},
	Initialized:   {Starting},
	Starting:      {Running, FuseError},
	Running:       {ShuttingDown},
	FuseError:     {ShuttingDown},
	ShuttingDown:  {ShutDown},
}

// ErrIllegalTransition is returned when transition is asked to
// move to a state unreachable from the current one.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("mount: illegal state transition %s -> %s", e.From, e.To)
}

// stateHolder is the atomic CAS-guarded state cell embedded in EdenMount.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

// transition attempts to move from whatever the current state is to to,
// failing if that edge is not legal. Destroying is always legal. The
// whole check-then-set is done under a CAS loop so callers racing each
// other never both succeed into different unrelated target states.
func (h *stateHolder) transition(to State) error {
	for {
		from := State(h.v.Load())
		if to != Destroying && !isLegal(from, to) {
			return &ErrIllegalTransition{From: from, To: to}
		}
		if h.v.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

func isLegal(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
