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

package sched

import (
	"time"

	"github.com/tinyos/tinyos3/bios"
)

// ThreadID is a stable index into the scheduler's thread arena. IDs of
// exited threads are recycled by SpawnThread once their TCB has been
// released during some other thread's gain.
type ThreadID int32

const noThread ThreadID = -1

// Kind distinguishes ordinary threads from the one idle thread every
// core owns.
type Kind int

const (
	KindNormal Kind = iota
	KindIdle
)

// State is a TCB's lifecycle state (spec §3.1).
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateStopped
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// Phase is a TCB's context-phase (spec §3.1): CLEAN means the saved
// context may be resumed on any core, DIRTY means it is still in use
// on the core that is currently running it.
type Phase int

const (
	PhaseClean Phase = iota
	PhaseDirty
)

// Cause enumerates the reasons a thread was last preempted or last
// woken, per spec §3.1.
type Cause int

const (
	CauseNone Cause = iota
	CauseQuantumExpiry
	CauseIO
	CauseMutex
	CausePipe
	CauseJoin
	CausePoll
	CauseIdle
	CauseExplicitYield
	CauseExit
)

func (c Cause) String() string {
	switch c {
	case CauseQuantumExpiry:
		return "quantum-expiry"
	case CauseIO:
		return "io"
	case CauseMutex:
		return "mutex"
	case CausePipe:
		return "pipe"
	case CauseJoin:
		return "join"
	case CausePoll:
		return "poll"
	case CauseIdle:
		return "idle"
	case CauseExplicitYield:
		return "explicit-yield"
	case CauseExit:
		return "exit"
	default:
		return "none"
	}
}

// TCB is a thread control block: one per thread, allocated from the
// scheduler's thread arena (SpawnThread/releaseThread), reused in the
// same allocate-or-recycle style as the teacher's inode table
// (samples/memfs/fs.go allocateInode/deallocateInode).
type TCB struct {
	id   ThreadID
	Proc interface{} // opaque owning-process reference; set by the proc package
	kind Kind

	state State
	phase Phase

	ctx       *bios.Context
	stackSize int

	quantum   time.Duration
	remaining time.Duration

	prevCause Cause // cause that last preempted this thread
	wakeCause Cause // cause that next woke this thread

	hasWakeup  bool
	wakeupTime time.Time

	signalled bool

	// intrusive ready-queue links.
	readyNext, readyPrev ThreadID
	onReady              bool

	// intrusive timeout-list links, ordered by ascending wakeupTime.
	toNext, toPrev ThreadID
	onTimeout      bool

	// wait queue membership; at most one at a time.
	waitQueue *WaitQueue
	waitNext, waitPrev ThreadID

	core int // core id this thread is RUNNING on, valid only while RUNNING
}

// ID returns the thread's stable identifier.
func (t *TCB) ID() ThreadID { return t.id }

// State returns the thread's current lifecycle state.
func (t *TCB) State() State { return t.state }

// Kind reports whether this is the idle thread for some core.
func (t *TCB) Kind() Kind { return t.kind }
