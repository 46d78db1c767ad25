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
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"github.com/tinyos/tinyos3/bios"
)

// fakeCore and fakeVM are hand-rolled test doubles for bios.Core/bios.VM:
// SimVM's Halt blocks on a real channel, which is the right behavior for
// boot.Kernel but gets in the way of a unit test that wants to inspect
// exactly which core a wakeup restarted without driving a whole Run loop.
type fakeCore struct {
	id       int
	disabled bool
	handlers map[bios.Kind]func()
}

func newFakeCore(id int) *fakeCore {
	return &fakeCore{id: id, handlers: make(map[bios.Kind]func())}
}

func (c *fakeCore) ID() int { return c.id }

func (c *fakeCore) DisableInterrupts() (prev bool) {
	prev = c.disabled
	c.disabled = true
	return
}

func (c *fakeCore) EnableInterrupts()                { c.disabled = false }
func (c *fakeCore) SetTimer(time.Duration)            {}
func (c *fakeCore) CancelTimer() time.Duration        { return 0 }
func (c *fakeCore) Halt()                             {}
func (c *fakeCore) SetInterruptHandler(k bios.Kind, h func()) { c.handlers[k] = h }

type fakeVM struct {
	cores        []*fakeCore
	restarted    []int
	restartedAll bool
}

func newFakeVM(n int) *fakeVM {
	v := &fakeVM{cores: make([]*fakeCore, n)}
	for i := range v.cores {
		v.cores[i] = newFakeCore(i)
	}
	return v
}

func (v *fakeVM) Clock() time.Time         { return time.Unix(0, 0) }
func (v *fakeVM) NumCores() int            { return len(v.cores) }
func (v *fakeVM) Core(id int) bios.Core    { return v.cores[id] }
func (v *fakeVM) ICI(int)                  {}
func (v *fakeVM) RestartOneCore(core int)  { v.restarted = append(v.restarted, core) }
func (v *fakeVM) RestartAllCores()         { v.restartedAll = true }

func newTestScheduler(t *testing.T, numCores int) (*Scheduler, *fakeVM) {
	vm := newFakeVM(numCores)
	var clock timeutil.SimulatedClock
	clock.SetTime(time.Unix(0, 0))
	s := New(vm, &clock, Config{NumCores: numCores, Quantum: 10 * time.Millisecond}, nil, nil)
	return s, vm
}

func TestNewBuildsOneCCBAndIdleThreadPerCore(t *testing.T) {
	s, _ := newTestScheduler(t, 2)

	for i := 0; i < 2; i++ {
		ccb := s.CCB(i)
		require.NotNil(t, ccb)
		require.Same(t, ccb.idle, ccb.current)
		require.Equal(t, KindIdle, ccb.idle.kind)
		require.Equal(t, StateInit, ccb.idle.state)
	}
}

func TestSpawnThreadAllocatesInitTCB(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	ccb := s.CCB(0)

	type fakeProc struct{}
	proc := &fakeProc{}

	tcb := s.SpawnThread(ccb, proc, 4096, func() {})
	require.Equal(t, StateInit, tcb.state)
	require.Equal(t, KindNormal, tcb.kind)
	require.Equal(t, PhaseClean, tcb.phase)
	require.Same(t, proc, tcb.Proc)
	require.EqualValues(t, 1, s.NumActive())
}

func TestWakeupOnInitPushesReadyAndRestartsHaltedCore(t *testing.T) {
	s, vm := newTestScheduler(t, 2)
	ccb0, ccb1 := s.CCB(0), s.CCB(1)

	tcb := s.SpawnThread(ccb0, nil, 0, func() {})
	ccb1.halted.Store(true)

	woke := s.Wakeup(ccb0, tcb)
	require.True(t, woke)
	require.Equal(t, StateReady, tcb.state)
	require.Equal(t, []int{1}, vm.restarted)
}

func TestWakeupOnRunningThreadIsNoop(t *testing.T) {
	s, vm := newTestScheduler(t, 1)
	ccb := s.CCB(0)
	tcb := s.SpawnThread(ccb, nil, 0, func() {})
	tcb.state = StateRunning

	woke := s.Wakeup(ccb, tcb)
	require.False(t, woke)
	require.Equal(t, StateRunning, tcb.state)
	require.Empty(t, vm.restarted)
}

func TestWakeupClearsPendingTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	ccb := s.CCB(0)
	tcb := s.SpawnThread(ccb, nil, 0, func() {})
	tcb.state = StateStopped
	tcb.hasWakeup = true
	tcb.wakeupTime = time.Unix(0, 0).Add(time.Hour)
	s.timeout.insert(tcb)

	require.True(t, s.Wakeup(ccb, tcb))
	require.False(t, tcb.hasWakeup)
	require.False(t, tcb.onTimeout)
	require.Equal(t, StateReady, tcb.state)
}

func TestNewWaitQueueStoresChannelTag(t *testing.T) {
	s, _ := newTestScheduler(t, 1)

	q := s.NewWaitQueue(WaitChannel{Cause: CauseIO, Name: "disk.read"})
	require.Equal(t, CauseIO, q.Channel.Cause)
	require.Equal(t, "disk.read", q.Channel.Name)
	require.True(t, q.Empty())
}

func TestSignalWakesOnlyHeadOfWaitQueueFIFO(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	ccb := s.CCB(0)
	q := s.NewWaitQueue(WaitChannel{Cause: CauseMutex, Name: "test.lock"})

	t1 := s.SpawnThread(ccb, nil, 0, func() {})
	t2 := s.SpawnThread(ccb, nil, 0, func() {})
	t1.state, t2.state = StateStopped, StateStopped
	q.pushBack(t1)
	q.pushBack(t2)

	s.Signal(ccb, q)
	require.Equal(t, StateReady, t1.state)
	require.True(t, t1.signalled)
	require.Equal(t, StateStopped, t2.state)
	require.Same(t, t2, q.Front())

	s.Signal(ccb, q)
	require.Equal(t, StateReady, t2.state)
	require.True(t, q.Empty())
}

func TestBroadcastWakesEveryWaiterOnQueue(t *testing.T) {
	s, _ := newTestScheduler(t, 1)
	ccb := s.CCB(0)
	q := s.NewWaitQueue(WaitChannel{Cause: CausePipe, Name: "test.pipe"})

	threads := make([]*TCB, 3)
	for i := range threads {
		tcb := s.SpawnThread(ccb, nil, 0, func() {})
		tcb.state = StateStopped
		q.pushBack(tcb)
		threads[i] = tcb
	}

	s.Broadcast(ccb, q)
	require.True(t, q.Empty())
	for _, tcb := range threads {
		require.Equal(t, StateReady, tcb.state)
		require.True(t, tcb.signalled)
	}
}

func TestSetPreemptionTogglesInterruptMaskAndReturnsPrevious(t *testing.T) {
	s, vm := newTestScheduler(t, 1)
	ccb := s.CCB(0)
	core := vm.cores[0]

	prev := s.SetPreemption(ccb, true)
	require.False(t, prev)
	require.True(t, ccb.preemptionEnabled)
	require.False(t, core.disabled)

	prev = s.SetPreemption(ccb, false)
	require.True(t, prev)
	require.False(t, ccb.preemptionEnabled)
	require.True(t, core.disabled)
}
