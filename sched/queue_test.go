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

	"github.com/stretchr/testify/require"
)

func TestReadyQueueFIFOOrder(t *testing.T) {
	a := &threadArena{}
	q := newReadyQueue(a)

	t1, t2, t3 := a.alloc(), a.alloc(), a.alloc()
	q.pushBack(t1)
	q.pushBack(t2)
	q.pushBack(t3)

	require.Equal(t, 3, q.len())
	require.Same(t, t1, q.popFront())
	require.Same(t, t2, q.popFront())
	require.Same(t, t3, q.popFront())
	require.Nil(t, q.popFront())
	require.Equal(t, 0, q.len())
}

func TestReadyQueuePopFrontClearsMembership(t *testing.T) {
	a := &threadArena{}
	q := newReadyQueue(a)

	t1 := a.alloc()
	q.pushBack(t1)
	require.True(t, t1.onReady)

	q.popFront()
	require.False(t, t1.onReady)
	require.Equal(t, noThread, t1.readyNext)
	require.Equal(t, noThread, t1.readyPrev)
}

func TestTimeoutListOrderedWithTiesBrokenByInsertion(t *testing.T) {
	a := &threadArena{}
	l := newTimeoutList(a)
	base := time.Unix(0, 0)

	late := a.alloc()
	late.wakeupTime = base.Add(2 * time.Second)
	l.insert(late)

	firstAtOneSecond := a.alloc()
	firstAtOneSecond.wakeupTime = base.Add(time.Second)
	l.insert(firstAtOneSecond)

	secondAtOneSecond := a.alloc()
	secondAtOneSecond.wakeupTime = base.Add(time.Second)
	l.insert(secondAtOneSecond)

	require.Same(t, firstAtOneSecond, l.front())

	expired := l.expireBefore(base.Add(time.Second))
	require.Equal(t, []*TCB{firstAtOneSecond, secondAtOneSecond}, expired)
	require.Same(t, late, l.front())

	for _, tcb := range expired {
		require.False(t, tcb.onTimeout)
	}
}

func TestTimeoutListExpireBeforeLeavesLaterEntriesInPlace(t *testing.T) {
	a := &threadArena{}
	l := newTimeoutList(a)
	base := time.Unix(0, 0)

	soon := a.alloc()
	soon.wakeupTime = base.Add(time.Millisecond)
	l.insert(soon)

	later := a.alloc()
	later.wakeupTime = base.Add(time.Hour)
	l.insert(later)

	expired := l.expireBefore(base.Add(time.Second))
	require.Equal(t, []*TCB{soon}, expired)
	require.Same(t, later, l.front())
	require.True(t, later.onTimeout)
}

func TestTimeoutListRemoveUnlinksMidList(t *testing.T) {
	a := &threadArena{}
	l := newTimeoutList(a)
	base := time.Unix(0, 0)

	t1 := a.alloc()
	t1.wakeupTime = base.Add(time.Second)
	t2 := a.alloc()
	t2.wakeupTime = base.Add(2 * time.Second)
	t3 := a.alloc()
	t3.wakeupTime = base.Add(3 * time.Second)
	l.insert(t1)
	l.insert(t2)
	l.insert(t3)

	l.remove(t2)
	require.False(t, t2.onTimeout)

	expired := l.expireBefore(base.Add(3 * time.Second))
	require.Equal(t, []*TCB{t1, t3}, expired)
}

func TestWaitQueueFIFOAndRemove(t *testing.T) {
	a := &threadArena{}
	q := &WaitQueue{arena: a, Channel: WaitChannel{Cause: CauseMutex, Name: "test"}, head: noThread, tail: noThread}
	require.True(t, q.Empty())
	require.Nil(t, q.Front())

	t1, t2 := a.alloc(), a.alloc()
	q.pushBack(t1)
	q.pushBack(t2)

	require.False(t, q.Empty())
	require.Same(t, t1, q.Front())
	require.Same(t, q, t1.waitQueue)

	q.remove(t1)
	require.Nil(t, t1.waitQueue)
	require.Same(t, t2, q.Front())

	q.remove(t2)
	require.True(t, q.Empty())
}
