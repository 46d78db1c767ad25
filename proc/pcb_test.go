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

package proc

import (
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"github.com/tinyos/tinyos3/bios"
	"github.com/tinyos/tinyos3/memfs"
	"github.com/tinyos/tinyos3/sched"
	"github.com/tinyos/tinyos3/vfs"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	reg := vfs.NewRegistry()
	reg.Register(memfs.NewDriver())
	v, err := vfs.New(reg, "memfs", "", nil, int64(MaxOpenFiles)+8)
	require.NoError(t, err)
	return v
}

func newTestScheduler(t *testing.T) (*sched.Scheduler, *sched.CCB) {
	clock := timeutil.RealClock()
	vm := bios.NewSimVM(1, clock)
	s := sched.New(vm, clock, sched.Config{NumCores: 1, Quantum: 10 * time.Millisecond}, nil, nil)
	return s, s.CCB(0)
}

func TestAllocAndCloseFD(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	s, _ := newTestScheduler(t)
	p := New(1, v, root, root, s)

	fcb, err := v.Open(root, root, "/greeting", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)

	fd, err := p.AllocFD(fcb)
	require.NoError(t, err)
	assert := require.New(t)
	assert.GreaterOrEqual(fd, 0)

	got, err := p.FCB(fd)
	require.NoError(t, err)
	assert.Same(fcb, got)

	require.NoError(t, p.CloseFD(fd))
	_, err = p.FCB(fd)
	assert.Equal(vfs.EINVAL, vfs.Cause(err))
}

func TestAllocFDExhaustionIsEMFILE(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	s, _ := newTestScheduler(t)
	p := New(1, v, root, root, s)

	for i := 0; i < MaxOpenFiles; i++ {
		fcb, err := v.Open(root, root, "/f", vfs.OCREAT|vfs.ORDWR)
		require.NoError(t, err)
		_, err = p.AllocFD(fcb)
		require.NoError(t, err)
	}

	fcb, err := v.Open(root, root, "/f", vfs.ORDWR)
	require.NoError(t, err)
	_, err = p.AllocFD(fcb)
	require.Equal(t, vfs.EMFILE, vfs.Cause(err))
}

func TestExitClosesOpenDescriptors(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	s, ccb := newTestScheduler(t)
	p := New(1, v, root, root, s)

	fcb, err := v.Open(root, root, "/x", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)
	fd, err := p.AllocFD(fcb)
	require.NoError(t, err)

	p.Exit(s, ccb, 0)

	require.True(t, p.exited)
	require.Equal(t, 0, p.exitCode)
	_, err = p.FCB(fd)
	require.Equal(t, vfs.EINVAL, vfs.Cause(err))
}

func TestWaitWithNoChildrenIsECHILD(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	s, ccb := newTestScheduler(t)
	p := New(1, v, root, root, s)

	_, _, err = p.Wait(s, ccb)
	require.Equal(t, vfs.ECHILD, vfs.Cause(err))
}

func TestSpawnExitWaitReapsChild(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	s, ccb := newTestScheduler(t)
	parent := New(1, v, root, root, s)
	child := parent.Spawn(2, root, s)

	child.Exit(s, ccb, 7)

	id, code, err := parent.Wait(s, ccb)
	require.NoError(t, err)
	require.Equal(t, ID(2), id)
	require.Equal(t, 7, code)
}
