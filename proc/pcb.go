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

// Package proc is the thin process/thread glue between sched and vfs
// (spec §1: "the process subsystem — specified only where it
// interacts with scheduling and VFS"). It does not implement fork/exec
// or any process-table allocator; it gives sched.TCB.Proc a concrete
// type to point at and gives the VFS syscall surface a root/cwd handle
// pair and a bounded per-process open-file table to operate against.
package proc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/tinyos/tinyos3/sched"
	"github.com/tinyos/tinyos3/vfs"
)

// MaxOpenFiles is the fixed size of a PCB's file-descriptor table: the
// per-process EMFILE ceiling (spec §7 "Resource exhaustion: EMFILE,
// ENFILE..." — ENFILE is vfs.VFS's system-wide semaphore, EMFILE is
// this table filling up).
const MaxOpenFiles = 64

func wrapf(e vfs.Errno, format string, args ...interface{}) error {
	return errors.Wrapf(e, format, args...)
}

// ID is a process identifier. The process table itself is out of
// scope; callers mint IDs however their boot/dispatcher code likes.
type ID int32

// PCB is a process control block: root/cwd Inode handles, a bounded
// FCB table, the set of threads it owns, and just enough of a
// parent/child relationship to express exit(2)/wait(2) as one more
// wait-queue consumer (spec §4.1's wait-queue design, generalized from
// "threads blocked on a mutex" to "parents blocked on a child exit").
type PCB struct {
	mu sync.Mutex

	id   ID
	Root *vfs.Handle
	Cwd  *vfs.Handle

	fcbs   [MaxOpenFiles]*vfs.FCB
	free   []int
	vfsys  *vfs.VFS

	threads []sched.ThreadID

	parent   *PCB
	children map[ID]*PCB

	exited   bool
	exitCode int

	// exitQ is this PCB's own wait queue: children push their exit
	// notice here, and Wait pops it (spec §3.1's CauseJoin).
	exitQ    *sched.WaitQueue
	exitedCh []*PCB // children that have exited but not yet been waited on
}

// New allocates a PCB rooted at root/cwd, with no parent. Use Spawn to
// create children that get a CauseJoin wait queue wired to a parent.
func New(id ID, v *vfs.VFS, root, cwd *vfs.Handle, s *sched.Scheduler) *PCB {
	p := &PCB{
		id:       id,
		Root:     root,
		Cwd:      cwd,
		vfsys:    v,
		children: make(map[ID]*PCB),
	}
	p.exitQ = s.NewWaitQueue(sched.WaitChannel{Cause: sched.CauseJoin, Name: "proc.wait"})
	for i := MaxOpenFiles - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Spawn creates a child PCB under p, inheriting p's root and a caller-
// supplied cwd (a fork(2)-style snapshot, not a live alias).
func (p *PCB) Spawn(id ID, cwd *vfs.Handle, s *sched.Scheduler) *PCB {
	c := New(id, p.vfsys, p.Root, cwd, s)
	p.mu.Lock()
	c.parent = p
	p.children[id] = c
	p.mu.Unlock()
	return c
}

// AddThread records a newly spawned thread as belonging to p.
func (p *PCB) AddThread(t sched.ThreadID) {
	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
}

// AllocFD installs fcb in the first free slot, or fails with EMFILE
// once the table is full.
func (p *PCB) AllocFD(fcb *vfs.FCB) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return -1, wrapf(vfs.EMFILE, "process %d has no free file descriptors", p.id)
	}
	fd := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.fcbs[fd] = fcb
	return fd, nil
}

// FCB returns the FCB installed at fd, or EINVAL if fd is out of range
// or not currently open.
func (p *PCB) FCB(fd int) (*vfs.FCB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || fd >= MaxOpenFiles || p.fcbs[fd] == nil {
		return nil, wrapf(vfs.EINVAL, "fd %d not open", fd)
	}
	return p.fcbs[fd], nil
}

// CloseFD closes the stream behind fd via the owning VFS and returns
// the slot to the free list regardless of the close's own result, so a
// failed close cannot leak a descriptor.
func (p *PCB) CloseFD(fd int) error {
	p.mu.Lock()
	if fd < 0 || fd >= MaxOpenFiles || p.fcbs[fd] == nil {
		p.mu.Unlock()
		return wrapf(vfs.EINVAL, "fd %d not open", fd)
	}
	fcb := p.fcbs[fd]
	p.fcbs[fd] = nil
	p.free = append(p.free, fd)
	p.mu.Unlock()

	return p.vfsys.CloseFCB(fcb)
}

// Exit marks p exited and, if it has a parent, wakes one waiter on the
// parent's exit queue (spec §3.1 CauseJoin). Every still-open FD is
// closed first, mirroring a process image teardown.
func (p *PCB) Exit(s *sched.Scheduler, ccb *sched.CCB, code int) {
	p.mu.Lock()
	for fd := range p.fcbs {
		if p.fcbs[fd] != nil {
			fcb := p.fcbs[fd]
			p.fcbs[fd] = nil
			p.mu.Unlock()
			_ = p.vfsys.CloseFCB(fcb)
			p.mu.Lock()
		}
	}
	p.exited = true
	p.exitCode = code
	parent := p.parent
	p.mu.Unlock()

	if parent == nil {
		return
	}
	parent.mu.Lock()
	parent.exitedCh = append(parent.exitedCh, p)
	parent.mu.Unlock()
	s.Signal(ccb, parent.exitQ)
}

// Wait blocks the calling thread until some child of p has exited, and
// returns that child's id and exit code. ECHILD if p has no children
// at all. Wait holds p.mu across the blocking call itself: sched.Wait
// releases it before parking and re-acquires it on wake, giving the
// exitedCh check Mesa-style monitor semantics (spec §5).
func (p *PCB) Wait(s *sched.Scheduler, ccb *sched.CCB) (ID, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.children) == 0 {
		return 0, 0, wrapf(vfs.ECHILD, "process %d has no children", p.id)
	}

	for len(p.exitedCh) == 0 {
		s.Wait(ccb, p.exitQ, &p.mu, 0)
	}

	child := p.exitedCh[0]
	p.exitedCh = p.exitedCh[1:]
	delete(p.children, child.id)
	return child.id, child.exitCode, nil
}
