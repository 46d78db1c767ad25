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

package vfs

import "github.com/jacobsa/syncutil"

// Handle is a cached (mount, inode-id) reference with a pin-count
// (spec §3.2 "Inode handle"). At most one Handle exists per (mount,
// id) while its pin-count is positive.
type Handle struct {
	Mount *Mount
	ID    InodeID

	pins int

	// mountedAt is the child Mount whose mount-point is this handle, or
	// nil. Set by MountTable.Mount, cleared by MountTable.Unmount.
	mountedAt *Mount
}

type handleKey struct {
	mount *Mount
	id    InodeID
}

// Recorder receives handle-cache events for metrics export. A nil
// Recorder (via noopRecorder) is always safe to call, mirroring
// sched.Recorder's shape.
type Recorder interface {
	PinHit()
	PinMiss()
}

type noopRecorder struct{}

func (noopRecorder) PinHit()  {}
func (noopRecorder) PinMiss() {}

// HandleCache is the process-wide (mount, inode-id) → Handle
// dictionary (spec §4.2 "Handle cache"), generalized from the
// teacher's single-filesystem `fs.inodes`/`fs.handles` lookup-or-create
// shape (samples/memfs/fs.go getInodeForReadingOrDie/allocateInode) to
// a cache keyed across every mounted filesystem at once. Guarded by
// the same lock the rest of VFS state uses (spec §4.2 "single-threaded
// structure protected by the global kernel lock").
type HandleCache struct {
	mu      syncutil.InvariantMutex
	handles map[handleKey]*Handle
	rec     Recorder
}

func newHandleCache() *HandleCache {
	c := &HandleCache{handles: make(map[handleKey]*Handle), rec: noopRecorder{}}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *HandleCache) checkInvariants() {
	for k, h := range c.handles {
		if h.pins <= 0 {
			panic("vfs: cached handle with non-positive pin count")
		}
		if k.mount != h.Mount || k.id != h.ID {
			panic("vfs: handle cache key/value mismatch")
		}
	}
}

// pin implements spec §4.2 pin(mount, id): lookup; if found, bump
// pin-count; else allocate a handle, invoke the driver's Pin, and on
// success insert it and bump the mount's use-count.
func (c *HandleCache) pin(m *Mount, id InodeID) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := handleKey{m, id}
	if h, ok := c.handles[key]; ok {
		h.pins++
		c.rec.PinHit()
		return h, nil
	}

	if err := m.driver.Pin(m.state, id); err != nil {
		return nil, err
	}

	h := &Handle{Mount: m, ID: id, pins: 1}
	c.handles[key] = h
	m.useCount++
	c.rec.PinMiss()
	return h, nil
}

// repin implements spec §4.2 repin(handle): pin-count++.
func (c *HandleCache) repin(h *Handle) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h.pins++
	return h
}

// unpin implements spec §4.2 unpin(handle): pin-count--; at zero,
// remove from the dictionary, decrement the mount's use-count, invoke
// the driver's Unpin, and return the driver's status.
func (c *HandleCache) unpin(h *Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h.pins--
	if h.pins > 0 {
		return nil
	}

	delete(c.handles, handleKey{h.Mount, h.ID})
	h.Mount.useCount--
	return h.Mount.driver.Unpin(h.Mount.state, h.ID)
}
