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

import "github.com/google/uuid"

// MountID is a stable index into the mount table's arena (spec §9's
// arena-index recommendation, applied here to break the mount ↔
// mount-point-handle ↔ parent-mount cycle without raw pointers).
type MountID int32

const noMount MountID = -1

// Mount represents one mounted filesystem instance (spec §3.2).
type Mount struct {
	id MountID

	DeviceID uuid.UUID // stamped at Mount time for stat()'s st_dev (spec §8 scenario 3)

	useCount int
	driver   FSystem
	state    interface{}
	device   string
	rootID   InodeID

	// mountPoint is nil for the root mount; otherwise the handle (in
	// the parent mount) this filesystem is mounted on.
	mountPoint *Handle

	parent MountID

	// intrusive doubly-linked submount list, one node per child Mount,
	// owned by the parent (spec §3.2 "intrusive node in the parent's
	// child-mount list").
	childHead, childTail       MountID
	siblingNext, siblingPrev MountID
}

func (m *Mount) ID() MountID    { return m.id }
func (m *Mount) UseCount() int  { return m.useCount }
func (m *Mount) RootID() InodeID { return m.rootID }

// State returns the driver-opaque state Mount threaded through every
// FSystem call. Exported so boot-time code can drive a driver-specific
// side channel (devfs's Publish/Retract) against a mount it just
// created, without the VFS needing a generic escape hatch for it.
func (m *Mount) State() interface{} { return m.state }

type mountArena struct {
	mounts []*Mount
	free   []MountID
}

func (a *mountArena) get(id MountID) *Mount { return a.mounts[id] }

func (a *mountArena) alloc() *Mount {
	m := &Mount{parent: noMount, childHead: noMount, childTail: noMount, siblingNext: noMount, siblingPrev: noMount}
	if n := len(a.free); n != 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		m.id = id
		a.mounts[id] = m
	} else {
		m.id = MountID(len(a.mounts))
		a.mounts = append(a.mounts, m)
	}
	return m
}

func (a *mountArena) release(id MountID) {
	a.mounts[id] = nil
	a.free = append(a.free, id)
}

// Registry is the append-only-before-boot set of compiled-in
// filesystem drivers, grounded on spec §9's replacement for the
// REGISTER_FSYS macro: an explicit step invoked from boot() rather
// than relying on static-initializer order.
type Registry struct {
	drivers map[string]FSystem
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]FSystem)}
}

func (r *Registry) Register(fs FSystem) {
	r.drivers[fs.Name()] = fs
}

func (r *Registry) Lookup(name string) (FSystem, error) {
	fs, ok := r.drivers[name]
	if !ok {
		return nil, wrapf(ENODEV, "no driver registered for %q", name)
	}
	return fs, nil
}

// MountTable owns every live Mount, rooted at Root.
type MountTable struct {
	arena mountArena
	Root  *Mount
}

// Count reports the number of currently active mounts, for the
// mount-count gauge a metrics collector polls.
func (t *MountTable) Count() int {
	n := 0
	for _, m := range t.arena.mounts {
		if m != nil {
			n++
		}
	}
	return n
}

// NewMountTable mounts fstype as the root filesystem (spec §9 "global
// state... singletons created by a top-level boot routine").
func NewMountTable(reg *Registry, fstype, device string, params map[string]string) (*MountTable, error) {
	t := &MountTable{}
	root, err := t.mountSlot(reg, nil, fstype, device, params, nil)
	if err != nil {
		return nil, err
	}
	t.Root = root
	return t, nil
}

func (t *MountTable) mountSlot(reg *Registry, cache *HandleCache, fstype, device string, params map[string]string, mountPoint *Handle) (*Mount, error) {
	driver, err := reg.Lookup(fstype)
	if err != nil {
		return nil, err
	}

	m := t.arena.alloc()
	state, root, err := driver.Mount(device, params)
	if err != nil {
		t.arena.release(m.id)
		return nil, err
	}

	m.driver = driver
	m.state = state
	m.device = device
	m.rootID = root
	m.DeviceID = uuid.New()

	if mountPoint != nil {
		mountPoint.mountedAt = m
		m.mountPoint = cache.repin(mountPoint)
		m.parent = mountPoint.Mount.id
		t.spliceChild(mountPoint.Mount, m)
	}

	return m, nil
}

// Mount implements spec §4.2 mount(device, mount_point, fstype,
// params): find the driver, acquire a slot, call driver Mount, and on
// success splice the new Mount into the parent's submount list.
// mountPoint is nil only for the initial root mount.
func (t *MountTable) Mount(reg *Registry, cache *HandleCache, fstype, device string, params map[string]string, mountPoint *Handle) (*Mount, error) {
	return t.mountSlot(reg, cache, fstype, device, params, mountPoint)
}

func (t *MountTable) spliceChild(parent, child *Mount) {
	child.siblingNext = parent.childHead
	child.siblingPrev = noMount
	if parent.childHead != noMount {
		t.arena.get(parent.childHead).siblingPrev = child.id
	} else {
		parent.childTail = child.id
	}
	parent.childHead = child.id
}

func (t *MountTable) unspliceChild(parent, child *Mount) {
	if child.siblingPrev != noMount {
		t.arena.get(child.siblingPrev).siblingNext = child.siblingNext
	} else {
		parent.childHead = child.siblingNext
	}
	if child.siblingNext != noMount {
		t.arena.get(child.siblingNext).siblingPrev = child.siblingPrev
	} else {
		parent.childTail = child.siblingPrev
	}
	child.siblingNext, child.siblingPrev = noMount, noMount
}

// Unmount implements spec §4.2 umount: the target must be non-busy
// (use_count == 0, no submounts).
func (t *MountTable) Unmount(cache *HandleCache, m *Mount) error {
	if m.useCount != 0 {
		return wrapf(EBUSY, "mount %d has %d live handles", m.id, m.useCount)
	}
	if m.childHead != noMount {
		return wrapf(EBUSY, "mount %d has live submounts", m.id)
	}

	if err := m.driver.Unmount(m.state); err != nil {
		return err
	}

	if m.mountPoint != nil {
		parent := m.mountPoint.Mount
		t.unspliceChild(parent, m)
		m.mountPoint.mountedAt = nil
		if err := cache.unpin(m.mountPoint); err != nil {
			return err
		}
	}

	t.arena.release(m.id)
	return nil
}

// Children returns the live submounts of m, in intrusive-list order.
func (t *MountTable) Children(m *Mount) []*Mount {
	var out []*Mount
	for id := m.childHead; id != noMount; id = t.arena.get(id).siblingNext {
		out = append(out, t.arena.get(id))
	}
	return out
}

// Walk visits every non-free mount slot reachable from the root by
// following submount links exactly once (spec §8 "Mount tree"
// property).
func (t *MountTable) Walk(visit func(*Mount)) {
	var rec func(*Mount)
	rec = func(m *Mount) {
		visit(m)
		for _, c := range t.Children(m) {
			rec(c)
		}
	}
	if t.Root != nil {
		rec(t.Root)
	}
}
