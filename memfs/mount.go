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

package memfs

import (
	"github.com/pkg/errors"

	"github.com/tinyos/tinyos3/vfs"
)

// mountState is one mounted memfs instance's private state (spec §3.3
// "memfs mount state"). It is never locked internally: the VFS's
// coarse monitor lock is held by every caller that reaches a driver
// method (spec §5 "handle cache, mount table, inode caches and
// per-driver state are all modified only under this lock").
type mountState struct {
	inodes map[vfs.InodeID]*inode
	nextID vfs.InodeID
	rootID vfs.InodeID

	busyCount  int
	usedBlocks int64
}

func (ms *mountState) get(id vfs.InodeID) (*inode, error) {
	in, ok := ms.inodes[id]
	if !ok {
		return nil, wrapf(vfs.ENOENT, "no such inode %d", id)
	}
	return in, nil
}

func (ms *mountState) alloc() vfs.InodeID {
	id := ms.nextID
	ms.nextID++
	return id
}

// free drops in from the table once its link count and pin count have
// both reached zero (spec §4.3 "State machine": Last Unlink while
// unpinned ⇒ FREED; Last Unpin while LIVE_UNLINKED ⇒ FREED). For a
// freed FILE, every allocated block is released too.
func (ms *mountState) free(in *inode) {
	if in.typ == vfs.TypeFile {
		ms.usedBlocks -= int64(in.blockCount)
	}
	delete(ms.inodes, in.id)
}

// purge recursively frees a directory subtree (spec §4.3 "Unmount:
// ...recursively purge the tree (depth-first free of entries and
// inodes)").
func (ms *mountState) purge(id vfs.InodeID) {
	in, ok := ms.inodes[id]
	if !ok {
		return
	}
	if in.typ == vfs.TypeDir {
		for name, childID := range in.entries {
			if name == "." || name == ".." {
				continue
			}
			ms.purge(childID)
		}
	}
	ms.free(in)
}

// wrapf mirrors vfs's internal error-wrapping helper; memfs is a
// separate package so it cannot reuse vfs's unexported wrapf, but the
// pkg/errors grounding is the same (spec §7's tagged-code taxonomy,
// wrapped with call-site context).
func wrapf(e vfs.Errno, format string, args ...interface{}) error {
	return errors.Wrapf(e, format, args...)
}

// Driver implements vfs.FSystem over an in-memory tree (spec §4.3),
// generalized from the teacher's single-process memFS
// (samples/memfs/fs.go NewMemFS/allocateInode) to the multi-mount
// shape the VFS layer expects: every method is parameterized by the
// opaque per-mount state, so one Driver instance backs every memfs
// mount in the kernel.
type Driver struct{}

// NewDriver constructs the memfs driver singleton registered with the
// VFS's driver registry at boot (spec §9 "explicit registration step
// invoked from boot()").
func NewDriver() *Driver { return &Driver{} }

func (*Driver) Name() string { return "memfs" }

// Mount implements spec §4.3 "Mount: accept only no-device (or device
// id 0); allocate the mount state; build an empty root DIR whose name
// is empty; return pointer."
func (*Driver) Mount(device string, _ map[string]string) (interface{}, vfs.InodeID, error) {
	if device != "" && device != "0" {
		return nil, 0, wrapf(vfs.ENODEV, "memfs accepts no backing device, got %q", device)
	}

	ms := &mountState{inodes: make(map[vfs.InodeID]*inode)}
	ms.nextID = 1
	ms.rootID = ms.alloc()

	root := newDirInode(ms.rootID, "")
	root.entries["."] = root.id
	root.entries[".."] = root.id
	root.links = 2 // spec §3.3: "2 + (number of child DIRs) + (other pinning)"
	ms.inodes[root.id] = root

	return ms, ms.rootID, nil
}

// Unmount implements spec §4.3 "Unmount: fail with EBUSY if
// busy-count != 0; else recursively purge the tree... and deallocate
// the state."
func (*Driver) Unmount(state interface{}) error {
	ms := state.(*mountState)
	if ms.busyCount != 0 {
		return wrapf(vfs.EBUSY, "memfs mount has %d live references", ms.busyCount)
	}
	ms.purge(ms.rootID)
	return nil
}

// StatFs implements spec §4.3 "StatFs: fill block and inode
// counters." Capacity figures are nominal — memfs has no real backing
// store to report usage against.
func (*Driver) StatFs(state interface{}) (vfs.StatFS, error) {
	ms := state.(*mountState)
	const totalBlocks = int64(MaxBlocks) * 1024
	const totalInodes = 1 << 16
	return vfs.StatFS{
		Blocks:     totalBlocks,
		BlocksFree: totalBlocks - ms.usedBlocks,
		Inodes:     totalInodes,
		InodesFree: totalInodes - int64(len(ms.inodes)),
	}, nil
}

// Pin implements spec §4.3 "Pin: bump pinned count on the inode; first
// pin increments mount busy-count and bumps link count by 1."
func (*Driver) Pin(state interface{}, id vfs.InodeID) error {
	ms := state.(*mountState)
	in, err := ms.get(id)
	if err != nil {
		return err
	}
	in.pins++
	if in.pins == 1 {
		ms.busyCount++
		in.links++
	}
	return nil
}

// Unpin implements spec §4.3 "Unpin: decrement; the unpin call
// decrements link count, which may trigger inode free if it drops to
// 0 and no other holders remain."
func (*Driver) Unpin(state interface{}, id vfs.InodeID) error {
	ms := state.(*mountState)
	in, err := ms.get(id)
	if err != nil {
		return err
	}
	in.pins--
	if in.pins == 0 {
		ms.busyCount--
		in.links--
		if in.links <= 0 {
			ms.free(in)
		}
	}
	return nil
}

// Flush is a no-op: memfs never defers writes (spec §1 non-goal:
// disk persistence).
func (*Driver) Flush(interface{}, vfs.InodeID) error { return nil }

// Status implements spec §4.2/§4.3's stat/getcwd support.
func (*Driver) Status(state interface{}, id vfs.InodeID, wantName bool) (vfs.Status, error) {
	ms := state.(*mountState)
	in, err := ms.get(id)
	if err != nil {
		return vfs.Status{}, err
	}

	st := vfs.Status{
		InodeID: in.id,
		Type:    in.typ,
		NLink:   in.links,
	}
	if in.typ == vfs.TypeFile {
		st.Size = in.size
		st.Blocks = int64(in.blockCount)
	}
	if wantName {
		st.Name = in.name
	}
	return st, nil
}
