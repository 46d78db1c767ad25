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

// Package devfs is the DCB registry (spec §2 "Device / process glue"):
// device drivers themselves (null, clock, serial, info) are out of
// scope, but the plug-in protocol that exposes them as DEV entries in
// the VFS namespace is not. devfs implements just enough of
// vfs.FSystem to mount as a flat directory of published device names.
package devfs

import (
	"github.com/pkg/errors"

	"github.com/tinyos/tinyos3/vfs"
)

type device struct {
	name      string
	id        vfs.InodeID
	pins      int
	retracted bool
}

type mountState struct {
	devices map[string]*device
	byID    map[vfs.InodeID]*device
	nextID  vfs.InodeID
	rootID  vfs.InodeID
	busy    int
}

func wrapf(e vfs.Errno, format string, args ...interface{}) error {
	return errors.Wrapf(e, format, args...)
}

// Driver implements vfs.FSystem for devfs. It embeds
// vfs.UnimplementedFSystem for the subset of the vtable devfs never
// needs (Create/Link/Unlink/Truncate: devfs entries are published and
// retracted, never created or linked through the filesystem surface).
type Driver struct {
	vfs.UnimplementedFSystem
}

func NewDriver() *Driver { return &Driver{} }

func (*Driver) Name() string { return "devfs" }

func (*Driver) Mount(string, map[string]string) (interface{}, vfs.InodeID, error) {
	ms := &mountState{devices: make(map[string]*device), byID: make(map[vfs.InodeID]*device)}
	ms.nextID = 1
	ms.rootID = ms.nextID
	ms.nextID++
	return ms, ms.rootID, nil
}

func (*Driver) Unmount(state interface{}) error {
	ms := state.(*mountState)
	if ms.busy != 0 {
		return wrapf(vfs.EBUSY, "devfs has %d pinned handles", ms.busy)
	}
	return nil
}

func (*Driver) StatFs(state interface{}) (vfs.StatFS, error) {
	ms := state.(*mountState)
	return vfs.StatFS{Inodes: int64(len(ms.devices) + 1), InodesFree: 0}, nil
}

func (*Driver) Pin(state interface{}, id vfs.InodeID) error {
	ms := state.(*mountState)
	if id == ms.rootID {
		ms.busy++
		return nil
	}
	d, ok := ms.byID[id]
	if !ok {
		return wrapf(vfs.ENODEV, "device inode %d no longer exists", id)
	}
	d.pins++
	ms.busy++
	return nil
}

func (*Driver) Unpin(state interface{}, id vfs.InodeID) error {
	ms := state.(*mountState)
	ms.busy--
	if id == ms.rootID {
		return nil
	}
	d, ok := ms.byID[id]
	if !ok {
		return nil
	}
	d.pins--
	if d.pins == 0 && d.retracted {
		delete(ms.byID, id)
	}
	return nil
}

// Fetch resolves one published device name within the devfs root
// directory. devfs has no subdirectories.
func (*Driver) Fetch(state interface{}, dir vfs.InodeID, name string, create bool) (vfs.InodeID, error) {
	ms := state.(*mountState)
	if dir != ms.rootID {
		return 0, wrapf(vfs.ENOTDIR, "devfs has no subdirectories")
	}
	switch name {
	case ".", "..":
		return dir, nil
	}
	d, ok := ms.devices[name]
	if !ok {
		return 0, wrapf(vfs.ENOENT, "device %q not published", name)
	}
	_ = create // devices are published via Publish, never via Fetch(create=true)
	return d.id, nil
}

// Open never returns a usable stream: the actual device drivers
// (null, clock, serial, info) that would back one are explicitly out
// of scope (spec §1) — only their plug-in protocol is implemented
// here.
func (*Driver) Open(state interface{}, id vfs.InodeID, flags vfs.OpenFlags) (vfs.Stream, error) {
	ms := state.(*mountState)
	if id == ms.rootID {
		return nil, wrapf(vfs.EISDIR, "devfs root has no dirent-stream support in this build")
	}
	if _, ok := ms.byID[id]; !ok {
		return nil, wrapf(vfs.ENODEV, "device inode %d no longer exists", id)
	}
	return nil, wrapf(vfs.ENXIO, "device driver bodies are out of scope")
}

func (*Driver) Status(state interface{}, id vfs.InodeID, wantName bool) (vfs.Status, error) {
	ms := state.(*mountState)
	if id == ms.rootID {
		return vfs.Status{InodeID: id, Type: vfs.TypeDir, NLink: 2 + len(ms.devices)}, nil
	}
	d, ok := ms.byID[id]
	if !ok {
		return vfs.Status{}, wrapf(vfs.ENODEV, "device inode %d no longer exists", id)
	}
	st := vfs.Status{InodeID: id, Type: vfs.TypeDev, NLink: 1}
	if wantName {
		st.Name = d.name
	}
	return st, nil
}

// Publish registers a new device name in a mounted devfs instance
// (spec §9 Open Question: publish/retract treated symmetrically).
func (*Driver) Publish(state interface{}, name string) (vfs.InodeID, error) {
	ms := state.(*mountState)
	if _, exists := ms.devices[name]; exists {
		return 0, wrapf(vfs.EEXIST, "device %q already published", name)
	}
	id := ms.nextID
	ms.nextID++
	d := &device{name: name, id: id}
	ms.devices[name] = d
	ms.byID[id] = d
	return id, nil
}

// Retract unpublishes a device name. Existing pinned handles to it
// remain valid (resolved entirely through ms.byID) until their last
// Unpin, but Fetch will no longer resolve the name — the conservative
// reading of the spec's open question on publish/retract symmetry.
func (*Driver) Retract(state interface{}, name string) error {
	ms := state.(*mountState)
	d, ok := ms.devices[name]
	if !ok {
		return wrapf(vfs.ENODEV, "device %q not published", name)
	}
	delete(ms.devices, name)
	d.retracted = true
	if d.pins == 0 {
		delete(ms.byID, d.id)
	}
	return nil
}
