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

import "github.com/tinyos/tinyos3/vfs"

// createEntry is the common body of Create and Fetch-with-create
// (spec §4.3 "Create(dir, name, type, data)"): validate, allocate,
// link into dir, and for a new DIR pre-insert "." and "..".
func createEntry(ms *mountState, dirIn *inode, dirID vfs.InodeID, name string, typ vfs.EntityType) (vfs.InodeID, error) {
	if dirIn.typ != vfs.TypeDir {
		return 0, wrapf(vfs.ENOTDIR, "parent %d is not a directory", dirID)
	}
	if dirIn.state() == stateLiveUnlinked {
		return 0, wrapf(vfs.ENOENT, "directory %d has been unlinked", dirID)
	}
	if name == "" {
		return 0, wrapf(vfs.EINVAL, "empty entry name")
	}
	if _, exists := dirIn.entries[name]; exists {
		return 0, wrapf(vfs.EEXIST, "%q already exists", name)
	}

	id := ms.alloc()
	switch typ {
	case vfs.TypeDir:
		child := newDirInode(id, name)
		child.entries["."] = id
		child.entries[".."] = dirID
		child.links = 2
		ms.inodes[id] = child
		dirIn.links++ // spec §3.3: DIR link count = 2 + (# child DIRs) + ...
	case vfs.TypeFile:
		child := newFileInode(id)
		child.links = 1 // spec §4.3 state machine: CREATE -> LIVE_LINKED (links=1)
		ms.inodes[id] = child
	default:
		return 0, wrapf(vfs.EINVAL, "unsupported entity type %v", typ)
	}

	dirIn.entries[name] = id
	return id, nil
}

// Create implements spec §4.3 "Create(dir, name, type, data)".
func (*Driver) Create(state interface{}, dir vfs.InodeID, name string, typ vfs.EntityType) (vfs.InodeID, error) {
	ms := state.(*mountState)
	dirIn, err := ms.get(dir)
	if err != nil {
		return 0, err
	}
	return createEntry(ms, dirIn, dir, name, typ)
}

// Fetch implements spec §4.3 "Fetch(dir, name, create?)": "." and
// ".." are handled directly; otherwise a dictionary lookup, falling
// back to Create(type=FILE) when create is set and the name is
// absent.
func (*Driver) Fetch(state interface{}, dir vfs.InodeID, name string, create bool) (vfs.InodeID, error) {
	ms := state.(*mountState)
	dirIn, err := ms.get(dir)
	if err != nil {
		return 0, err
	}
	if dirIn.typ != vfs.TypeDir {
		return 0, wrapf(vfs.ENOTDIR, "parent %d is not a directory", dir)
	}

	switch name {
	case ".":
		return dir, nil
	case "..":
		id, ok := dirIn.entries[".."]
		if !ok {
			return 0, wrapf(vfs.ENOENT, "directory %d has no parent entry", dir)
		}
		return id, nil
	}

	if id, ok := dirIn.entries[name]; ok {
		return id, nil
	}
	if !create {
		return 0, wrapf(vfs.ENOENT, "%q not found", name)
	}
	return createEntry(ms, dirIn, dir, name, vfs.TypeFile)
}

// Link implements spec §4.3 "Link(dir, name, inode)": only regular
// files may be hard-linked; duplicate names are forbidden.
func (*Driver) Link(state interface{}, dir vfs.InodeID, name string, id vfs.InodeID) error {
	ms := state.(*mountState)
	dirIn, err := ms.get(dir)
	if err != nil {
		return err
	}
	if dirIn.typ != vfs.TypeDir {
		return wrapf(vfs.ENOTDIR, "parent %d is not a directory", dir)
	}
	target, err := ms.get(id)
	if err != nil {
		return err
	}
	if target.typ != vfs.TypeFile {
		return wrapf(vfs.EPERM, "only regular files may be hard-linked")
	}
	if name == "." || name == ".." {
		return wrapf(vfs.EEXIST, "%q is reserved", name)
	}
	if _, exists := dirIn.entries[name]; exists {
		return wrapf(vfs.EEXIST, "%q already exists", name)
	}

	dirIn.entries[name] = id
	target.links++
	return nil
}

// Unlink implements spec §4.3 "Unlink(dir, name)": "." and ".." are
// rejected; a DIR target requires an empty dictionary (only "." and
// "..") before its own two self-entries are removed; otherwise the
// entry is removed and the target's link count decremented, freeing
// it at zero.
func (*Driver) Unlink(state interface{}, dir vfs.InodeID, name string) error {
	ms := state.(*mountState)
	dirIn, err := ms.get(dir)
	if err != nil {
		return err
	}
	if dirIn.typ != vfs.TypeDir {
		return wrapf(vfs.ENOTDIR, "parent %d is not a directory", dir)
	}
	if name == "." || name == ".." {
		return wrapf(vfs.EINVAL, "cannot unlink %q", name)
	}

	id, ok := dirIn.entries[name]
	if !ok {
		return wrapf(vfs.ENOENT, "%q not found", name)
	}
	target, err := ms.get(id)
	if err != nil {
		return err
	}

	if target.typ == vfs.TypeDir {
		if len(target.entries) != 2 {
			return wrapf(vfs.ENOTEMPTY, "directory %q is not empty", name)
		}
		delete(target.entries, ".")
		delete(target.entries, "..")
		target.links-- // its own "." entry
		dirIn.links--  // its ".." back-link to dir
	}

	delete(dirIn.entries, name)
	target.links--
	if target.links <= 0 && target.pins == 0 {
		ms.free(target)
	}
	return nil
}
