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

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/semaphore"
)

// FCB is a per-open-file object: a pinned leaf handle plus the
// driver's stream and method table (spec GLOSSARY "FCB").
type FCB struct {
	Handle *Handle
	Stream Stream
	Flags  OpenFlags
}

// VFS ties the registry, mount table, handle cache, and resolver
// together behind the single coarse monitor lock spec §5 describes
// ("a coarse monitor protects system calls... around a suspension
// point if the call blocks"). openSem enforces the system-wide
// open-file ceiling (ENFILE); a process's own FCB table (owned by
// proc.PCB) enforces its per-process ceiling (EMFILE).
type VFS struct {
	mu syncutil.InvariantMutex

	Registry *Registry
	Table    *MountTable
	Cache    *HandleCache
	Resolver *Resolver

	openSem *semaphore.Weighted
}

// New constructs a VFS with fstype mounted as the root filesystem.
// maxOpenFiles bounds total concurrently open FCBs system-wide.
func New(reg *Registry, fstype, device string, params map[string]string, maxOpenFiles int64) (*VFS, error) {
	table, err := NewMountTable(reg, fstype, device, params)
	if err != nil {
		return nil, err
	}

	v := &VFS{
		Registry: reg,
		Table:    table,
		Cache:    newHandleCache(),
		openSem:  semaphore.NewWeighted(maxOpenFiles),
	}
	v.Resolver = &Resolver{Cache: v.Cache, Table: v.Table}
	v.mu = syncutil.NewInvariantMutex(func() {})
	return v, nil
}

// SetRecorder wires rec to receive handle-cache pin hit/miss events. It
// is not safe to call once the VFS is in concurrent use; boot wires it
// once at startup before starting any scheduler core.
func (v *VFS) SetRecorder(rec Recorder) { v.Cache.rec = rec }

// RootHandle pins and returns the root filesystem's root inode,
// suitable as a process's initial root/cwd.
func (v *VFS) RootHandle() (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Cache.pin(v.Table.Root, v.Table.Root.rootID)
}

// Open implements spec §4.2 "Open semantics".
func (v *VFS) Open(root, cwd *Handle, path string, flags OpenFlags) (*FCB, error) {
	if flags&(OAPPEND|OTRUNC) != 0 && !flags.Writable() {
		return nil, wrapf(EINVAL, "APPEND/TRUNC requires a write-capable mode")
	}

	if !v.openSem.TryAcquire(1) {
		return nil, wrapf(ENFILE, "system-wide open-file limit reached")
	}
	succeeded := false
	defer func() {
		if !succeeded {
			v.openSem.Release(1)
		}
	}()

	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	dir, last, err := v.Resolver.ResolveParent(root, cwd, p)
	if err != nil {
		return nil, err
	}
	if last == "" {
		last = "."
	}

	var leaf *Handle
	if flags&OEXCL != 0 {
		id, cerr := dir.Mount.driver.Create(dir.Mount.state, dir.ID, last, TypeFile)
		if cerr != nil {
			v.Cache.unpin(dir)
			return nil, cerr
		}
		leaf, err = v.Cache.pin(dir.Mount, id)
	} else {
		id, ferr := dir.Mount.driver.Fetch(dir.Mount.state, dir.ID, last, flags&OCREAT != 0)
		if ferr != nil {
			v.Cache.unpin(dir)
			return nil, ferr
		}
		h, perr := v.Cache.pin(dir.Mount, id)
		if perr != nil {
			v.Cache.unpin(dir)
			return nil, perr
		}
		leaf, err = v.Resolver.crossMount(h)
	}
	if err != nil {
		v.Cache.unpin(dir)
		return nil, err
	}
	if uerr := v.Cache.unpin(dir); uerr != nil {
		v.Cache.unpin(leaf)
		return nil, uerr
	}

	if flags&OTRUNC != 0 {
		if terr := leaf.Mount.driver.Truncate(leaf.Mount.state, leaf.ID, 0); terr != nil {
			v.Cache.unpin(leaf)
			return nil, terr
		}
	}

	stream, operr := leaf.Mount.driver.Open(leaf.Mount.state, leaf.ID, flags)
	if operr != nil {
		v.Cache.unpin(leaf)
		return nil, operr
	}

	succeeded = true
	return &FCB{Handle: leaf, Stream: stream, Flags: flags}, nil
}

// CloseFCB closes an FCB previously returned by Open, unpinning its
// handle and releasing its system-wide open-file slot.
func (v *VFS) CloseFCB(f *FCB) error {
	v.mu.Lock()
	err := f.Stream.Close()
	if uerr := v.Cache.unpin(f.Handle); uerr != nil && err == nil {
		err = uerr
	}
	v.mu.Unlock()

	v.openSem.Release(1)
	return err
}

// StatResult is the VFS-level view of a driver Status call, enriched
// with the mount's device id (spec §8 scenario 3: st_dev == dev(M2)).
type StatResult struct {
	Device  uuid.UUID
	InodeID InodeID
	Type    EntityType
	Size    int64
	NLink   int
	Blocks  int64
}

// Stat implements the stat top-level operation (spec §4.2).
func (v *VFS) Stat(root, cwd *Handle, path string) (StatResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := ParsePath(path)
	if err != nil {
		return StatResult{}, err
	}

	leaf, err := v.Resolver.Resolve(root, cwd, p)
	if err != nil {
		return StatResult{}, err
	}

	st, serr := leaf.Mount.driver.Status(leaf.Mount.state, leaf.ID, false)
	dev := leaf.Mount.DeviceID
	if uerr := v.Cache.unpin(leaf); uerr != nil && serr == nil {
		serr = uerr
	}
	if serr != nil {
		return StatResult{}, serr
	}

	return StatResult{
		Device:  dev,
		InodeID: st.InodeID,
		Type:    st.Type,
		Size:    st.Size,
		NLink:   st.NLink,
		Blocks:  st.Blocks,
	}, nil
}

// Link implements the link top-level operation. Cross-mount links are
// forbidden (spec §4.2).
func (v *VFS) Link(root, cwd *Handle, oldpath, newpath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	op, err := ParsePath(oldpath)
	if err != nil {
		return err
	}
	np, err := ParsePath(newpath)
	if err != nil {
		return err
	}

	target, err := v.Resolver.Resolve(root, cwd, op)
	if err != nil {
		return err
	}
	dir, last, err := v.Resolver.ResolveParent(root, cwd, np)
	if err != nil {
		v.Cache.unpin(target)
		return err
	}
	if last == "" {
		v.Cache.unpin(target)
		v.Cache.unpin(dir)
		return wrapf(EEXIST, "link target names a directory")
	}

	if dir.Mount != target.Mount {
		v.Cache.unpin(target)
		v.Cache.unpin(dir)
		return wrapf(EXDEV, "cross-mount link")
	}

	err = dir.Mount.driver.Link(dir.Mount.state, dir.ID, last, target.ID)
	if uerr := v.Cache.unpin(dir); uerr != nil && err == nil {
		err = uerr
	}
	if uerr := v.Cache.unpin(target); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Unlink implements the unlink top-level operation: directories are
// never valid targets (spec §4.2; use Rmdir for those).
func (v *VFS) Unlink(root, cwd *Handle, path string) error {
	return v.removeEntry(root, cwd, path, TypeFile, EISDIR)
}

// Rmdir implements the rmdir top-level operation: only directories are
// valid targets. The emptiness check (dictionary size == 2) is the
// driver's own responsibility inside Unlink (spec §4.3).
func (v *VFS) Rmdir(root, cwd *Handle, path string) error {
	return v.removeEntry(root, cwd, path, TypeDir, ENOTDIR)
}

func (v *VFS) removeEntry(root, cwd *Handle, path string, want EntityType, mismatch Errno) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := ParsePath(path)
	if err != nil {
		return err
	}

	dir, last, err := v.Resolver.ResolveParent(root, cwd, p)
	if err != nil {
		return err
	}
	if last == "" || last == "." || last == ".." {
		v.Cache.unpin(dir)
		return wrapf(EINVAL, "cannot remove %q", path)
	}

	id, ferr := dir.Mount.driver.Fetch(dir.Mount.state, dir.ID, last, false)
	if ferr != nil {
		v.Cache.unpin(dir)
		return ferr
	}
	st, serr := dir.Mount.driver.Status(dir.Mount.state, id, false)
	if serr != nil {
		v.Cache.unpin(dir)
		return serr
	}
	if st.Type != want {
		v.Cache.unpin(dir)
		return wrapf(mismatch, "%q is not the expected entity type", path)
	}

	err = dir.Mount.driver.Unlink(dir.Mount.state, dir.ID, last)
	if uerr := v.Cache.unpin(dir); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Mkdir implements the mkdir top-level operation.
func (v *VFS) Mkdir(root, cwd *Handle, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := ParsePath(path)
	if err != nil {
		return err
	}

	dir, last, err := v.Resolver.ResolveParent(root, cwd, p)
	if err != nil {
		return err
	}
	if last == "" {
		v.Cache.unpin(dir)
		return wrapf(EEXIST, "mkdir target names an existing directory")
	}

	_, cerr := dir.Mount.driver.Create(dir.Mount.state, dir.ID, last, TypeDir)
	if uerr := v.Cache.unpin(dir); uerr != nil && cerr == nil {
		cerr = uerr
	}
	return cerr
}

// Chdir resolves path to a directory handle suitable as a new cwd.
// The caller (proc.PCB) is responsible for unpinning its old cwd.
func (v *VFS) Chdir(root, cwd *Handle, path string) (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	leaf, err := v.Resolver.Resolve(root, cwd, p)
	if err != nil {
		return nil, err
	}

	st, serr := leaf.Mount.driver.Status(leaf.Mount.state, leaf.ID, false)
	if serr != nil {
		v.Cache.unpin(leaf)
		return nil, serr
	}
	if st.Type != TypeDir {
		v.Cache.unpin(leaf)
		return nil, wrapf(ENOTDIR, "%q is not a directory", path)
	}
	return leaf, nil
}

// Getcwd implements spec §4.2 "getcwd reconstructs the absolute path
// by walking upward via .. and each step's Status(..., name=yes)".
func (v *VFS) Getcwd(root, cwd *Handle) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var names []string
	cur := v.Cache.repin(cwd)

	for !(cur.Mount == root.Mount && cur.ID == root.ID) {
		// A mounted filesystem's root has no name of its own; its name
		// is that of the mount-point directory it covers.
		named := cur
		for named.ID == named.Mount.rootID && named.Mount.mountPoint != nil {
			named = named.Mount.mountPoint
		}
		st, err := named.Mount.driver.Status(named.Mount.state, named.ID, true)
		if err != nil {
			v.Cache.unpin(cur)
			return "", err
		}
		names = append(names, st.Name)

		parent, err := v.Resolver.fetch(cur, "..", false)
		if err != nil {
			v.Cache.unpin(cur)
			return "", err
		}
		if uerr := v.Cache.unpin(cur); uerr != nil {
			v.Cache.unpin(parent)
			return "", uerr
		}
		cur = parent
	}
	v.Cache.unpin(cur)

	if len(names) == 0 {
		return "/", nil
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + strings.Join(names, "/"), nil
}

// Mount implements the mount top-level operation (spec §4.2).
func (v *VFS) Mount(fstype, device string, params map[string]string, mountPoint *Handle) (*Mount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Table.Mount(v.Registry, v.Cache, fstype, device, params, mountPoint)
}

// Umount implements the umount top-level operation.
func (v *VFS) Umount(m *Mount) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Table.Unmount(v.Cache, m)
}

// Statfs implements the statfs top-level operation.
func (v *VFS) Statfs(m *Mount) (StatFS, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return m.driver.StatFs(m.state)
}
