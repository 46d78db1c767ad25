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

// Resolver bundles the handle cache and mount table pathname
// resolution needs to cross mount boundaries and pin/unpin handles
// along the way (spec §4.2 "Pathname resolution").
type Resolver struct {
	Cache *HandleCache
	Table *MountTable
}

// crossMount implements spec §4.2 step 4: after fetching an inode
// whose handle has a mounted back-pointer, unpin it and pin the
// mounted filesystem's root instead. Looping handles a mount stacked
// directly on another mount's root.
func (r *Resolver) crossMount(h *Handle) (*Handle, error) {
	for h.mountedAt != nil {
		m := h.mountedAt
		root, err := r.Cache.pin(m, m.rootID)
		if err != nil {
			return nil, err
		}
		if err := r.Cache.unpin(h); err != nil {
			return nil, err
		}
		h = root
	}
	return h, nil
}

// crossDotDot implements the upward half of spec §4.2 step 4: ".." out
// of the root of a mounted filesystem follows the mount_point link
// into the parent filesystem instead of asking the driver (whose own
// root has no parent of its own).
func (r *Resolver) crossDotDot(h *Handle) (*Handle, error) {
	for h.ID == h.Mount.rootID && h.Mount.mountPoint != nil {
		parent := r.Cache.repin(h.Mount.mountPoint)
		if err := r.Cache.unpin(h); err != nil {
			return nil, err
		}
		h = parent
	}
	return h, nil
}

// fetch is driver Fetch plus the mount-boundary crossings that must
// bracket every component lookup.
func (r *Resolver) fetch(dir *Handle, name string, create bool) (*Handle, error) {
	if name == ".." {
		crossed, err := r.crossDotDot(dir)
		if err != nil {
			return nil, err
		}
		dir = crossed
	}

	id, err := dir.Mount.driver.Fetch(dir.Mount.state, dir.ID, name, create)
	if err != nil {
		return nil, err
	}

	h, err := r.Cache.pin(dir.Mount, id)
	if err != nil {
		return nil, err
	}
	return r.crossMount(h)
}

// Start returns a freshly repinned handle for the walk's starting
// point: root if the path is absolute, cwd otherwise (spec §4.2
// step 1).
func (r *Resolver) Start(root, cwd *Handle, absolute bool) *Handle {
	if absolute {
		return r.Cache.repin(root)
	}
	return r.Cache.repin(cwd)
}

// ResolveParent implements resolve(path, want_last=true) (spec §4.2
// step 3): returns the containing directory's handle, still pinned,
// and the last component's name (empty if the path ended in '/',
// meaning the path names the directory itself).
func (r *Resolver) ResolveParent(root, cwd *Handle, p Path) (dir *Handle, last string, err error) {
	cur := r.Start(root, cwd, p.Absolute)

	if len(p.Components) == 0 {
		return cur, "", nil
	}

	// With a trailing slash the last component is walked too: the path
	// names that directory itself.
	walk := p.Components[:len(p.Components)-1]
	if p.TrailingSlash {
		walk = p.Components
	}
	for i, name := range walk {
		next, ferr := r.fetch(cur, name, false)
		if ferr != nil {
			r.Cache.unpin(cur)
			return nil, "", ferr
		}
		if uerr := r.Cache.unpin(cur); uerr != nil {
			r.Cache.unpin(next)
			return nil, "", uerr
		}
		cur = next
		_ = i
	}

	lastName := p.Components[len(p.Components)-1]
	if p.TrailingSlash {
		return cur, "", nil
	}
	return cur, lastName, nil
}

// Resolve implements resolve(path, want_last=false) (spec §4.2 step
// 3): walks every component, including the last, and returns the leaf
// handle, pinned.
func (r *Resolver) Resolve(root, cwd *Handle, p Path) (*Handle, error) {
	dir, last, err := r.ResolveParent(root, cwd, p)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return dir, nil
	}

	leaf, err := r.fetch(dir, last, false)
	if err != nil {
		r.Cache.unpin(dir)
		return nil, err
	}
	if err := r.Cache.unpin(dir); err != nil {
		r.Cache.unpin(leaf)
		return nil, err
	}
	return leaf, nil
}
