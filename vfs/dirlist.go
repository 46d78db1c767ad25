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

import "fmt"

// DirList is the reusable build-then-read directory listing
// accumulator (spec §4.2 "Directory listing helper"), grounded on the
// teacher's dirent-buffer build-then-read shape (fuseutil's
// AppendDirent into a growable slice, later served as a byte stream)
// but rendered in this kernel's own on-wire format (spec §6): a
// 2-hex-digit ASCII length, the name, then a NUL.
type DirList struct {
	buf  []byte
	pos  int
	open bool
}

// NewDirList starts the build phase.
func NewDirList() *DirList {
	return &DirList{}
}

// Add appends one directory entry during the build phase.
func (d *DirList) Add(name string) error {
	if d.open {
		return wrapf(EINVAL, "dir list already open for reading")
	}
	if len(name) > MaxNameLength {
		return wrapf(ENAMETOOLONG, "entry name %q exceeds %d bytes", name, MaxNameLength)
	}

	d.buf = append(d.buf, []byte(fmt.Sprintf("%02x", len(name)))...)
	d.buf = append(d.buf, name...)
	d.buf = append(d.buf, 0)
	return nil
}

// Open finalizes the buffer and enters the read phase.
func (d *DirList) Open() {
	d.open = true
	d.pos = 0
}

// Read copies from the current position, advancing it, as on any
// fixed-length byte stream.
func (d *DirList) Read(p []byte) (int, error) {
	if !d.open {
		return 0, wrapf(EINVAL, "dir list not open for reading")
	}
	n := copy(p, d.buf[d.pos:])
	d.pos += n
	return n, nil
}

// Seek repositions within the finalized buffer.
func (d *DirList) Seek(offset int64, whence int) (int64, error) {
	if !d.open {
		return 0, wrapf(EINVAL, "dir list not open for reading")
	}

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(d.pos)
	case SeekEnd:
		base = int64(len(d.buf))
	default:
		return 0, wrapf(EINVAL, "bad whence %d", whence)
	}

	np := base + offset
	if np < 0 || np > int64(len(d.buf)) {
		return 0, wrapf(EINVAL, "seek out of range")
	}
	d.pos = int(np)
	return np, nil
}

func (d *DirList) Close() error { return nil }
