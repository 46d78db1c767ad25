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

// InodeID is a driver-opaque handle to one filesystem object within a
// single mount (spec §3.2: "treated by the VFS as opaque").
type InodeID uint64

// EntityType discriminates what kind of filesystem entity an InodeID
// names (spec §3.2).
type EntityType int

const (
	TypeDir EntityType = iota
	TypeFile
	TypeDev
)

func (t EntityType) String() string {
	switch t {
	case TypeDir:
		return "DIR"
	case TypeFile:
		return "FILE"
	case TypeDev:
		return "DEV"
	default:
		return "UNKNOWN"
	}
}

// OpenFlags mirrors the POSIX-style open(2) flag bits the core's
// system-call surface accepts (spec §4.2 "Open semantics").
type OpenFlags int

// The low two bits are an access-mode value (not independent bits, to
// match POSIX's O_RDONLY/O_WRONLY/O_RDWR convention); everything above
// that is an independent bit flag.
const (
	ORDONLY OpenFlags = 0
	OWRONLY OpenFlags = 1
	ORDWR   OpenFlags = 2
	accessModeMask OpenFlags = 0x3
)

const (
	OCREAT OpenFlags = 1 << (iota + 2)
	OEXCL
	OTRUNC
	OAPPEND
)

// AccessMode extracts the access-mode value from flags.
func (f OpenFlags) AccessMode() OpenFlags { return f & accessModeMask }

// Readable reports whether flags permit reads.
func (f OpenFlags) Readable() bool { return f.AccessMode() != OWRONLY }

// Writable reports whether flags permit writes.
func (f OpenFlags) Writable() bool { return f.AccessMode() == OWRONLY || f.AccessMode() == ORDWR }

// Whence values for Stream.Seek (spec §4.3).
const (
	SeekSet int = iota
	SeekCur
	SeekEnd
)

// Status is what a driver's Status call fills in for stat(2)/statfs(2)
// style queries (spec §4.2 "getcwd reconstructs... via Status").
type Status struct {
	InodeID InodeID
	Type    EntityType
	Size    int64
	NLink   int
	Blocks  int64
	Name    string // filled in only when the caller asks wantName
}

// StatFS is the per-mount usage summary a driver's StatFs call fills
// in (spec §4.3 "StatFs: fill block and inode counters").
type StatFS struct {
	Blocks, BlocksFree int64
	Inodes, InodesFree int64
}

// Stream is the object a successful Open returns: a driver-specific
// implementation of read/write/seek/close (spec GLOSSARY "FCB").
type Stream interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// FSystem is the driver vtable every concrete filesystem implements
// (spec §3.2): Mount / Unmount / StatFs / Pin / Unpin / Flush /
// Create / Fetch / Open / Link / Unlink / Truncate / Status. Grounded
// on the teacher's FileSystem interface (one method per VFS
// operation, a single opaque per-mount state value threaded through
// every call in place of the teacher's "one *memFS receiver").
type FSystem interface {
	Name() string

	Mount(device string, params map[string]string) (state interface{}, root InodeID, err error)
	Unmount(state interface{}) error
	StatFs(state interface{}) (StatFS, error)

	Pin(state interface{}, id InodeID) error
	Unpin(state interface{}, id InodeID) error
	Flush(state interface{}, id InodeID) error

	Create(state interface{}, dir InodeID, name string, typ EntityType) (InodeID, error)
	Fetch(state interface{}, dir InodeID, name string, create bool) (InodeID, error)
	Open(state interface{}, id InodeID, flags OpenFlags) (Stream, error)
	Link(state interface{}, dir InodeID, name string, id InodeID) error
	Unlink(state interface{}, dir InodeID, name string) error
	Truncate(state interface{}, id InodeID, length int64) error
	Status(state interface{}, id InodeID, wantName bool) (Status, error)
}

// UnimplementedFSystem can be embedded by a driver that only needs a
// subset of FSystem's methods (the devfs registry, for instance,
// never mounts submounts or truncates). Grounded on the teacher's
// NotImplementedFileSystem, narrowed to this vtable's method set.
type UnimplementedFSystem struct{}

func (UnimplementedFSystem) Mount(string, map[string]string) (interface{}, InodeID, error) {
	return nil, 0, wrapf(EINVAL, "mount not supported")
}
func (UnimplementedFSystem) Unmount(interface{}) error { return wrapf(EINVAL, "unmount not supported") }
func (UnimplementedFSystem) StatFs(interface{}) (StatFS, error) {
	return StatFS{}, wrapf(EINVAL, "statfs not supported")
}
func (UnimplementedFSystem) Pin(interface{}, InodeID) error   { return nil }
func (UnimplementedFSystem) Unpin(interface{}, InodeID) error { return nil }
func (UnimplementedFSystem) Flush(interface{}, InodeID) error { return nil }
func (UnimplementedFSystem) Create(interface{}, InodeID, string, EntityType) (InodeID, error) {
	return 0, wrapf(EROFS, "create not supported")
}
func (UnimplementedFSystem) Link(interface{}, InodeID, string, InodeID) error {
	return wrapf(EROFS, "link not supported")
}
func (UnimplementedFSystem) Unlink(interface{}, InodeID, string) error {
	return wrapf(EROFS, "unlink not supported")
}
func (UnimplementedFSystem) Truncate(interface{}, InodeID, int64) error {
	return wrapf(EROFS, "truncate not supported")
}
