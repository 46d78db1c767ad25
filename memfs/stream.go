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

// dirStream serves a directory opened for reading: a vfs.DirList
// snapshot built once at Open time (spec §4.3 "Directory-stream
// operations"). The directory is pinned for the stream's lifetime and
// unpinned on Close.
type dirStream struct {
	ms   *mountState
	in   *inode
	list *vfs.DirList
}

// openDir implements spec §4.3 "Open on a DIR: reject unless flags ==
// RDONLY. Build a dir_list accumulator, walk dictionary, add each
// name; open for reading. Pin the directory for the stream's
// lifetime."
func openDir(ms *mountState, in *inode, flags vfs.OpenFlags) (vfs.Stream, error) {
	if flags.AccessMode() != vfs.ORDONLY {
		return nil, wrapf(vfs.EINVAL, "directories may only be opened read-only")
	}

	in.pins++
	if in.pins == 1 {
		ms.busyCount++
		in.links++
	}

	list := vfs.NewDirList()
	// Map iteration order is unspecified; the on-wire format (spec §6)
	// only guarantees each entry's bytes, not a listing order.
	for name := range in.entries {
		if err := list.Add(name); err != nil {
			in.pins--
			return nil, err
		}
	}
	list.Open()

	return &dirStream{ms: ms, in: in, list: list}, nil
}

func (s *dirStream) Read(buf []byte) (int, error) { return s.list.Read(buf) }

func (s *dirStream) Write([]byte) (int, error) {
	return 0, wrapf(vfs.EINVAL, "directory streams are read-only")
}

func (s *dirStream) Seek(offset int64, whence int) (int64, error) {
	return s.list.Seek(offset, whence)
}

// Close implements spec §4.3's "...unpin on close."
func (s *dirStream) Close() error {
	s.in.pins--
	if s.in.pins == 0 {
		s.ms.busyCount--
		s.in.links--
		if s.in.links <= 0 {
			s.ms.free(s.in)
		}
	}
	return nil
}
