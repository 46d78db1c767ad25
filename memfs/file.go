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

// fileStream is the stream object Open returns for a regular file
// (spec §4.3 "Regular-file operations"). One per Open call — each
// open stream contributes independently to its inode's link count
// (spec §8 "Link accounting (memfs FILE)": "+ (# open streams)").
type fileStream struct {
	ms    *mountState
	in    *inode
	flags vfs.OpenFlags
	pos   int64
}

func openFile(ms *mountState, in *inode, flags vfs.OpenFlags) (vfs.Stream, error) {
	ms.busyCount++
	in.links++
	return &fileStream{ms: ms, in: in, flags: flags}, nil
}

// Read implements spec §4.3 "Read(stream, buf, n)": clips the
// transfer to the current file size; unallocated blocks read as
// zero.
func (s *fileStream) Read(buf []byte) (int, error) {
	if !s.flags.Readable() {
		return 0, wrapf(vfs.EINVAL, "stream not open for reading")
	}

	remaining := s.in.size - s.pos
	if remaining <= 0 {
		return 0, nil
	}
	n := int64(len(buf))
	if n > remaining {
		n = remaining
	}

	var done int64
	for done < n {
		off := s.pos + done
		blockIdx := int(off / BlockSize)
		blockOff := int(off % BlockSize)
		chunk := int64(BlockSize - blockOff)
		if chunk > n-done {
			chunk = n - done
		}

		if b := s.in.blocks[blockIdx]; b != nil {
			copy(buf[done:done+chunk], b[blockOff:blockOff+int(chunk)])
		} else {
			for i := int64(0); i < chunk; i++ {
				buf[done+i] = 0
			}
		}
		done += chunk
	}

	s.pos += done
	return int(done), nil
}

// Write implements spec §4.3 "Write(stream, buf, n)": pre-seeks to end
// under APPEND, allocates touched blocks lazily, and extends the file
// size as needed.
func (s *fileStream) Write(buf []byte) (int, error) {
	if !s.flags.Writable() {
		return 0, wrapf(vfs.EINVAL, "stream not open for writing")
	}
	if s.flags&vfs.OAPPEND != 0 {
		s.pos = s.in.size
	}

	n := int64(len(buf))
	if s.pos+n > MaxFile {
		return 0, wrapf(vfs.EFBIG, "write would exceed %d-byte file limit", MaxFile)
	}

	var done int64
	for done < n {
		off := s.pos + done
		blockIdx := int(off / BlockSize)
		blockOff := int(off % BlockSize)
		chunk := int64(BlockSize - blockOff)
		if chunk > n-done {
			chunk = n - done
		}

		if s.in.blocks[blockIdx] == nil {
			s.in.blocks[blockIdx] = &[BlockSize]byte{}
			s.in.blockCount++
			s.ms.usedBlocks++
		}
		copy(s.in.blocks[blockIdx][blockOff:blockOff+int(chunk)], buf[done:done+chunk])
		done += chunk
	}

	s.pos += done
	if s.pos > s.in.size {
		s.in.size = s.pos
	}
	return int(done), nil
}

// Seek implements spec §4.3 "Seek(stream, offset, whence)".
func (s *fileStream) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case vfs.SeekSet:
		base = 0
	case vfs.SeekCur:
		base = s.pos
	case vfs.SeekEnd:
		base = s.in.size
	default:
		return 0, wrapf(vfs.EINVAL, "bad whence %d", whence)
	}

	np := base + offset
	if np < 0 || np > MaxFile {
		return 0, wrapf(vfs.EINVAL, "seek target %d out of range", np)
	}
	s.pos = np
	return np, nil
}

// Close implements spec §4.3 "Close: decrement inode link count
// (possibly freeing it) and mount busy-count; free stream object."
func (s *fileStream) Close() error {
	s.ms.busyCount--
	s.in.links--
	if s.in.links <= 0 && s.in.pins == 0 {
		s.ms.free(s.in)
	}
	return nil
}

// Truncate implements spec §4.3 "Truncate(inode, length)": rejects
// out-of-range lengths, sets the new size, and frees every block at
// index >= ceil(length/BLOCK_SIZE).
func (*Driver) Truncate(state interface{}, id vfs.InodeID, length int64) error {
	ms := state.(*mountState)
	in, err := ms.get(id)
	if err != nil {
		return err
	}
	if in.typ != vfs.TypeFile {
		return wrapf(vfs.EISDIR, "cannot truncate a non-regular-file inode")
	}
	if length < 0 || length > MaxFile {
		return wrapf(vfs.EINVAL, "truncate length %d out of range", length)
	}

	keep := blockCeil(length)
	for i := keep; i < MaxBlocks; i++ {
		if in.blocks[i] != nil {
			in.blocks[i] = nil
			in.blockCount--
			ms.usedBlocks--
		}
	}
	in.size = length
	return nil
}

// Open implements spec §4.3's Open dispatch for both regular files and
// directories (spec "Directory-stream operations" shares the same
// driver-level Open entry point, distinguished by the inode's type).
func (*Driver) Open(state interface{}, id vfs.InodeID, flags vfs.OpenFlags) (vfs.Stream, error) {
	ms := state.(*mountState)
	in, err := ms.get(id)
	if err != nil {
		return nil, err
	}

	switch in.typ {
	case vfs.TypeFile:
		return openFile(ms, in, flags)
	case vfs.TypeDir:
		return openDir(ms, in, flags)
	default:
		return nil, wrapf(vfs.ENXIO, "no stream support for entity type %v", in.typ)
	}
}
