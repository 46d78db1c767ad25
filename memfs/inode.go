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

// Package memfs is the in-memory filesystem driver implementing the
// VFS's FSystem contract end-to-end: directories, regular files with
// sparse block arrays, and link/unlink semantics (spec §4.3).
package memfs

import (
	"github.com/tinyos/tinyos3/vfs"
)

const (
	// BlockSize is the fixed size of one file block (spec §3.3).
	BlockSize = 4096
	// MaxBlocks bounds how many blocks a single regular file may use.
	MaxBlocks = 256
	// MaxFile is the largest a regular file may grow (spec §3.3
	// "MAX_BLOCKS * BLOCK_SIZE").
	MaxFile = MaxBlocks * BlockSize
)

// lifecycleState is the memfs inode lifecycle (spec §4.3 "State
// machine"). It is not stored: state() derives it from links/pins, and
// createEntry uses it to refuse new entries in an unlinked directory.
type lifecycleState int

const (
	stateLiveLinked lifecycleState = iota
	stateLiveUnlinked
	stateFreed
)

// inode is memfs's tagged union discriminated by entity type (spec
// §3.3), grounded on the teacher's samples/memfs/inode.go (same
// pinned-count/link-count bookkeeping, same "children keyed by name"
// shape for directories, same sparse byte-range storage idea for
// files — generalized here from a growable []byte per file to a
// fixed MAX_BLOCKS array of fixed BLOCK_SIZE blocks, per spec §3.3).
type inode struct {
	id   vfs.InodeID
	typ  vfs.EntityType
	pins int
	links int

	// DIR fields.
	name    string // own name, queried by Status(..., wantName) for getcwd
	entries map[string]vfs.InodeID

	// FILE fields.
	size       int64
	blocks     [MaxBlocks]*[BlockSize]byte
	blockCount int
}

func newDirInode(id vfs.InodeID, name string) *inode {
	return &inode{id: id, typ: vfs.TypeDir, name: name, entries: make(map[string]vfs.InodeID)}
}

func newFileInode(id vfs.InodeID) *inode {
	return &inode{id: id, typ: vfs.TypeFile}
}

func (in *inode) state() lifecycleState {
	switch {
	case in.links == 0 && in.pins == 0:
		return stateFreed
	case in.links == 0:
		return stateLiveUnlinked
	default:
		return stateLiveLinked
	}
}

// blockCeil returns the number of blocks needed to hold length bytes.
func blockCeil(length int64) int {
	return int((length + BlockSize - 1) / BlockSize)
}
