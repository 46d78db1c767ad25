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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyos/tinyos3/vfs"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	reg := vfs.NewRegistry()
	reg.Register(NewDriver())
	v, err := vfs.New(reg, "memfs", "", nil, 256)
	require.NoError(t, err)
	return v
}

func TestOpenExclOnExistingIsEEXIST(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/x", vfs.OCREAT|vfs.OEXCL|vfs.ORDWR)
	require.NoError(t, err)
	require.NoError(t, v.CloseFCB(fcb))

	_, err = v.Open(root, root, "/x", vfs.OCREAT|vfs.OEXCL|vfs.ORDWR)
	require.Equal(t, vfs.EEXIST, vfs.Cause(err))
}

func TestDirectoryUnlinkRequiresEmptyENOTEMPTY(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	require.NoError(t, v.Mkdir(root, root, "/d"))
	require.NoError(t, v.Mkdir(root, root, "/d/sub"))

	err = v.Rmdir(root, root, "/d")
	require.Equal(t, vfs.ENOTEMPTY, vfs.Cause(err))

	require.NoError(t, v.Rmdir(root, root, "/d/sub"))
	require.NoError(t, v.Rmdir(root, root, "/d"))
}

func TestUnlinkOnDirectoryIsEISDIR(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	require.NoError(t, v.Mkdir(root, root, "/d"))
	err = v.Unlink(root, root, "/d")
	require.Equal(t, vfs.EISDIR, vfs.Cause(err))
}

func TestRmdirOnFileIsENOTDIR(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/f", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)
	require.NoError(t, v.CloseFCB(fcb))

	err = v.Rmdir(root, root, "/f")
	require.Equal(t, vfs.ENOTDIR, vfs.Cause(err))
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func TestSparseFileReadsZeroFilledGaps(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/sparse", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)

	_, err = fcb.Stream.Seek(int64(2*BlockSize), vfs.SeekSet)
	require.NoError(t, err)
	n, err := fcb.Stream.Write([]byte("tail"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = fcb.Stream.Seek(0, vfs.SeekSet)
	require.NoError(t, err)
	buf := make([]byte, 2*BlockSize+4)
	n, err = fcb.Stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	require.True(t, isAllZero(buf[:2*BlockSize]))
	require.Equal(t, "tail", string(buf[2*BlockSize:]))

	require.NoError(t, v.CloseFCB(fcb))
}

func TestWriteBeyondMaxFileIsEFBIG(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/huge", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)

	_, err = fcb.Stream.Seek(int64(MaxFile), vfs.SeekSet)
	require.NoError(t, err)
	_, err = fcb.Stream.Write([]byte("x"))
	require.Equal(t, vfs.EFBIG, vfs.Cause(err))

	require.NoError(t, v.CloseFCB(fcb))
}

func TestTruncateFreesTrailingBlocks(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/t", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)

	_, err = fcb.Stream.Write(make([]byte, 3*BlockSize))
	require.NoError(t, err)

	ms := fcb.Handle.Mount.State().(*mountState)
	in, err := ms.get(fcb.Handle.ID)
	require.NoError(t, err)
	require.Equal(t, 3, in.blockCount)

	before := ms.usedBlocks
	require.NoError(t, (&Driver{}).Truncate(ms, fcb.Handle.ID, BlockSize))
	require.Equal(t, 1, in.blockCount)
	require.Equal(t, before-2, ms.usedBlocks)
	require.EqualValues(t, BlockSize, in.size)

	require.NoError(t, v.CloseFCB(fcb))
}

func TestFileLinkCountTracksNamesHandlePinsAndOpenStreams(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/a", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)

	ms := fcb.Handle.Mount.State().(*mountState)
	in, err := ms.get(fcb.Handle.ID)
	require.NoError(t, err)
	require.Equal(t, 3, in.links, "1 name + 1 handle-cache pin + 1 open stream")

	require.NoError(t, v.Link(root, root, "/a", "/b"))
	require.Equal(t, 4, in.links, "+1 for the second hard-link name")

	require.NoError(t, v.CloseFCB(fcb))
	require.Equal(t, 2, in.links, "back down to just the two names")

	require.NoError(t, v.Unlink(root, root, "/a"))
	require.Equal(t, 1, in.links)

	require.NoError(t, v.Unlink(root, root, "/b"))
	_, err = ms.get(fcb.Handle.ID)
	require.Equal(t, vfs.ENOENT, vfs.Cause(err), "freed once the last name and the last pin are both gone")
}

func TestLinkRejectsDirectoryTargets(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	require.NoError(t, v.Mkdir(root, root, "/d"))
	err = v.Link(root, root, "/d", "/alias")
	require.Equal(t, vfs.EPERM, vfs.Cause(err))
}

func TestLinkDuplicateNameIsEEXIST(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	fcb, err := v.Open(root, root, "/a", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)
	require.NoError(t, v.CloseFCB(fcb))

	fcb2, err := v.Open(root, root, "/b", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)
	require.NoError(t, v.CloseFCB(fcb2))

	err = v.Link(root, root, "/a", "/b")
	require.Equal(t, vfs.EEXIST, vfs.Cause(err))
}

func TestCrossMountResolutionAndDotDotCrossesBack(t *testing.T) {
	v := newTestVFS(t)
	root, err := v.RootHandle()
	require.NoError(t, err)

	require.NoError(t, v.Mkdir(root, root, "/mnt"))
	mountPoint, err := v.Chdir(root, root, "/mnt")
	require.NoError(t, err)

	_, err = v.Mount("memfs", "", nil, mountPoint)
	require.NoError(t, err)

	// "x" is created inside the CHILD mount's root, not the parent's.
	fcb, err := v.Open(root, root, "/mnt/x", vfs.OCREAT|vfs.ORDWR)
	require.NoError(t, err)
	require.NoError(t, v.CloseFCB(fcb))

	mntSt, err := v.Stat(root, root, "/mnt")
	require.NoError(t, err)

	rootSt, err := v.Stat(root, root, ".")
	require.NoError(t, err)
	require.NotEqual(t, rootSt.Device, mntSt.Device, "stat on a mount point reports the mounted filesystem's root")

	cwd, err := v.Chdir(root, root, "/mnt")
	require.NoError(t, err)
	parent, err := v.Chdir(root, cwd, "..")
	require.NoError(t, err)

	parentSt, err := v.Stat(root, parent, ".")
	require.NoError(t, err)
	require.Equal(t, rootSt.InodeID, parentSt.InodeID, "\"..\" out of a mount root lands back at the mount point's directory")
	require.Equal(t, rootSt.Device, parentSt.Device)
}
