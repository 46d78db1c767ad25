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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirListBuildThenRead(t *testing.T) {
	d := NewDirList()
	require.NoError(t, d.Add("."))
	require.NoError(t, d.Add(".."))
	require.NoError(t, d.Add("etc"))
	d.Open()

	buf := make([]byte, 1024)
	n, err := d.Read(buf)
	require.NoError(t, err)

	want := "01" + "." + "\x00" + "02" + ".." + "\x00" + "03" + "etc" + "\x00"
	require.Equal(t, want, string(buf[:n]))
}

func TestDirListReadBeforeOpenIsEINVAL(t *testing.T) {
	d := NewDirList()
	require.NoError(t, d.Add("x"))

	_, err := d.Read(make([]byte, 16))
	require.Equal(t, EINVAL, Cause(err))
}

func TestDirListAddAfterOpenIsEINVAL(t *testing.T) {
	d := NewDirList()
	require.NoError(t, d.Add("x"))
	d.Open()

	require.Equal(t, EINVAL, Cause(d.Add("y")))
}

func TestDirListAddNameTooLongIsENAMETOOLONG(t *testing.T) {
	d := NewDirList()
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	require.Equal(t, ENAMETOOLONG, Cause(d.Add(string(long))))
}

func TestDirListSeekAndPartialReads(t *testing.T) {
	d := NewDirList()
	require.NoError(t, d.Add("foo"))
	require.NoError(t, d.Add("bar"))
	d.Open()

	first := make([]byte, 4)
	n, err := d.Read(first)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	pos, err := d.Seek(0, SeekCur)
	require.NoError(t, err)
	require.EqualValues(t, 4, pos)

	_, err = d.Seek(0, SeekSet)
	require.NoError(t, err)

	rest := make([]byte, 1024)
	n, err = d.Read(rest)
	require.NoError(t, err)

	want := "03" + "foo" + "\x00" + "03" + "bar" + "\x00"
	require.Equal(t, want, string(rest[:n]))
}

func TestDirListSeekOutOfRangeIsEINVAL(t *testing.T) {
	d := NewDirList()
	require.NoError(t, d.Add("x"))
	d.Open()

	_, err := d.Seek(1000, SeekSet)
	require.Equal(t, EINVAL, Cause(err))
}
