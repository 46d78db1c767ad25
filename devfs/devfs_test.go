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

package devfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyos/tinyos3/vfs"
)

func mountDevfs(t *testing.T) (*Driver, interface{}, vfs.InodeID) {
	d := NewDriver()
	state, root, err := d.Mount("", nil)
	require.NoError(t, err)
	return d, state, root
}

func TestPublishThenFetch(t *testing.T) {
	d, state, root := mountDevfs(t)

	id, err := d.Publish(state, "null")
	require.NoError(t, err)

	got, err := d.Fetch(state, root, "null", false)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestPublishDuplicateIsEEXIST(t *testing.T) {
	d, state, _ := mountDevfs(t)

	_, err := d.Publish(state, "clock")
	require.NoError(t, err)

	_, err = d.Publish(state, "clock")
	assert.Equal(t, vfs.EEXIST, vfs.Cause(err))
}

func TestFetchUnpublishedIsENOENT(t *testing.T) {
	d, state, root := mountDevfs(t)

	_, err := d.Fetch(state, root, "serial", false)
	assert.Equal(t, vfs.ENOENT, vfs.Cause(err))
}

func TestRetractBlocksNewFetchButPinnedHandleSurvives(t *testing.T) {
	d, state, root := mountDevfs(t)

	id, err := d.Publish(state, "info")
	require.NoError(t, err)
	require.NoError(t, d.Pin(state, id))

	require.NoError(t, d.Retract(state, "info"))

	_, err = d.Fetch(state, root, "info", false)
	assert.Equal(t, vfs.ENOENT, vfs.Cause(err))

	st, err := d.Status(state, id, true)
	require.NoError(t, err)
	assert.Equal(t, "info", st.Name)

	require.NoError(t, d.Unpin(state, id))

	_, err = d.Status(state, id, false)
	assert.Equal(t, vfs.ENODEV, vfs.Cause(err))
}

func TestOpenAlwaysENXIO(t *testing.T) {
	d, state, _ := mountDevfs(t)

	id, err := d.Publish(state, "null")
	require.NoError(t, err)

	_, err = d.Open(state, id, vfs.ORDONLY)
	assert.Equal(t, vfs.ENXIO, vfs.Cause(err))
}

func TestUnmountFailsWhilePinned(t *testing.T) {
	d, state, _ := mountDevfs(t)

	id, err := d.Publish(state, "null")
	require.NoError(t, err)
	require.NoError(t, d.Pin(state, id))

	assert.Equal(t, vfs.EBUSY, vfs.Cause(d.Unmount(state)))

	require.NoError(t, d.Unpin(state, id))
	assert.NoError(t, d.Unmount(state))
}
