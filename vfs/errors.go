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
	"github.com/pkg/errors"
)

// Errno is one of the standard POSIX-style tags the core returns from
// every VFS entry point (spec §6/§7). It implements error directly so
// it can be wrapped with pkg/errors and recovered with errors.Cause.
type Errno int

const (
	EINVAL Errno = iota + 1
	ENOENT
	ENOTDIR
	EISDIR
	EEXIST
	ENOTEMPTY
	EBUSY
	ENXIO
	ENODEV
	EXDEV
	ENAMETOOLONG
	EROFS
	EPERM
	EIO
	EMFILE
	ENFILE
	ENOMEM
	EFBIG
	ERANGE
	EAGAIN
	ESRCH
	ECHILD
	ENOSPC
)

var errnoNames = map[Errno]string{
	EINVAL:       "EINVAL",
	ENOENT:       "ENOENT",
	ENOTDIR:      "ENOTDIR",
	EISDIR:       "EISDIR",
	EEXIST:       "EEXIST",
	ENOTEMPTY:    "ENOTEMPTY",
	EBUSY:        "EBUSY",
	ENXIO:        "ENXIO",
	ENODEV:       "ENODEV",
	EXDEV:        "EXDEV",
	ENAMETOOLONG: "ENAMETOOLONG",
	EROFS:        "EROFS",
	EPERM:        "EPERM",
	EIO:          "EIO",
	EMFILE:       "EMFILE",
	ENFILE:       "ENFILE",
	ENOMEM:       "ENOMEM",
	EFBIG:        "EFBIG",
	ERANGE:       "ERANGE",
	EAGAIN:       "EAGAIN",
	ESRCH:        "ESRCH",
	ECHILD:       "ECHILD",
	ENOSPC:       "ENOSPC",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "EUNKNOWN"
}

// wrapf attaches call-site context to an Errno while keeping it
// recoverable via errors.Cause/vfs.Cause, mirroring the teacher's use
// of pkg/errors to annotate FUSE op failures without losing the
// underlying errno.
func wrapf(e Errno, format string, args ...interface{}) error {
	return errors.Wrapf(e, format, args...)
}

// Cause recovers the Errno at the root of err, defaulting to EIO for
// errors that did not originate as an Errno (e.g. a driver bug).
func Cause(err error) Errno {
	if err == nil {
		return 0
	}
	if e, ok := errors.Cause(err).(Errno); ok {
		return e
	}
	return EIO
}
