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

import "strings"

const (
	// MaxPathname is the longest pathname the core accepts (spec §3.2/§6).
	MaxPathname = 512
	// MaxNameLength bounds a single path component (spec §3.2 dirent
	// payload bound / §6).
	MaxNameLength = 31
	// MaxDepth bounds the number of components in a resolved path.
	MaxDepth = 12
)

// Path is a parsed pathname: the ordered, non-empty components between
// slashes, whether the original started with '/', and whether it
// ended with a significant trailing '/' (spec §4.2 "Pathname
// resolution" parse rules).
type Path struct {
	Components []string
	Absolute   bool
	TrailingSlash bool
}

// ParsePath validates and parses path per spec §4.2/§6: non-empty,
// ≤ MaxPathname bytes; absolute iff it starts with '/'; components
// separated by '/'; empty components (from consecutive slashes) are
// skipped; a trailing '/' is significant.
func ParsePath(path string) (Path, error) {
	if len(path) == 0 {
		return Path{}, wrapf(EINVAL, "empty path")
	}
	if len(path) > MaxPathname {
		return Path{}, wrapf(ENAMETOOLONG, "path exceeds %d bytes", MaxPathname)
	}

	p := Path{Absolute: strings.HasPrefix(path, "/")}
	p.TrailingSlash = strings.HasSuffix(path, "/") && path != "/"

	for _, c := range strings.Split(path, "/") {
		if c == "" {
			continue
		}
		p.Components = append(p.Components, c)
	}

	if len(p.Components) > MaxDepth {
		return Path{}, wrapf(EINVAL, "path depth exceeds %d", MaxDepth)
	}
	for _, c := range p.Components {
		if len(c) > MaxNameLength {
			return Path{}, wrapf(ENAMETOOLONG, "component %q exceeds %d bytes", c, MaxNameLength)
		}
	}

	return p, nil
}

// RenderPath reproduces the canonical string form of p: a leading
// slash iff absolute, consecutive slashes collapsed (guaranteed by
// construction since Components never contains empty strings), and a
// significant trailing slash rendered as an explicit "." component
// (spec §8 round-trip property).
func RenderPath(p Path) string {
	comps := p.Components
	if p.TrailingSlash {
		comps = append(append([]string{}, comps...), ".")
	}

	var b strings.Builder
	if p.Absolute {
		b.WriteByte('/')
	}
	for i, c := range comps {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(c)
	}
	if b.Len() == 0 {
		b.WriteByte('.')
	}
	return b.String()
}
