// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// SplitPath splits a /-separated path into its names, dropping empty
// elements. The root is the empty path.
func SplitPath(path string) []string {
	var names []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			names = append(names, s)
		}
	}
	return names
}

// Lookup resolves a /-separated path relative to the root. Every element but
// the last must name a directory; the last names a file or, if there is no
// such file, a directory. Resolved paths are cached until an entry is
// deleted or renamed.
func (a *Archive) Lookup(path string) (Entry, error) {
	if err := a.checkOpen(); err != nil {
		return Entry{}, err
	}
	names := SplitPath(path)
	if len(names) == 0 {
		return a.Root().Entry, nil
	}
	key := strings.ToLower(strings.Join(names, "/"))
	if h, ok := a.paths.Get(key); ok {
		if n := a.nodes.get(h); n != nil && !n.deleted.Load() {
			return Entry{a: a, h: h, kind: n.kind}, nil
		}
		a.paths.Remove(key)
	}

	d := a.Root()
	for i, name := range names[:len(names)-1] {
		next, err := d.Dir(name)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "resolving %q", strings.Join(names[:i+1], "/"))
		}
		d = next
	}
	e, err := d.Lookup(names[len(names)-1])
	if err != nil {
		return Entry{}, errors.Wrapf(err, "resolving %q", path)
	}
	a.paths.Add(key, e.h)
	return e, nil
}

// LookupDir resolves a path that must name a directory.
func (a *Archive) LookupDir(path string) (Dir, error) {
	names := SplitPath(path)
	if len(names) == 0 {
		if err := a.checkOpen(); err != nil {
			return Dir{}, err
		}
		return a.Root(), nil
	}
	d := a.Root()
	for _, name := range names {
		next, err := d.Dir(name)
		if err != nil {
			return Dir{}, errors.Wrapf(err, "resolving %q", path)
		}
		d = next
	}
	return d, nil
}

// MkdirAll creates the directories of a path that do not exist.
func (a *Archive) MkdirAll(path string) (Dir, error) {
	d := a.Root()
	for _, name := range SplitPath(path) {
		next, err := d.Dir(name)
		if errors.Is(err, ErrNotFound) {
			next, err = d.CreateDir(name)
		}
		if err != nil {
			return Dir{}, err
		}
		d = next
	}
	return d, nil
}
