// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
)

// registry tracks the names of the archives open in the process. A name is
// reserved before an archive is opened so that two concurrent opens of the
// same name cannot both succeed; the reservation is bound to the archive once
// it is open, and released on close or on a failed open.
var registry struct {
	sync.Mutex
	// archives maps the folded archive name to the archive, or to nil while
	// the name is reserved by an open in progress.
	archives swiss.Map[string, *Archive]
	init     bool
}

func registryKey(name string) string {
	return strings.ToLower(name)
}

func reserveName(name string) error {
	registry.Lock()
	defer registry.Unlock()
	if !registry.init {
		registry.archives.Init(8)
		registry.init = true
	}
	key := registryKey(name)
	if _, ok := registry.archives.Get(key); ok {
		return errors.Wrapf(ErrNameConflict, "archive %q is already open", name)
	}
	registry.archives.Put(key, nil)
	return nil
}

func bindName(name string, a *Archive) {
	registry.Lock()
	defer registry.Unlock()
	registry.archives.Put(registryKey(name), a)
}

func releaseName(name string) {
	registry.Lock()
	defer registry.Unlock()
	registry.archives.Delete(registryKey(name))
}

// OpenArchives returns the names of the archives currently open in the
// process.
func OpenArchives() []string {
	registry.Lock()
	defer registry.Unlock()
	var names []string
	if !registry.init {
		return nil
	}
	registry.archives.All(func(_ string, a *Archive) bool {
		if a != nil {
			names = append(names, a.Name())
		}
		return true
	})
	return names
}
