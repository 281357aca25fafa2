// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build linux && !arm

package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

func wrapOSFile(f *os.File) File {
	return &linuxFile{File: f, fd: f.Fd()}
}

type linuxFile struct {
	*os.File
	fd uintptr
}

var _ File = (*linuxFile)(nil)

// Sync flushes the file's data and the metadata needed to read it back,
// which includes its size.
func (f *linuxFile) Sync() error {
	return unix.Fdatasync(int(f.fd))
}
