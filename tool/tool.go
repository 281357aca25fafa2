// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// T is the container for all of the introspection tools.
type T struct {
	Commands []*cobra.Command
	archive  *archiveT
	inspect  *inspectT
	bench    *benchT
	opts     blockfs.Options
}

// An Option configures the tools.
type Option func(*T)

// FS sets the filesystem archives are opened on.
func FS(fs vfs.FS) Option {
	return func(t *T) {
		t.opts.FS = fs
	}
}

// Logger sets the logger passed to opened archives.
func Logger(logger blockfs.Logger) Option {
	return func(t *T) {
		t.opts.Logger = logger
	}
}

// EventListener sets the event listener passed to opened archives.
func EventListener(l blockfs.EventListener) Option {
	return func(t *T) {
		t.opts.EventListener = &l
	}
}

// Configure applies fn to the options used to open archives.
func Configure(fn func(*blockfs.Options)) Option {
	return func(t *T) {
		fn(&t.opts)
	}
}

// New creates a new introspection tool.
func New(opts ...Option) *T {
	t := &T{
		opts: blockfs.Options{DirCompression: blockfs.SnappyCompression},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.opts.EnsureDefaults()

	t.archive = newArchive(&t.opts)
	t.inspect = newInspect(&t.opts)
	t.bench = newBench(&t.opts)
	t.Commands = []*cobra.Command{
		t.archive.Root,
		t.inspect.Root,
		t.bench.Root,
	}
	return t
}

// Options returns the options archives are opened with. Changes made before a
// command runs apply to the archives it opens.
func (t *T) Options() *blockfs.Options {
	return &t.opts
}

// openArchive opens the archive at path with a copy of opts. Missing archives
// are only created when create is set.
func openArchive(opts *blockfs.Options, path string, readOnly, create bool) (*blockfs.Archive, error) {
	o := opts.Clone()
	o.ReadOnly = readOnly
	if !create {
		if _, err := o.FS.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "archive %s", path)
		}
	}
	return blockfs.Open(path, o)
}
