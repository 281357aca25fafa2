// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"math/rand/v2"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrorFSMode is a bit field specifying the operation types for which error
// injection is enabled.
type ErrorFSMode int

// ErrInjected is the error returned for injected failures.
var ErrInjected = errors.New("injected error")

const (
	// ErrorFSRead enables errors for read operations.
	ErrorFSRead ErrorFSMode = 0x1
	// ErrorFSWrite enables errors for write, truncate and sync operations.
	ErrorFSWrite ErrorFSMode = 0x2
)

// ErrorInjector decides whether an operation fails.
type ErrorInjector struct {
	// Index, when non-nil, is decremented on every eligible operation; the
	// operation that takes it from 0 to -1 fails.
	Index *atomic.Int32
	// Prob is the probability with which any eligible operation fails.
	Prob float64
	// Mode selects the eligible operations.
	Mode ErrorFSMode
}

func (e *ErrorInjector) maybeError(mode ErrorFSMode) error {
	if e.Mode&mode == 0 {
		return nil
	}
	if e.Index != nil && e.Index.Add(-1) == -1 {
		return ErrInjected
	}
	if e.Prob > 0.0 && rand.Float64() < e.Prob {
		return ErrInjected
	}
	return nil
}

// NewErrorFS returns a new FS implementation that wraps another FS and injects
// errors into the operations of the files it opens.
func NewErrorFS(inj *ErrorInjector, fs FS) FS {
	return &errorFS{FS: fs, inj: inj}
}

// NewErrorFile wraps a single file.
func NewErrorFile(inj *ErrorInjector, f File) File {
	return errorFile{file: f, inj: inj}
}

type errorFS struct {
	FS
	inj *ErrorInjector
}

func (fs *errorFS) Create(name string) (File, error) {
	if err := fs.inj.maybeError(ErrorFSWrite); err != nil {
		return nil, err
	}
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs.inj}, nil
}

func (fs *errorFS) Open(name string) (File, error) {
	if err := fs.inj.maybeError(ErrorFSRead); err != nil {
		return nil, err
	}
	f, err := fs.FS.Open(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs.inj}, nil
}

func (fs *errorFS) OpenReadWrite(name string) (File, error) {
	if err := fs.inj.maybeError(ErrorFSRead); err != nil {
		return nil, err
	}
	f, err := fs.FS.OpenReadWrite(name)
	if err != nil {
		return nil, err
	}
	return errorFile{f, fs.inj}, nil
}

func (fs *errorFS) Remove(name string) error {
	if err := fs.inj.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return fs.FS.Remove(name)
}

type errorFile struct {
	file File
	inj  *ErrorInjector
}

func (f errorFile) Close() error {
	// We don't inject errors during close as those calls should never fail in
	// practice.
	return f.file.Close()
}

func (f errorFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.inj.maybeError(ErrorFSRead); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

func (f errorFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.inj.maybeError(ErrorFSWrite); err != nil {
		return 0, err
	}
	return f.file.WriteAt(p, off)
}

func (f errorFile) Truncate(size int64) error {
	if err := f.inj.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return f.file.Truncate(size)
}

func (f errorFile) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

func (f errorFile) Sync() error {
	if err := f.inj.maybeError(ErrorFSWrite); err != nil {
		return err
	}
	return f.file.Sync()
}
