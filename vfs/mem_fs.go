// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// NewMem returns a new memory-backed FS implementation. Names are flat: the
// FS has no directories.
func NewMem() *MemFS {
	return &MemFS{files: make(map[string]*memNode)}
}

// NewMemFile returns a memory-backed, read-write File implementation. The
// memory-backed file takes ownership of data.
func NewMemFile(data []byte) File {
	n := &memNode{}
	n.mu.data = data
	n.mu.modTime = time.Now()
	n.refs.Store(1)
	return &memFile{name: "mem", n: n, read: true, write: true}
}

// MemFS implements FS.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memNode
}

var _ FS = (*MemFS)(nil)

// String dumps the names and sizes of the files in the MemFS.
func (y *MemFS) String() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	names := make([]string, 0, len(y.files))
	for name := range y.files {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		n := y.files[name]
		n.mu.Lock()
		fmt.Fprintf(&b, "%s: %d\n", name, len(n.mu.data))
		n.mu.Unlock()
	}
	return b.String()
}

// Create implements FS.Create.
func (y *MemFS) Create(name string) (File, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	n := &memNode{}
	n.mu.modTime = time.Now()
	y.files[name] = n
	n.refs.Add(1)
	return &memFile{name: name, n: n, read: true, write: true}, nil
}

// Open implements FS.Open.
func (y *MemFS) Open(name string) (File, error) {
	return y.open(name, false /* write */)
}

// OpenReadWrite implements FS.OpenReadWrite.
func (y *MemFS) OpenReadWrite(name string) (File, error) {
	y.mu.Lock()
	if _, ok := y.files[name]; !ok {
		n := &memNode{}
		n.mu.modTime = time.Now()
		y.files[name] = n
	}
	y.mu.Unlock()
	return y.open(name, true /* write */)
}

func (y *MemFS) open(name string, write bool) (File, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	n, ok := y.files[name]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: oserror.ErrNotExist}
	}
	n.refs.Add(1)
	return &memFile{name: name, n: n, read: true, write: write}, nil
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(name string) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if _, ok := y.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: oserror.ErrNotExist}
	}
	delete(y.files, name)
	return nil
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(name string) (os.FileInfo, error) {
	y.mu.Lock()
	n, ok := y.files[name]
	y.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: oserror.ErrNotExist}
	}
	return n.stat(name), nil
}

// PathBase implements FS.PathBase.
func (*MemFS) PathBase(p string) string {
	return path.Base(p)
}

// memNode holds the contents of a file.
type memNode struct {
	refs atomic.Int32
	mu   struct {
		sync.Mutex
		data    []byte
		modTime time.Time
	}
}

func (n *memNode) stat(name string) os.FileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{
		name:    path.Base(name),
		size:    int64(len(n.mu.data)),
		modTime: n.mu.modTime,
	}
}

// memFile is a reader or writer of a node's data.
type memFile struct {
	name        string
	n           *memNode
	read, write bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error {
	if n := f.n.refs.Add(-1); n < 0 {
		panic(fmt.Sprintf("blockfs/vfs: close of unopened file: %d", n))
	}
	// Set node pointer to nil, to cause panic on any subsequent method call.
	f.n = nil
	return nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if !f.read {
		return 0, errors.New("blockfs/vfs: file was not opened for reading")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.mu.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.mu.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if !f.write {
		return 0, errors.New("blockfs/vfs: file was not opened for writing")
	}
	if off < 0 {
		return 0, errors.Newf("blockfs/vfs: negative offset %d", off)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.mu.modTime = time.Now()
	if end := int(off) + len(p); end > len(f.n.mu.data) {
		f.n.mu.data = growTo(f.n.mu.data, end)
	}
	copy(f.n.mu.data[off:], p)
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	if !f.write {
		return errors.New("blockfs/vfs: file was not opened for writing")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.mu.modTime = time.Now()
	if int(size) <= len(f.n.mu.data) {
		f.n.mu.data = f.n.mu.data[:size]
		return nil
	}
	f.n.mu.data = growTo(f.n.mu.data, int(size))
	return nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return f.n.stat(f.name), nil
}

func (f *memFile) Sync() error {
	return nil
}

func growTo(data []byte, n int) []byte {
	if n <= cap(data) {
		old := len(data)
		data = data[:n]
		clear(data[old:])
		return data
	}
	grown := make([]byte, n, max(n, 2*cap(data)))
	copy(grown, data)
	return grown
}

// memFileInfo implements os.FileInfo for a memFile.
type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

var _ os.FileInfo = (*memFileInfo)(nil)

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) Mode() os.FileMode  { return 0755 }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() interface{}   { return nil }
