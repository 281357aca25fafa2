// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Entry is a handle to a file or directory of an archive. Entries are small
// values; copies refer to the same entry. An entry that was deleted, or whose
// archive was closed, no longer resolves and its methods fail with ErrDeleted
// or ErrClosed.
type Entry struct {
	a    *Archive
	h    handle
	kind Kind
}

// Dir is an Entry of kind KindDir.
type Dir struct {
	Entry
}

// File is an Entry of kind KindFile.
type File struct {
	Entry
}

func (e Entry) node() (*node, error) {
	if e.a == nil {
		return nil, ErrNotFound
	}
	if err := e.a.checkOpen(); err != nil {
		return nil, err
	}
	n := e.a.nodes.get(e.h)
	if n == nil || n.deleted.Load() {
		return nil, ErrDeleted
	}
	return n, nil
}

// Archive returns the archive holding the entry.
func (e Entry) Archive() *Archive { return e.a }

// Kind returns the kind of the entry.
func (e Entry) Kind() Kind { return e.kind }

// Exists returns true if the entry has not been deleted and its archive is
// open.
func (e Entry) Exists() bool {
	_, err := e.node()
	return err == nil
}

// Name returns the name of the entry, or "" if it no longer exists. The
// root's name is "".
func (e Entry) Name() string {
	n, err := e.node()
	if err != nil {
		return ""
	}
	return n.Name()
}

// Identity returns the identity of the entry.
func (e Entry) Identity() Identity {
	return Identity{Name: e.Name(), Kind: e.kind}
}

// IsRoot returns true if the entry is the root directory.
func (e Entry) IsRoot() bool {
	return e.a != nil && e.h == e.a.root.self
}

// Depth returns the number of directories between the entry and the root;
// the root's depth is 0.
func (e Entry) Depth() (int, error) {
	n, err := e.node()
	if err != nil {
		return 0, err
	}
	return n.depth, nil
}

// Owner returns the directory holding the entry. The root has no owner.
func (e Entry) Owner() (Dir, bool) {
	n, err := e.node()
	if err != nil || !n.owner.valid() {
		return Dir{}, false
	}
	return Dir{Entry{a: e.a, h: n.owner, kind: KindDir}}, true
}

// Path returns the /-separated path of the entry from the root.
func (e Entry) Path() (string, error) {
	n, err := e.node()
	if err != nil {
		return "", err
	}
	return e.a.pathOf(n), nil
}

func (a *Archive) pathOf(n *node) string {
	var names []string
	for n != nil && n.owner.valid() {
		names = append(names, n.Name())
		n = a.nodes.get(n.owner)
	}
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(names[i])
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Length returns the length of a file's content, or the number of bytes of
// a directory's serialized table.
func (e Entry) Length() (int64, error) {
	n, err := e.node()
	if err != nil {
		return 0, err
	}
	if n.file != nil {
		return n.file.length.Load(), nil
	}
	chain, err := e.a.alloc.chain(n.start)
	if err != nil {
		return 0, err
	}
	var length int64
	for _, b := range chain {
		length += b.Used
	}
	return length, nil
}

// Access returns the access a stream may be opened with on the entry: read
// and write, or only read if the archive is read-only. It is zero if the
// entry no longer exists.
func (e Entry) Access() Access {
	if _, err := e.node(); err != nil {
		return 0
	}
	if e.a.opts.ReadOnly {
		return AccessRead
	}
	return AccessReadWrite
}

// AsDir returns the entry as a directory.
func (e Entry) AsDir() (Dir, bool) {
	if e.kind != KindDir {
		return Dir{}, false
	}
	return Dir{e}, true
}

// AsFile returns the entry as a file.
func (e Entry) AsFile() (File, bool) {
	if e.kind != KindFile {
		return File{}, false
	}
	return File{e}, true
}

// Rename changes the name of the entry. It fails with ErrNameConflict if a
// sibling of the same kind already has the name. The root cannot be renamed.
func (e Entry) Rename(name string) error {
	a := e.a
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	n, err := e.node()
	if err != nil {
		return err
	}
	if !n.owner.valid() {
		return errors.Wrap(ErrAccess, "the root directory cannot be renamed")
	}
	owner := a.nodes.get(n.owner)
	if owner == nil {
		return ErrDeleted
	}

	owner.dir.mu.Lock()
	if n.deleted.Load() {
		owner.dir.mu.Unlock()
		return ErrDeleted
	}
	oldName := n.Name()
	oldKey, newKey := nameKey(oldName, n.kind), nameKey(name, n.kind)
	if h, ok := owner.dir.index.Get(newKey); ok && h != n.self {
		owner.dir.mu.Unlock()
		return errors.Wrapf(ErrNameConflict, "%s %q", n.kind, name)
	}
	owner.dir.index.Delete(oldKey)
	owner.dir.index.Put(newKey, n.self)
	n.setName(name)
	a.markDirty(owner)
	owner.dir.mu.Unlock()

	a.paths.Purge()
	a.publish(ChangeRenamed, n, oldName)
	return nil
}

// Delete deletes the entry and, for a directory, everything below it, and
// releases their blocks. It fails with ErrInUse, changing nothing, if the
// entry or any file below it has an open stream. The root cannot be deleted.
func (e Entry) Delete() error {
	a := e.a
	if err := a.checkWritable(); err != nil {
		return err
	}
	n, err := e.node()
	if err != nil {
		return err
	}
	if !n.owner.valid() {
		return errors.Wrap(ErrAccess, "the root directory cannot be deleted")
	}
	owner := a.nodes.get(n.owner)
	if owner == nil {
		return ErrDeleted
	}

	owner.dir.mu.Lock()
	if n.deleted.Load() {
		owner.dir.mu.Unlock()
		return ErrDeleted
	}
	var sub subtree
	if err := a.lockSubtree(n, &sub); err != nil {
		sub.unlock()
		owner.dir.mu.Unlock()
		return err
	}

	var freeErr error
	for _, c := range sub.nodes {
		c.deleted.Store(true)
		if c.dir != nil {
			c.dir.slot.Cancel()
			c.dir.dirty.Store(false)
			c.dir.children = nil
			c.dir.fileCount.Store(0)
			c.dir.dirCount.Store(0)
		}
		if c.file != nil {
			c.file.ranges = nil
		}
		if err := a.alloc.deallocate(c.start); err != nil {
			freeErr = errors.CombineErrors(freeErr, err)
		}
	}
	owner.dir.removeChild(n)
	a.markDirty(owner)
	a.countsChanged(owner)
	sub.unlock()
	owner.dir.mu.Unlock()

	for _, c := range sub.nodes {
		a.publish(ChangeDeleted, c, "")
	}
	for _, c := range sub.nodes {
		a.nodes.release(c.self)
	}
	a.paths.Purge()
	return freeErr
}

// subtree is a locked entry and everything below it, children before their
// directory.
type subtree struct {
	nodes  []*node
	locked []*sync.Mutex
}

func (s *subtree) unlock() {
	for i := len(s.locked) - 1; i >= 0; i-- {
		s.locked[i].Unlock()
	}
	s.locked = nil
}

// lockSubtree locks n and everything below it, loading directories that were
// never loaded. It fails with ErrInUse if a file has an open stream.
func (a *Archive) lockSubtree(n *node, sub *subtree) error {
	if n.file != nil {
		n.file.mu.Lock()
		sub.locked = append(sub.locked, &n.file.mu)
		if len(n.file.streams) > 0 {
			return errors.Wrapf(ErrInUse, "file %q has %d open streams", n.Name(), errors.Safe(len(n.file.streams)))
		}
		sub.nodes = append(sub.nodes, n)
		return nil
	}
	n.dir.mu.Lock()
	sub.locked = append(sub.locked, &n.dir.mu)
	if err := a.ensureLoadedLocked(n); err != nil {
		return err
	}
	for _, h := range n.dir.children {
		c := a.nodes.get(h)
		if c == nil {
			continue
		}
		if err := a.lockSubtree(c, sub); err != nil {
			return err
		}
	}
	sub.nodes = append(sub.nodes, n)
	return nil
}
