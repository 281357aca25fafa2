// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"slices"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/blocktable"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/errors"
)

// CreateFile creates an empty file in the directory.
func (d Dir) CreateFile(name string) (File, error) {
	e, err := d.create(name, KindFile)
	return File{e}, err
}

// CreateDir creates an empty directory in the directory.
func (d Dir) CreateDir(name string) (Dir, error) {
	e, err := d.create(name, KindDir)
	return Dir{e}, err
}

func (d Dir) create(name string, kind Kind) (Entry, error) {
	a := d.a
	if err := a.checkWritable(); err != nil {
		return Entry{}, err
	}
	if err := ValidateName(name); err != nil {
		return Entry{}, err
	}
	n, err := d.node()
	if err != nil {
		return Entry{}, err
	}

	n.dir.mu.Lock()
	if n.deleted.Load() {
		n.dir.mu.Unlock()
		return Entry{}, ErrDeleted
	}
	if err := a.ensureLoadedLocked(n); err != nil {
		n.dir.mu.Unlock()
		return Entry{}, err
	}
	if _, ok := n.dir.index.Get(nameKey(name, kind)); ok {
		n.dir.mu.Unlock()
		return Entry{}, errors.Wrapf(ErrNameConflict, "%s %q", kind, name)
	}
	// A new file shadows a directory of the same name in Lookup.
	_, shadows := n.dir.index.Get(nameKey(name, KindDir))
	shadows = shadows && kind == KindFile
	var child *node
	var grew bool
	if kind == KindFile {
		var b blocktable.BTE
		b, grew = a.alloc.getEmpty(base.BlockTypeBinary, a.opts.BlockLength)
		child = newFileNode(name, n, b.ID, 0)
	} else {
		var b blocktable.BTE
		b, grew = a.alloc.getEmpty(base.BlockTypeFileTable, a.opts.BlockLength)
		child = newDirNode(name, n, b.ID, 0, 0)
		// The new block has no used bytes, which reads back as an empty
		// table.
		child.dir.loaded = true
	}
	a.nodes.alloc(child)
	n.dir.addChild(child)
	a.markDirty(n)
	a.countsChanged(n)
	n.dir.mu.Unlock()

	if grew {
		a.blocksGrew()
	}
	if shadows {
		a.paths.Purge()
	}
	a.publish(ChangeCreated, child, "")
	return Entry{a: a, h: child.self, kind: kind}, nil
}

// Children returns the entries of the directory: every file, then every
// directory, each in creation order.
func (d Dir) Children() ([]Entry, error) {
	n, err := d.node()
	if err != nil {
		return nil, err
	}
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	if err := d.a.ensureLoadedLocked(n); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(n.dir.children))
	for _, h := range n.dir.children {
		if c := d.a.nodes.get(h); c != nil {
			entries = append(entries, Entry{a: d.a, h: h, kind: c.kind})
		}
	}
	slices.SortStableFunc(entries, func(x, y Entry) int {
		// Files before directories.
		return int(x.kind) - int(y.kind)
	})
	return entries, nil
}

// Child returns the child with the given name and kind. Names are compared
// ignoring case.
func (d Dir) Child(name string, kind Kind) (Entry, error) {
	n, err := d.node()
	if err != nil {
		return Entry{}, err
	}
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	if err := d.a.ensureLoadedLocked(n); err != nil {
		return Entry{}, err
	}
	h, ok := n.dir.index.Get(nameKey(name, kind))
	if !ok {
		return Entry{}, errors.Wrapf(ErrNotFound, "%s %q", kind, name)
	}
	return Entry{a: d.a, h: h, kind: kind}, nil
}

// Lookup returns the child with the given name, preferring a file over a
// directory of the same name.
func (d Dir) Lookup(name string) (Entry, error) {
	e, err := d.Child(name, KindFile)
	if errors.Is(err, ErrNotFound) {
		return d.Child(name, KindDir)
	}
	return e, err
}

// File returns the file child with the given name.
func (d Dir) File(name string) (File, error) {
	e, err := d.Child(name, KindFile)
	return File{e}, err
}

// Dir returns the directory child with the given name.
func (d Dir) Dir(name string) (Dir, error) {
	e, err := d.Child(name, KindDir)
	return Dir{e}, err
}

// FileCount returns the number of files in the directory. It does not load
// the directory.
func (d Dir) FileCount() (int, error) {
	n, err := d.node()
	if err != nil {
		return 0, err
	}
	return int(n.dir.fileCount.Load()), nil
}

// DirCount returns the number of directories in the directory. It does not
// load the directory.
func (d Dir) DirCount() (int, error) {
	n, err := d.node()
	if err != nil {
		return 0, err
	}
	return int(n.dir.dirCount.Load()), nil
}

// Loaded returns true if the directory's children have been read.
func (d Dir) Loaded() bool {
	n, err := d.node()
	if err != nil {
		return false
	}
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	return n.dir.loaded
}

func (s *dirState) addChild(c *node) {
	s.children = append(s.children, c.self)
	s.index.Put(c.identity().key(), c.self)
	if c.kind == KindFile {
		s.fileCount.Add(1)
	} else {
		s.dirCount.Add(1)
	}
}

func (s *dirState) removeChild(c *node) {
	if i := slices.Index(s.children, c.self); i >= 0 {
		s.children = slices.Delete(s.children, i, i+1)
	}
	s.index.Delete(c.identity().key())
	if c.kind == KindFile {
		s.fileCount.Add(-1)
	} else {
		s.dirCount.Add(-1)
	}
}

// markDirty records that n's table is stale and schedules a flush of it.
func (a *Archive) markDirty(n *node) {
	n.dir.dirty.Store(true)
	if a.opts.ReadOnly || a.opts.private.disableBackgroundFlush {
		return
	}
	n.dir.slot.Schedule(a.sched, "flush", func(ctx context.Context) error {
		return a.flushDir(ctx, n, false /* parallel */)
	})
}

// countsChanged is called after the file or directory count of n changed.
// The counts are stored in the owner's table, or in the header for the
// root.
func (a *Archive) countsChanged(n *node) {
	if !n.owner.valid() {
		a.writeFileHeader()
		return
	}
	if o := a.nodes.get(n.owner); o != nil {
		a.markDirty(o)
	}
}

// readChain reads the used bytes of every block of the chain starting at
// start.
func (a *Archive) readChain(ctx context.Context, start base.BlockID) ([]byte, error) {
	chain, err := a.alloc.chain(start)
	if err != nil {
		return nil, err
	}
	var size int64
	for _, b := range chain {
		size += b.Used
	}
	buf := make([]byte, size)
	hs := make([]*ioqueue.Handle, 0, len(chain))
	var off int64
	for _, b := range chain {
		if b.Used == 0 {
			continue
		}
		hs = append(hs, a.queue.Read(ioqueue.At(b.Start), buf[off:off+b.Used]))
		off += b.Used
	}
	for _, h := range hs {
		if err := h.Wait(ctx); err != nil {
			return nil, errors.Wrapf(err, "blockfs: reading chain %s", start)
		}
	}
	a.stats.bytesRead.Add(size)
	return buf, nil
}

// ensureLoadedLocked reads the children of n if they have not been read.
// n.dir.mu must be held.
func (a *Archive) ensureLoadedLocked(n *node) error {
	if n.dir.loaded {
		return nil
	}
	buf, err := a.readChain(context.Background(), n.start)
	if err != nil {
		return err
	}
	t, err := decodeDirTable(buf)
	if err != nil {
		return errors.Wrapf(err, "blockfs: directory %q", a.pathOf(n))
	}
	if err := a.checkTableChains(&t); err != nil {
		return errors.Wrapf(err, "blockfs: directory %q", a.pathOf(n))
	}

	var children []*node
	seen := make(map[string]struct{}, len(t.Files)+len(t.Dirs))
	addChild := func(c *node) error {
		key := c.identity().key()
		if _, ok := seen[key]; ok {
			return base.CorruptionErrorf("blockfs: directory %q lists %s %q twice", a.pathOf(n), c.kind, c.Name())
		}
		seen[key] = struct{}{}
		children = append(children, c)
		return nil
	}
	for _, f := range t.Files {
		if err := addChild(newFileNode(f.Name, n, f.Start, f.Length)); err != nil {
			return err
		}
	}
	for _, d := range t.Dirs {
		if err := addChild(newDirNode(d.Name, n, d.Start, d.FileCount, d.DirCount)); err != nil {
			return err
		}
	}
	if files, dirs := int32(len(t.Files)), int32(len(t.Dirs)); files != n.dir.fileCount.Load() || dirs != n.dir.dirCount.Load() {
		a.opts.Logger.Infof("blockfs: directory %q holds %d files and %d dirs, recorded %d and %d",
			a.pathOf(n), files, dirs, n.dir.fileCount.Load(), n.dir.dirCount.Load())
	}
	n.dir.fileCount.Store(0)
	n.dir.dirCount.Store(0)
	for _, c := range children {
		a.nodes.alloc(c)
		n.dir.addChild(c)
	}
	n.dir.loaded = true
	a.stats.dirLoads.Add(1)
	return nil
}

// checkTableChains verifies that the chain heads listed in t exist and have
// the type of the entry's kind.
func (a *Archive) checkTableChains(t *dirTable) error {
	check := func(name string, id base.BlockID, typ base.BlockType) error {
		if id.Reserved() {
			return base.CorruptionErrorf("blockfs: %q starts at reserved block %s", name, id)
		}
		b, err := a.alloc.get(id)
		if err != nil {
			return base.MarkCorruptionError(err)
		}
		if b.Type != typ {
			return base.CorruptionErrorf("blockfs: %q starts at %s block %s", name, b.Type, id)
		}
		return nil
	}
	for _, f := range t.Files {
		if err := check(f.Name, f.Start, base.BlockTypeBinary); err != nil {
			return err
		}
	}
	for _, d := range t.Dirs {
		if err := check(d.Name, d.Start, base.BlockTypeFileTable); err != nil {
			return err
		}
	}
	return nil
}
