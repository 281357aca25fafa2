// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/task"
	"github.com/cockroachdb/swiss"
)

// handle addresses a node in an archive's arena. A handle outlives the node
// it addressed: once the node is released the slot's generation changes and
// the handle no longer resolves.
type handle struct {
	idx uint32
	gen uint32
}

// noHandle is the owner of the root.
var noHandle handle

func (h handle) valid() bool { return h.gen != 0 }

// node is a file or directory. Kind-specific state lives in exactly one of
// dir and file.
type node struct {
	self  handle
	kind  Kind
	owner handle
	depth int
	// start is the head of the node's own chain: file content for files, the
	// children table for directories. It never changes: rewriting a chain
	// swaps extents under the head's id.
	start base.BlockID

	// name is written under the owner's dirState.mu.
	name    atomic.Pointer[string]
	deleted atomic.Bool

	dir  *dirState
	file *fileState
}

func (n *node) Name() string { return *n.name.Load() }

func (n *node) setName(name string) { n.name.Store(&name) }

func (n *node) identity() Identity { return Identity{Name: n.Name(), Kind: n.kind} }

// dirState is the state of a directory node.
type dirState struct {
	mu sync.Mutex
	// loaded is set once the children table has been read. Until then the
	// counts are those recorded in the owner's table (or the header, for the
	// root).
	loaded   bool
	children []handle
	index    swiss.Map[string, handle]

	fileCount atomic.Int32
	dirCount  atomic.Int32

	// dirty is set when the children table no longer matches the in-memory
	// children. It is cleared by the flush that snapshots them.
	dirty atomic.Bool
	slot  task.Slot
	// flushMu serializes flushes of the directory, whether scheduled or
	// requested by Archive.Flush.
	flushMu sync.Mutex
}

// fileState is the state of a file node.
type fileState struct {
	mu sync.Mutex
	// ranges are the disk ranges of the file's chain, in order. They are
	// built on first open.
	loaded bool
	ranges []blockRange
	// length is the logical length of the file, written under mu.
	length  atomic.Int64
	streams map[*Stream]struct{}
}

// blockRange is one block of a file's chain.
type blockRange struct {
	id     base.BlockID
	start  int64
	length int64
	used   int64
}

// arena owns the nodes of an archive.
type arena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []uint32
}

type arenaSlot struct {
	gen  uint32
	node *node
}

// alloc stores n and sets its handle.
func (a *arena) alloc(n *node) handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if k := len(a.free); k > 0 {
		idx = a.free[k-1]
		a.free = a.free[:k-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.node = n
	n.self = handle{idx: idx, gen: s.gen}
	return n.self
}

// get returns the node addressed by h, or nil if it was released.
func (a *arena) get(h handle) *node {
	if !h.valid() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(h.idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.idx]
	if s.gen != h.gen {
		return nil
	}
	return s.node
}

// release frees the slot addressed by h.
func (a *arena) release(h handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(h.idx) >= len(a.slots) || a.slots[h.idx].gen != h.gen {
		return
	}
	a.slots[h.idx].node = nil
	a.slots[h.idx].gen++
	a.free = append(a.free, h.idx)
}

// len returns the number of live nodes.
func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

func newDirNode(name string, owner *node, start base.BlockID, files, dirs int32) *node {
	n := &node{kind: KindDir, start: start, dir: &dirState{}}
	if owner != nil {
		n.owner = owner.self
		n.depth = owner.depth + 1
	}
	n.setName(name)
	n.dir.fileCount.Store(files)
	n.dir.dirCount.Store(dirs)
	n.dir.index.Init(0)
	return n
}

func newFileNode(name string, owner *node, start base.BlockID, length int64) *node {
	n := &node{kind: KindFile, start: start, owner: owner.self, depth: owner.depth + 1, file: &fileState{}}
	n.setName(name)
	n.file.length.Store(length)
	return n
}
