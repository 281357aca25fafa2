// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// flushDir writes the table of n if it is dirty, after flushing its dirty
// child directories. If parallel is set the child directories are flushed
// concurrently.
//
// The table is never overwritten in place: it is written into a freshly
// staged chain, which is then committed by swapping the extents of the
// table's head block with the staged head. The old extents, now described by
// the staged head's id, are deallocated in the background.
func (a *Archive) flushDir(ctx context.Context, n *node, parallel bool) error {
	n.dir.flushMu.Lock()
	defer n.dir.flushMu.Unlock()
	if n.deleted.Load() {
		return nil
	}

	n.dir.mu.Lock()
	if !n.dir.loaded {
		// Nothing below an unloaded directory can have changed.
		n.dir.mu.Unlock()
		return nil
	}
	var subdirs []*node
	for _, h := range n.dir.children {
		if c := a.nodes.get(h); c != nil && c.kind == KindDir {
			subdirs = append(subdirs, c)
		}
	}
	n.dir.mu.Unlock()

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range subdirs {
			g.Go(func() error { return a.flushDir(gctx, c, false) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, c := range subdirs {
			if err := a.flushDir(ctx, c, false); err != nil {
				return err
			}
		}
	}

	if !n.dir.dirty.Swap(false) {
		return nil
	}
	start := crtime.NowMono()
	info, err := a.writeDirTable(ctx, n)
	info.Duration = start.Elapsed()
	info.Err = err
	info.Path = a.pathOf(n)
	if err != nil {
		// Leave the directory dirty so that the next flush retries.
		n.dir.dirty.Store(true)
		a.stats.dirFlushFailed.Add(1)
		a.opts.EventListener.DirFlushed(info)
		return errors.Wrapf(err, "blockfs: flushing directory %q", info.Path)
	}
	a.stats.dirFlushes.Add(1)
	a.stats.dirFlushBytes.Add(info.Bytes)
	a.opts.EventListener.DirFlushed(info)
	return nil
}

// snapshotTable returns the table of n's live children: every file, then
// every directory.
func (a *Archive) snapshotTable(n *node) dirTable {
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	var t dirTable
	var dirs []*node
	for _, h := range n.dir.children {
		c := a.nodes.get(h)
		if c == nil || c.deleted.Load() {
			continue
		}
		if c.kind == KindDir {
			dirs = append(dirs, c)
			continue
		}
		t.Files = append(t.Files, fileRecord{Name: c.Name(), Start: c.start, Length: c.file.length.Load()})
	}
	for _, c := range dirs {
		t.Dirs = append(t.Dirs, dirRecord{
			Name:      c.Name(),
			Start:     c.start,
			FileCount: c.dir.fileCount.Load(),
			DirCount:  c.dir.dirCount.Load(),
		})
	}
	return t
}

func (a *Archive) writeDirTable(ctx context.Context, n *node) (DirFlushInfo, error) {
	t := a.snapshotTable(n)
	info := DirFlushInfo{Files: len(t.Files), Dirs: len(t.Dirs)}
	buf := encodeDirTable(&t, a.opts.DirCompression)
	info.Bytes = int64(len(buf))

	if err := a.flushSem.Acquire(ctx, 1); err != nil {
		return info, err
	}
	staged, err := a.stageChain(ctx, buf)
	a.flushSem.Release(1)
	info.Blocks = len(staged)
	if err != nil {
		if len(staged) > 0 {
			err = errors.CombineErrors(err, a.alloc.deallocate(staged[0]))
		}
		return info, err
	}

	// Commit under the directory's lock so that a concurrent deletion either
	// sees the committed chain or prevents the commit.
	n.dir.mu.Lock()
	if n.deleted.Load() {
		n.dir.mu.Unlock()
		return info, a.alloc.deallocate(staged[0])
	}
	err = a.alloc.swap(n.start, staged[0])
	n.dir.mu.Unlock()
	if err != nil {
		return info, errors.CombineErrors(err, a.alloc.deallocate(staged[0]))
	}
	// staged[0] now heads the previous chain.
	return info, a.alloc.deallocate(staged[0])
}

// stageChain writes buf into a new chain of FileTable blocks and waits for
// the writes. It returns the ids of the chain, which are owned by the caller
// even on failure.
func (a *Archive) stageChain(ctx context.Context, buf []byte) ([]base.BlockID, error) {
	var staged []base.BlockID
	var updates []usedUpdate
	var hs []*ioqueue.Handle
	grew := false
	for off := 0; off < len(buf); {
		remaining := int64(len(buf) - off)
		var id base.BlockID
		var start, length int64
		if len(staged) == 0 {
			b, g := a.alloc.getEmpty(base.BlockTypeFileTable, remaining)
			id, start, length, grew = b.ID, b.Start, b.Length, grew || g
		} else {
			b, g, err := a.alloc.appendBlock(staged[len(staged)-1], base.BlockTypeFileTable, remaining)
			grew = grew || g
			if err != nil {
				return staged, err
			}
			id, start, length = b.ID, b.Start, b.Length
		}
		staged = append(staged, id)
		k := min(length, remaining)
		hs = append(hs, a.queue.Write(ioqueue.At(start), buf[off:off+int(k)]))
		updates = append(updates, usedUpdate{id: id, used: k})
		off += int(k)
	}
	if grew {
		a.blocksGrew()
	}
	if err := a.alloc.setUsed(updates); err != nil {
		return staged, err
	}
	for _, h := range hs {
		if err := h.Wait(ctx); err != nil {
			return staged, errors.Wrap(err, "blockfs: writing directory table")
		}
	}
	a.stats.bytesWritten.Add(int64(len(buf)))
	return staged, nil
}
