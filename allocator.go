// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"sync"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/blocktable"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/blockfs/internal/rate"
	"github.com/cockroachdb/blockfs/internal/task"
	"github.com/cockroachdb/errors"
)

// allocator owns the block table of an archive and persists every descriptor
// it changes. All methods are safe for concurrent use; the allocator's mutex
// is a leaf lock.
//
// Changing the number of blocks invalidates the header. The allocator does
// not write the header itself: methods report the change and the caller
// rewrites the header once the allocator's mutex is released.
type allocator struct {
	queue   *ioqueue.Queue
	sched   *task.Scheduler
	limiter *rate.Limiter
	opts    *Options

	mu struct {
		sync.Mutex
		tbl *blocktable.Table
		// inflight are descriptor writes that have not been observed to
		// finish.
		inflight []*ioqueue.Handle
		// deallocated counts the blocks released since the archive opened.
		deallocated int64
	}
}

func newAllocator(tbl *blocktable.Table, q *ioqueue.Queue, s *task.Scheduler, opts *Options) *allocator {
	al := &allocator{queue: q, sched: s, opts: opts}
	if r := opts.DeallocationBytesPerSec; r > 0 {
		al.limiter = rate.NewLimiter(float64(r), float64(r))
	}
	al.mu.tbl = tbl
	return al
}

// persistLocked queues a write of every dirty descriptor. If the store must
// grow to cover the last block it is extended first; it is never shrunk.
func (al *allocator) persistLocked(extend bool) {
	tbl := al.mu.tbl
	if extend {
		al.trackLocked(al.queue.Extend(tbl.End()))
	}
	for _, b := range tbl.TakeDirty() {
		al.encodeLocked(b)
	}
}

func (al *allocator) encodeLocked(b blocktable.BTE) {
	pos, err := al.mu.tbl.FindPosition(b.ID)
	if err != nil {
		panic(errors.AssertionFailedf("blockfs: descriptor %s has no slot: %v", b.ID, err))
	}
	al.trackLocked(al.queue.Encode(ioqueue.At(pos), &b, blocktable.BTESize))
}

func (al *allocator) trackLocked(h *ioqueue.Handle) {
	// Drop the writes that already succeeded; keep failures until wait
	// observes them.
	live := al.mu.inflight[:0]
	for _, p := range al.mu.inflight {
		select {
		case <-p.Done():
			if p.Err() != nil {
				live = append(live, p)
			}
		default:
			live = append(live, p)
		}
	}
	al.mu.inflight = append(live, h)
}

// wait waits for every descriptor write queued so far and returns their
// failures.
func (al *allocator) wait(ctx context.Context) error {
	al.mu.Lock()
	hs := al.mu.inflight
	al.mu.inflight = nil
	al.mu.Unlock()
	var err error
	for _, h := range hs {
		if werr := h.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = errors.CombineErrors(err, errors.Wrap(werr, "blockfs: writing block descriptor"))
		}
	}
	return err
}

// getEmpty returns an empty or new block of the given type. grew is true if
// the number of blocks changed.
func (al *allocator) getEmpty(typ base.BlockType, minLength int64) (b blocktable.BTE, grew bool) {
	al.mu.Lock()
	n := al.mu.tbl.Len()
	bp, regionAdded := al.mu.tbl.GetEmpty(typ, minLength)
	grew = al.mu.tbl.Len() != n
	al.persistLocked(grew)
	b = *bp
	info := al.growthInfoLocked()
	al.mu.Unlock()
	if regionAdded {
		al.opts.EventListener.BlockTableGrown(info)
	}
	return b, grew
}

// appendBlock allocates a block and links it after prev.
func (al *allocator) appendBlock(prev base.BlockID, typ base.BlockType, length int64) (b blocktable.BTE, grew bool, _ error) {
	al.mu.Lock()
	n := al.mu.tbl.Len()
	bp, regionAdded := al.mu.tbl.GetEmpty(typ, length)
	grew = al.mu.tbl.Len() != n
	err := al.mu.tbl.Link(prev, bp.ID)
	if err != nil {
		_, _ = al.mu.tbl.Deallocate(bp.ID)
	} else {
		b = *bp
	}
	al.persistLocked(grew)
	info := al.growthInfoLocked()
	al.mu.Unlock()
	if regionAdded {
		al.opts.EventListener.BlockTableGrown(info)
	}
	return b, grew, err
}

func (al *allocator) growthInfoLocked() BlockTableGrowthInfo {
	return BlockTableGrowthInfo{
		Blocks:   al.mu.tbl.Len(),
		Regions:  len(al.mu.tbl.Regions()),
		Capacity: al.mu.tbl.Capacity(),
	}
}

// usedUpdate is a new used-byte count for one block.
type usedUpdate struct {
	id   base.BlockID
	used int64
}

// setUsed applies the used-byte counts and persists the changed descriptors.
func (al *allocator) setUsed(updates []usedUpdate) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	var err error
	for _, u := range updates {
		if uerr := al.mu.tbl.SetUsed(u.id, u.used); uerr != nil {
			err = errors.CombineErrors(err, uerr)
		}
	}
	al.persistLocked(false)
	return err
}

// link sets the next pointer of prev.
func (al *allocator) link(prev, next base.BlockID) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if err := al.mu.tbl.Link(prev, next); err != nil {
		return err
	}
	al.persistLocked(false)
	return nil
}

// swap commits a staged chain onto head. The old chain is then headed by
// staged.
func (al *allocator) swap(head, staged base.BlockID) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if err := al.mu.tbl.SwapExtents(head, staged); err != nil {
		return err
	}
	al.persistLocked(false)
	return nil
}

// get returns a copy of a descriptor.
func (al *allocator) get(id base.BlockID) (blocktable.BTE, error) {
	al.mu.Lock()
	defer al.mu.Unlock()
	b, err := al.mu.tbl.Get(id)
	if err != nil {
		return blocktable.BTE{}, err
	}
	return *b, nil
}

// chain returns copies of the descriptors of the chain starting at start.
func (al *allocator) chain(start base.BlockID) ([]blocktable.BTE, error) {
	al.mu.Lock()
	defer al.mu.Unlock()
	ids, err := al.mu.tbl.Chain(start)
	if err != nil {
		return nil, err
	}
	bs := make([]blocktable.BTE, len(ids))
	for i, id := range ids {
		b, _ := al.mu.tbl.Get(id)
		bs[i] = *b
	}
	return bs, nil
}

// deallocate releases the chain starting at start. The descriptors are reset
// in memory immediately, so that they can be reused right away; writing them
// back (and scrambling the extents) happens in a must-complete background
// task. It is a no-op for InvalidBlock.
func (al *allocator) deallocate(start base.BlockID) error {
	if start == base.InvalidBlock {
		return nil
	}
	al.mu.Lock()
	ids, err := al.mu.tbl.Deallocate(start)
	if err == nil {
		al.mu.deallocated += int64(len(ids))
	}
	al.mu.Unlock()
	if err != nil || len(ids) == 0 {
		return err
	}
	al.sched.Go("dealloc", task.MustComplete, func(ctx context.Context) error {
		return al.writeBack(ctx, ids)
	})
	return nil
}

// writeBack persists the current state of the given descriptors. A block that
// was reallocated in the meantime is written as it is now, which is what a
// later write of it would produce anyway.
func (al *allocator) writeBack(ctx context.Context, ids []base.BlockID) error {
	var hs []*ioqueue.Handle
	var bytes int64
	for _, id := range ids {
		cost := float64(blocktable.BTESize)
		if al.opts.ScrambleFreedBlocks {
			if b, err := al.get(id); err == nil {
				cost += float64(b.Length)
			}
		}
		if err := al.limiter.Wait(ctx, cost); err != nil {
			return err
		}
		al.mu.Lock()
		b, err := al.mu.tbl.Get(id)
		if err != nil {
			al.mu.Unlock()
			return err
		}
		cp := *b
		if al.opts.ScrambleFreedBlocks && cp.Empty() {
			hs = append(hs, al.queue.Scramble(ioqueue.At(cp.Start), int(cp.Length)))
		}
		pos, err := al.mu.tbl.FindPosition(id)
		if err != nil {
			al.mu.Unlock()
			return err
		}
		hs = append(hs, al.queue.Encode(ioqueue.At(pos), &cp, blocktable.BTESize))
		al.mu.Unlock()
		bytes += cp.Length
	}
	for _, h := range hs {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	al.opts.EventListener.ChainDeallocated(ChainDeallocationInfo{Blocks: len(ids), Bytes: bytes})
	return nil
}

// count returns the number of blocks, or zero once the allocator is closed.
func (al *allocator) count() int {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.mu.tbl == nil {
		return 0
	}
	return al.mu.tbl.Len()
}

// stats returns a summary of the block table and the number of blocks
// deallocated so far.
func (al *allocator) stats() (blocktable.Stats, int64) {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.mu.tbl == nil {
		return blocktable.Stats{}, al.mu.deallocated
	}
	return al.mu.tbl.Stats(), al.mu.deallocated
}

// close drops the block table.
func (al *allocator) close() {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.mu.tbl = nil
	al.mu.inflight = nil
}

// snapshot returns copies of every descriptor.
func (al *allocator) snapshot() []blocktable.BTE {
	al.mu.Lock()
	defer al.mu.Unlock()
	bs := make([]blocktable.BTE, 0, al.mu.tbl.Len())
	al.mu.tbl.All(func(b *blocktable.BTE) bool {
		bs = append(bs, *b)
		return true
	})
	return bs
}

// overlaps returns the pairs of blocks whose extents intersect.
func (al *allocator) overlaps() []blocktable.Overlap {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.mu.tbl.Overlaps()
}

// regions returns the ids of the block-table regions.
func (al *allocator) regions() []base.BlockID {
	al.mu.Lock()
	defer al.mu.Unlock()
	return append([]base.BlockID(nil), al.mu.tbl.Regions()...)
}
