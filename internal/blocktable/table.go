// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package blocktable implements the in-memory block table of an archive and
// the allocation policy over it.
//
// The table is an array of block descriptors indexed by block id. It is
// itself stored in one or more blocks of type BlockTable, called regions,
// which are chained through their descriptors' next pointers starting at
// block 0. Each region holds Length/BTESize descriptor slots. A new region is
// created as soon as a single free slot remains, so that the pending
// allocation and the new region's own descriptor both have a slot.
//
// The Table does no I/O and is not safe for concurrent use. Mutations mark
// descriptors dirty; the owner persists them using TakeDirty and
// FindPosition.
package blocktable

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/errors"
)

// Table is the block table.
type Table struct {
	blocks  []*BTE
	regions []base.BlockID

	// capacity is the total number of slots across regions.
	capacity int

	// end is the offset just past the physically last extent. Block ids and
	// offsets stop being ordered once extents are swapped, so it is tracked
	// rather than derived from the highest id.
	end int64
}

// Create returns the table of a new archive: the first region right after the
// header, followed by the root directory's table.
func Create(headerSize, regionLength, rootLength int64) *Table {
	regionLength = base.ClampBlockLength(regionLength)
	t := &Table{}
	region := &BTE{
		ID:     base.FirstRegionBlock,
		Type:   base.BlockTypeBlockTable,
		Start:  headerSize,
		Length: regionLength,
		Used:   regionLength,
		Next:   base.InvalidBlock,
		dirty:  true,
	}
	t.blocks = append(t.blocks, region)
	t.addRegion(region)
	t.blocks = append(t.blocks, &BTE{
		ID:     base.RootTableBlock,
		Type:   base.BlockTypeFileTable,
		Start:  region.End(),
		Length: base.ClampBlockLength(rootLength),
		Next:   base.InvalidBlock,
		dirty:  true,
	})
	t.end = t.blocks[base.RootTableBlock].End()
	return t
}

func (t *Table) addRegion(b *BTE) {
	if n := len(t.regions); n > 0 {
		prev := t.blocks[t.regions[n-1]]
		prev.Next = b.ID
		prev.dirty = true
	}
	t.regions = append(t.regions, b.ID)
	t.capacity += int(b.Length / BTESize)
}

// Len returns the number of blocks.
func (t *Table) Len() int { return len(t.blocks) }

// Capacity returns the total number of descriptor slots across all regions.
func (t *Table) Capacity() int { return t.capacity }

// Regions returns the ids of the block-table regions, in chain order.
func (t *Table) Regions() []base.BlockID { return t.regions }

// Get returns the descriptor of the given block. The returned descriptor must
// only be mutated through the Table.
func (t *Table) Get(id base.BlockID) (*BTE, error) {
	if id < 0 || int(id) >= len(t.blocks) {
		return nil, errors.Newf("blockfs: block %s out of range [0, %d)", id, len(t.blocks))
	}
	return t.blocks[id], nil
}

// All calls fn for every descriptor in id order.
func (t *Table) All(fn func(b *BTE) bool) {
	for _, b := range t.blocks {
		if !fn(b) {
			return
		}
	}
}

// End returns the offset just past the physically last block. New blocks are
// placed there.
func (t *Table) End() int64 { return t.end }

// FindPosition returns the offset of the descriptor slot of the given block by
// walking the regions in order.
func (t *Table) FindPosition(id base.BlockID) (int64, error) {
	if id < 0 {
		return 0, errors.Newf("blockfs: negative block index %s", id)
	}
	i := int64(id)
	for _, rid := range t.regions {
		r := t.blocks[rid]
		n := r.Length / BTESize
		if i < n {
			return r.Start + i*BTESize, nil
		}
		i -= n
	}
	return 0, errors.Newf("blockfs: block index %s exceeds table capacity %d", id, t.capacity)
}

// RegionOf returns the index into Regions of the region holding the given
// block's descriptor.
func (t *Table) RegionOf(id base.BlockID) int {
	i := int64(id)
	for k, rid := range t.regions {
		n := t.blocks[rid].Length / BTESize
		if i < n {
			return k
		}
		i -= n
	}
	return -1
}

// GetEmpty returns an empty block whose length is more than half of
// minLength, retyped to typ. If there is none, it creates a new block.
func (t *Table) GetEmpty(typ base.BlockType, minLength int64) (b *BTE, grew bool) {
	minLength = base.ClampBlockLength(minLength)
	for _, b := range t.blocks[base.NumReservedBlocks:] {
		if b.Empty() && float64(b.Length) > float64(minLength)*0.5 {
			b.Type = typ
			b.Used = 0
			b.Next = base.InvalidBlock
			b.dirty = true
			return b, false
		}
	}
	return t.CreateNew(typ, minLength)
}

// CreateNew appends a block of the given type and length after the last
// block. If only one free slot remains it first appends a new region, and
// reports grew=true.
func (t *Table) CreateNew(typ base.BlockType, length int64) (b *BTE, grew bool) {
	length = base.ClampBlockLength(length)
	if len(t.blocks) == t.capacity-1 {
		t.createRegion()
		grew = true
	}
	b = t.appendBlock(typ, length)
	return b, grew
}

func (t *Table) appendBlock(typ base.BlockType, length int64) *BTE {
	b := &BTE{
		ID:     base.BlockID(len(t.blocks)),
		Type:   typ,
		Start:  t.end,
		Length: length,
		Next:   base.InvalidBlock,
		dirty:  true,
	}
	t.blocks = append(t.blocks, b)
	t.end = b.End()
	return b
}

// createRegion appends a region with the same length as the first one and
// links it to the previous last region.
func (t *Table) createRegion() *BTE {
	length := t.blocks[base.FirstRegionBlock].Length
	b := t.appendBlock(base.BlockTypeBlockTable, length)
	b.Used = length
	t.addRegion(b)
	return b
}

// Link sets the next pointer of prev. Chaining into a reserved block fails.
func (t *Table) Link(prev, next base.BlockID) error {
	if next != base.InvalidBlock {
		if next.Reserved() {
			return errors.AssertionFailedf("blockfs: cannot chain block %s into reserved block %s", prev, next)
		}
		if next < 0 || int(next) >= len(t.blocks) {
			return errors.AssertionFailedf("blockfs: cannot chain block %s into missing block %s", prev, next)
		}
	}
	b, err := t.Get(prev)
	if err != nil {
		return err
	}
	b.Next = next
	b.dirty = true
	return nil
}

// SetUsed sets the number of used bytes of a block.
func (t *Table) SetUsed(id base.BlockID, used int64) error {
	b, err := t.Get(id)
	if err != nil {
		return err
	}
	if used < 0 || used > b.Length {
		return errors.AssertionFailedf("blockfs: block %s: used %d outside [0, %d]", id, used, b.Length)
	}
	if b.Used != used {
		b.Used = used
		b.dirty = true
	}
	return nil
}

// Chain returns the ids of the chain starting at start.
func (t *Table) Chain(start base.BlockID) ([]base.BlockID, error) {
	var ids []base.BlockID
	for id := start; id != base.InvalidBlock; {
		b, err := t.Get(id)
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		if len(ids) >= len(t.blocks) {
			return nil, base.CorruptionErrorf("blockfs: chain starting at block %s has a cycle", start)
		}
		ids = append(ids, id)
		id = b.Next
	}
	return ids, nil
}

// Deallocate resets every block of the chain starting at start to Empty and
// returns their ids. It is a no-op for InvalidBlock.
func (t *Table) Deallocate(start base.BlockID) ([]base.BlockID, error) {
	if start == base.InvalidBlock {
		return nil, nil
	}
	if start.Reserved() {
		return nil, errors.AssertionFailedf("blockfs: cannot deallocate reserved block %s", start)
	}
	ids, err := t.Chain(start)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		b := t.blocks[id]
		if b.Type == base.BlockTypeBlockTable {
			return nil, errors.AssertionFailedf("blockfs: cannot deallocate block-table region %s", id)
		}
	}
	for _, id := range ids {
		t.blocks[id].reset()
	}
	return ids, nil
}

// SwapExtents exchanges the extents, used counts and next pointers of two
// blocks. The set of extents, and therefore End, is unchanged. It commits a staged chain: the head keeps its id while taking over
// the staged extent, and the staged id takes over the old chain so that it
// can be deallocated.
func (t *Table) SwapExtents(head, staged base.BlockID) error {
	a, err := t.Get(head)
	if err != nil {
		return err
	}
	b, err := t.Get(staged)
	if err != nil {
		return err
	}
	if a.Type != b.Type {
		return errors.AssertionFailedf("blockfs: cannot swap %s block %s with %s block %s", a.Type, head, b.Type, staged)
	}
	a.Start, b.Start = b.Start, a.Start
	a.Length, b.Length = b.Length, a.Length
	a.Used, b.Used = b.Used, a.Used
	a.Next, b.Next = b.Next, a.Next
	a.dirty, b.dirty = true, true
	return nil
}

// TakeDirty returns copies of the dirty descriptors and marks them clean.
func (t *Table) TakeDirty() []BTE {
	var dirty []BTE
	for _, b := range t.blocks {
		if b.dirty {
			dirty = append(dirty, *b)
			b.dirty = false
		}
	}
	return dirty
}

// MarkDirty marks a descriptor for persistence.
func (t *Table) MarkDirty(id base.BlockID) {
	if id >= 0 && int(id) < len(t.blocks) {
		t.blocks[id].dirty = true
	}
}

// Overlap is a pair of blocks whose extents intersect.
type Overlap struct {
	A, B BTE
}

// Overlaps returns every pair of blocks whose extents intersect, ordered by
// start offset. Empty blocks are included: an empty extent that intersects
// another block would be handed out again by GetEmpty.
func (t *Table) Overlaps() []Overlap {
	live := make([]*BTE, 0, len(t.blocks))
	for _, b := range t.blocks {
		if b.Length > 0 {
			live = append(live, b)
		}
	}
	slices.SortFunc(live, func(a, b *BTE) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	var res []Overlap
	for i, a := range live {
		for _, b := range live[i+1:] {
			if b.Start >= a.End() {
				break
			}
			res = append(res, Overlap{A: *a, B: *b})
		}
	}
	return res
}

// Stats summarizes the table.
type Stats struct {
	Blocks     int
	Regions    int
	Capacity   int
	Empty      int
	EmptyBytes int64
	// Bytes is the total length of all blocks, per type.
	Bytes [base.NumBlockTypes]int64
	// Count is the number of blocks, per type.
	Count [base.NumBlockTypes]int
}

// Stats returns a summary of the table.
func (t *Table) Stats() Stats {
	s := Stats{Blocks: len(t.blocks), Regions: len(t.regions), Capacity: t.capacity}
	for _, b := range t.blocks {
		if b.Type.Valid() {
			s.Count[b.Type]++
			s.Bytes[b.Type] += b.Length
		}
		if b.Empty() {
			s.Empty++
			s.EmptyBytes += b.Length
		}
	}
	return s
}
