// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blocktable

import (
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
)

// ReadFunc reads n bytes at the given offset of the backing store.
type ReadFunc func(off int64, n int) ([]byte, error)

// Decode loads a table of count blocks. The first region is at headerSize
// and regionLength bytes long; every further region is found through the
// next pointer of the previous region's descriptor, which has always been
// decoded by the time it is needed. Any inconsistency is a corruption error.
func Decode(count int, headerSize, regionLength int64, read ReadFunc) (*Table, error) {
	if count < base.NumReservedBlocks {
		return nil, base.CorruptionErrorf("blockfs: block count %d is less than %d", count, base.NumReservedBlocks)
	}
	if regionLength < BTESize {
		return nil, base.CorruptionErrorf("blockfs: block table length %d is too small", regionLength)
	}
	t := &Table{blocks: make([]*BTE, 0, count)}
	type extent struct{ start, length int64 }
	exts := []extent{{headerSize, regionLength}}
	var regionIDs []base.BlockID
	regionIDs = append(regionIDs, base.FirstRegionBlock)

	k := 0
	for ; len(t.blocks) < count; k++ {
		if k >= len(exts) {
			return nil, base.CorruptionErrorf("blockfs: block count %d exceeds table capacity %d", count, len(t.blocks))
		}
		ext := exts[k]
		n := min(int(ext.length/BTESize), count-len(t.blocks))
		buf, err := read(ext.start, n*BTESize)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			b := &BTE{}
			if err := b.Decode(codec.NewReader(buf[i*BTESize : (i+1)*BTESize])); err != nil {
				return nil, base.MarkCorruptionError(err)
			}
			if int(b.ID) != len(t.blocks) {
				return nil, base.CorruptionErrorf("blockfs: slot %d holds descriptor of block %s", len(t.blocks), b.ID)
			}
			t.blocks = append(t.blocks, b)
		}
		t.capacity += int(ext.length / BTESize)

		// The descriptor of region k is in region k or an earlier one.
		region := t.blocks[regionIDs[k]]
		if region.Type != base.BlockTypeBlockTable || region.Start != ext.start || region.Length != ext.length {
			return nil, base.CorruptionErrorf("blockfs: region %d descriptor %s does not match its extent [%d,%d)",
				k, region, ext.start, ext.start+ext.length)
		}
		if next := region.Next; next != base.InvalidBlock {
			if next.Reserved() || int(next) >= len(t.blocks) || next < 0 {
				return nil, base.CorruptionErrorf("blockfs: region %s has invalid next region %s", region.ID, next)
			}
			nb := t.blocks[next]
			if nb.Type != base.BlockTypeBlockTable {
				return nil, base.CorruptionErrorf("blockfs: region %s chains into %s block %s", region.ID, nb.Type, next)
			}
			for _, id := range regionIDs {
				if id == next {
					return nil, base.CorruptionErrorf("blockfs: region chain has a cycle at block %s", next)
				}
			}
			regionIDs = append(regionIDs, next)
			exts = append(exts, extent{nb.Start, nb.Length})
		}
	}
	// Regions past the last used slot.
	for _, ext := range exts[k:] {
		t.capacity += int(ext.length / BTESize)
	}
	t.regions = regionIDs
	if err := t.validate(); err != nil {
		return nil, err
	}
	for _, b := range t.blocks {
		t.end = max(t.end, b.End())
	}
	return t, nil
}

// validate checks the invariants of every descriptor.
func (t *Table) validate() error {
	count := base.BlockID(len(t.blocks))
	if t.blocks[base.FirstRegionBlock].Type != base.BlockTypeBlockTable {
		return base.CorruptionErrorf("blockfs: block 0 is not a block-table region")
	}
	if t.blocks[base.RootTableBlock].Type != base.BlockTypeFileTable {
		return base.CorruptionErrorf("blockfs: block 1 is not a file table")
	}
	for _, b := range t.blocks {
		switch {
		case !b.Type.Valid():
			return base.CorruptionErrorf("blockfs: block %s has unknown type %d", b.ID, uint8(b.Type))
		case b.Start < 0 || b.Length < 0 || b.Used < 0:
			return base.CorruptionErrorf("blockfs: block %s has negative extent", b)
		case b.Length > base.MaxBlockLength:
			return base.CorruptionErrorf("blockfs: block %s exceeds the maximum block length", b)
		case b.Used > b.Length:
			return base.CorruptionErrorf("blockfs: block %s uses more than its length", b)
		case b.Next != base.InvalidBlock && (b.Next.Reserved() || b.Next < 0 || b.Next >= count):
			return base.CorruptionErrorf("blockfs: block %s has invalid chain pointer", b)
		}
	}
	return nil
}
