// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blocktable

import (
	"fmt"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/cockroachdb/redact"
)

// BTESize is the encoded size of a block descriptor: an object header, the
// int32 id, the uint8 type, the int64 start offset and the int32 length, used
// and next fields.
const BTESize = codec.ObjectHeaderSize + codec.Int32Size + codec.Uint8Size +
	codec.Int64Size + 3*codec.Int32Size

const bteTypeID codec.TypeID = 1

// BTE is a block descriptor: the extent, type, used byte count and chain
// pointer of one block.
type BTE struct {
	ID     base.BlockID
	Type   base.BlockType
	Start  int64
	Length int64
	Used   int64
	Next   base.BlockID

	dirty bool
}

var _ codec.Encoder = (*BTE)(nil)
var _ codec.Decoder = (*BTE)(nil)

// End returns the offset just past the block's extent.
func (b *BTE) End() int64 { return b.Start + b.Length }

// Empty returns true if the block is unallocated.
func (b *BTE) Empty() bool { return b.Type == base.BlockTypeEmpty }

// Dirty returns true if the descriptor changed since it was last persisted.
func (b *BTE) Dirty() bool { return b.dirty }

func (b *BTE) reset() {
	b.Type = base.BlockTypeEmpty
	b.Used = 0
	b.Next = base.InvalidBlock
	b.dirty = true
}

// Encode implements codec.Encoder.
func (b *BTE) Encode(w *codec.Writer) {
	w.Object(bteTypeID, func(w *codec.Writer) {
		w.Int32(int32(b.ID))
		w.Uint8(uint8(b.Type))
		w.Int64(b.Start)
		w.Int32(int32(b.Length))
		w.Int32(int32(b.Used))
		w.Int32(int32(b.Next))
	})
}

// Decode implements codec.Decoder.
func (b *BTE) Decode(r *codec.Reader) error {
	o, err := r.Object(bteTypeID)
	if err != nil {
		return err
	}
	b.Next = base.BlockID(o.PopInt32())
	b.Used = int64(o.PopInt32())
	b.Length = int64(o.PopInt32())
	b.Start = o.PopInt64()
	b.Type = base.BlockType(o.PopUint8())
	b.ID = base.BlockID(o.PopInt32())
	b.dirty = false
	return o.Done()
}

// String implements fmt.Stringer.
func (b BTE) String() string {
	return fmt.Sprintf("%s:%s[%d,%d) used=%d next=%s",
		b.ID, b.Type, b.Start, b.End(), b.Used, b.Next)
}

// SafeFormat implements redact.SafeFormatter.
func (b BTE) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s:%s[%d,%d) used=%d next=%s",
		b.ID, b.Type, redact.Safe(b.Start), redact.Safe(b.End()), redact.Safe(b.Used), b.Next)
}
