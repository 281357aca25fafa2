// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// BlockID identifies a block by its slot in the block table.
type BlockID int32

const (
	// InvalidBlock terminates a chain.
	InvalidBlock BlockID = -1
	// FirstRegionBlock is the first block-table region. It starts right after
	// the file header.
	FirstRegionBlock BlockID = 0
	// RootTableBlock holds the root directory's table.
	RootTableBlock BlockID = 1
	// NumReservedBlocks is the number of blocks written at creation time.
	NumReservedBlocks = 2
)

// Reserved returns true for the two block ids that may never be the target of
// a chain pointer.
func (id BlockID) Reserved() bool {
	return id == FirstRegionBlock || id == RootTableBlock
}

// String implements fmt.Stringer.
func (id BlockID) String() string {
	if id == InvalidBlock {
		return "-"
	}
	return fmt.Sprintf("%d", int32(id))
}

// SafeFormat implements redact.SafeFormatter.
func (id BlockID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(id.String()))
}

// BlockType is the type of the contents of a block.
type BlockType uint8

// The set of block types.
const (
	BlockTypeEmpty BlockType = iota
	BlockTypeBlockTable
	BlockTypeBinary
	BlockTypeFileTable
	// NumBlockTypes is the number of block types.
	NumBlockTypes
)

var blockTypeNames = [...]string{
	BlockTypeEmpty:      "empty",
	BlockTypeBlockTable: "block-table",
	BlockTypeBinary:     "binary",
	BlockTypeFileTable:  "file-table",
}

// Valid returns true if t is one of the known block types.
func (t BlockType) Valid() bool {
	return t < NumBlockTypes
}

// String implements fmt.Stringer.
func (t BlockType) String() string {
	if t.Valid() {
		return blockTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// SafeFormat implements redact.SafeFormatter.
func (t BlockType) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(t.String()))
}

// ParseBlockType parses the output of BlockType.String.
func ParseBlockType(s string) (BlockType, bool) {
	for i, n := range blockTypeNames {
		if n == s {
			return BlockType(i), true
		}
	}
	return 0, false
}

// Block length limits. Requested lengths outside the range are clamped.
const (
	MinBlockLength     = 512
	MaxBlockLength     = 1 << 20
	DefaultBlockLength = 4096
)

// ClampBlockLength clamps n to [MinBlockLength, MaxBlockLength].
func ClampBlockLength(n int64) int64 {
	switch {
	case n < MinBlockLength:
		return MinBlockLength
	case n > MaxBlockLength:
		return MaxBlockLength
	}
	return n
}
