// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"io"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/blocktable"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/errors"
)

// BlockID identifies a block by its slot in the block table.
type BlockID = base.BlockID

// BlockType is the type of the contents of a block.
type BlockType = base.BlockType

// BlockInfo describes one block of an archive.
type BlockInfo struct {
	ID     BlockID
	Type   BlockType
	Start  int64
	Length int64
	Used   int64
	Next   BlockID
}

func makeBlockInfo(b blocktable.BTE) BlockInfo {
	return BlockInfo{ID: b.ID, Type: b.Type, Start: b.Start, Length: b.Length, Used: b.Used, Next: b.Next}
}

// Blocks returns the descriptors of every block, in id order.
func (a *Archive) Blocks() ([]BlockInfo, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	bs := a.alloc.snapshot()
	infos := make([]BlockInfo, len(bs))
	for i := range bs {
		infos[i] = makeBlockInfo(bs[i])
	}
	return infos, nil
}

// Blocks returns the chain of an entry: the content of a file or the
// children table of a directory.
func (e Entry) Blocks() ([]BlockInfo, error) {
	n, err := e.node()
	if err != nil {
		return nil, err
	}
	bs, err := e.a.alloc.chain(n.start)
	if err != nil {
		return nil, err
	}
	infos := make([]BlockInfo, len(bs))
	for i := range bs {
		infos[i] = makeBlockInfo(bs[i])
	}
	return infos, nil
}

// HeaderInfo is the decoded file header of an archive.
type HeaderInfo struct {
	Version          uint32
	Name             string
	BlockCount       int32
	Packaged         bool
	RootFileCount    int32
	RootDirCount     int32
	BlockTableLength int64
}

// ReadHeader reads and verifies the file header of a store without opening
// it.
func ReadHeader(f vfs.File) (HeaderInfo, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return HeaderInfo{}, base.CorruptionErrorf("blockfs: store shorter than its header")
		}
		return HeaderInfo{}, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return HeaderInfo{}, err
	}
	return HeaderInfo{
		Version:          h.Version,
		Name:             h.Name,
		BlockCount:       h.BlockCount,
		Packaged:         h.Packaged,
		RootFileCount:    h.RootFileCount,
		RootDirCount:     h.RootDirCount,
		BlockTableLength: h.BlockTableLength,
	}, nil
}
