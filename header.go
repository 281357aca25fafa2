// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
)

// HeaderSize is the size of the file header at offset 0. The first
// block-table region starts right after it.
const HeaderSize = 512

const (
	headerMagic   = "blockfs\x00"
	headerVersion = 1

	headerTypeID codec.TypeID = 2
)

// header is the file header of an archive. It is encoded as one codec object
// followed by the xxhash64 of the object's encoding, zero padded to
// HeaderSize.
type header struct {
	Version          uint32
	Name             string
	BlockCount       int32
	Packaged         bool
	RootFileCount    int32
	RootDirCount     int32
	BlockTableLength int64

	// Set by Decode: the stored checksum and the length of the record it
	// covers.
	sum    uint64
	sumEnd int
}

var _ codec.Encoder = (*header)(nil)
var _ codec.Decoder = (*header)(nil)

// Encode implements codec.Encoder.
func (h *header) Encode(w *codec.Writer) {
	start := w.Len()
	w.Object(headerTypeID, func(w *codec.Writer) {
		w.String(headerMagic)
		w.Uint32(h.Version)
		w.String(h.Name)
		w.Int32(h.BlockCount)
		w.Bool(h.Packaged)
		w.Int32(h.RootFileCount)
		w.Int32(h.RootDirCount)
		w.Int64(h.BlockTableLength)
	})
	w.Uint64(xxhash.Sum64(w.Bytes()[start:]))
}

// Decode implements codec.Decoder. The reader must be positioned at offset 0
// of the header.
func (h *header) Decode(r *codec.Reader) error {
	o, err := r.Object(headerTypeID)
	if err != nil {
		return err
	}
	h.sumEnd = r.Offset()
	if h.sum, err = r.Uint64(); err != nil {
		return err
	}
	h.BlockTableLength = o.PopInt64()
	h.RootDirCount = o.PopInt32()
	h.RootFileCount = o.PopInt32()
	h.Packaged = o.PopBool()
	h.BlockCount = o.PopInt32()
	h.Name = o.PopString()
	h.Version = o.PopUint32()
	magic := o.PopString()
	if err := o.Done(); err != nil {
		return err
	}
	if magic != headerMagic {
		return base.CorruptionErrorf("blockfs: bad header magic %q", magic)
	}
	if h.Version != headerVersion {
		return base.CorruptionErrorf("blockfs: unsupported header version %d", h.Version)
	}
	return nil
}

// decodeHeader decodes and verifies the header in buf.
func decodeHeader(buf []byte) (header, error) {
	var h header
	r := codec.NewReader(buf)
	if err := h.Decode(r); err != nil {
		return header{}, err
	}
	if got := xxhash.Sum64(buf[:h.sumEnd]); got != h.sum {
		return header{}, base.CorruptionErrorf("blockfs: header checksum mismatch: %016x != %016x", got, h.sum)
	}
	if h.BlockCount < 2 || h.RootFileCount < 0 || h.RootDirCount < 0 {
		return header{}, base.CorruptionErrorf("blockfs: invalid header %s", h)
	}
	return h, nil
}

// String implements fmt.Stringer.
func (h header) String() string {
	return fmt.Sprintf("version=%d name=%q blocks=%d packaged=%t root=%d/%d region=%d",
		h.Version, h.Name, h.BlockCount, h.Packaged, h.RootFileCount, h.RootDirCount, h.BlockTableLength)
}
