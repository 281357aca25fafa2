// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/cockroachdb/blockfs/internal/compression"
)

const (
	dirTableTypeID   codec.TypeID = 3
	fileRecordTypeID codec.TypeID = 4
	dirRecordTypeID  codec.TypeID = 5
)

// dirTablePrefixLen is the length of the checksum and algorithm byte that
// precede the raw length of every directory table.
const dirTablePrefixLen = 9

// fileRecord is the metadata of a file child stored in its owner's table.
type fileRecord struct {
	Name   string
	Start  base.BlockID
	Length int64
}

// dirRecord is the metadata of a directory child stored in its owner's
// table.
type dirRecord struct {
	Name      string
	Start     base.BlockID
	FileCount int32
	DirCount  int32
}

// dirTable is the serialized children of a directory: every file, then every
// directory.
type dirTable struct {
	Files []fileRecord
	Dirs  []dirRecord
}

// Encode implements codec.Encoder.
func (t *dirTable) Encode(w *codec.Writer) {
	w.Object(dirTableTypeID, func(w *codec.Writer) {
		w.ObjectArray(fileRecordTypeID, len(t.Files), func(i int, w *codec.Writer) {
			f := &t.Files[i]
			w.String(f.Name)
			w.Int32(int32(f.Start))
			w.Int64(f.Length)
		})
		w.ObjectArray(dirRecordTypeID, len(t.Dirs), func(i int, w *codec.Writer) {
			d := &t.Dirs[i]
			w.String(d.Name)
			w.Int32(int32(d.Start))
			w.Int32(d.FileCount)
			w.Int32(d.DirCount)
		})
	})
}

// Decode implements codec.Decoder.
func (t *dirTable) Decode(r *codec.Reader) error {
	o, err := r.Object(dirTableTypeID)
	if err != nil {
		return err
	}
	dirs := o.PopArray(codec.TagObject, dirRecordTypeID)
	files := o.PopArray(codec.TagObject, fileRecordTypeID)
	if err := o.Done(); err != nil {
		return err
	}
	t.Files = make([]fileRecord, files.Len())
	for i := range t.Files {
		e := files.Object(i)
		f := &t.Files[i]
		f.Length = e.PopInt64()
		f.Start = base.BlockID(e.PopInt32())
		f.Name = e.PopString()
		if err := e.Done(); err != nil {
			return err
		}
		if f.Length < 0 {
			return base.CorruptionErrorf("blockfs: file %q has negative length %d", f.Name, f.Length)
		}
	}
	t.Dirs = make([]dirRecord, dirs.Len())
	for i := range t.Dirs {
		e := dirs.Object(i)
		d := &t.Dirs[i]
		d.DirCount = e.PopInt32()
		d.FileCount = e.PopInt32()
		d.Start = base.BlockID(e.PopInt32())
		d.Name = e.PopString()
		if err := e.Done(); err != nil {
			return err
		}
		if d.FileCount < 0 || d.DirCount < 0 {
			return base.CorruptionErrorf("blockfs: directory %q has negative counts %d/%d", d.Name, d.FileCount, d.DirCount)
		}
	}
	return nil
}

// encodeDirTable returns the on-disk form of t: the xxhash64 of the rest of
// the table, the compression algorithm, the uvarint length of the encoded
// table, and the (possibly compressed) encoding.
func encodeDirTable(t *dirTable, alg compression.Algorithm) []byte {
	var w codec.Writer
	t.Encode(&w)
	raw := w.Bytes()

	buf := make([]byte, dirTablePrefixLen, dirTablePrefixLen+binary.MaxVarintLen64+len(raw))
	buf[8] = byte(alg)
	buf = binary.AppendUvarint(buf, uint64(len(raw)))
	c := compression.GetCompressor(alg)
	buf = append(buf, c.Compress(nil, raw)...)
	c.Close()
	binary.LittleEndian.PutUint64(buf[:8], xxhash.Sum64(buf[8:]))
	return buf
}

// decodeDirTable decodes a table written by encodeDirTable. An empty buffer
// is an empty table.
func decodeDirTable(buf []byte) (dirTable, error) {
	if len(buf) == 0 {
		return dirTable{}, nil
	}
	if len(buf) < dirTablePrefixLen+1 {
		return dirTable{}, base.CorruptionErrorf("blockfs: directory table of %d bytes is truncated", len(buf))
	}
	if sum := binary.LittleEndian.Uint64(buf[:8]); sum != xxhash.Sum64(buf[8:]) {
		return dirTable{}, base.CorruptionErrorf("blockfs: directory table checksum mismatch")
	}
	alg := compression.Algorithm(buf[8])
	rawLen, n := binary.Uvarint(buf[dirTablePrefixLen:])
	if n <= 0 {
		return dirTable{}, base.CorruptionErrorf("blockfs: directory table has a bad length")
	}
	if alg >= compression.NumAlgorithms {
		return dirTable{}, base.CorruptionErrorf("blockfs: directory table has unknown compression %d", alg)
	}
	raw, err := compression.Decompress(alg, buf[dirTablePrefixLen+n:])
	if err != nil {
		return dirTable{}, base.MarkCorruptionError(err)
	}
	if uint64(len(raw)) != rawLen {
		return dirTable{}, base.CorruptionErrorf("blockfs: directory table length %d, expected %d", len(raw), rawLen)
	}
	var t dirTable
	r := codec.NewReader(raw)
	if err := t.Decode(r); err != nil {
		return dirTable{}, err
	}
	if r.Remaining() != 0 {
		return dirTable{}, base.CorruptionErrorf("blockfs: %d trailing bytes after directory table", r.Remaining())
	}
	return t, nil
}
