// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/blockfs/internal/base"
)

// maxDepth bounds object nesting so that corrupt input cannot recurse
// without limit.
const maxDepth = 32

// Value is a single decoded tagged value.
type Value struct {
	Tag   Tag
	num   uint64
	bytes []byte
	obj   *Object
	arr   *Array
}

// Reader decodes values from a byte slice.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Value decodes the next tagged value.
func (r *Reader) Value() (Value, error) {
	return r.value(0)
}

// Object decodes the next value, which must be an object of the given type.
func (r *Reader) Object(id TypeID) (*Object, error) {
	v, err := r.Value()
	if err != nil {
		return nil, err
	}
	if v.Tag != TagObject {
		return nil, base.CorruptionErrorf("blockfs/codec: expected object, found %s", v.Tag)
	}
	if v.obj.ID != id {
		return nil, base.CorruptionErrorf("blockfs/codec: expected object type %d, found %d", id, v.obj.ID)
	}
	return v.obj, nil
}

// Uint64 decodes the next value, which must be a uint64.
func (r *Reader) Uint64() (uint64, error) {
	v, err := r.Value()
	if err != nil {
		return 0, err
	}
	if v.Tag != TagUint64 {
		return 0, base.CorruptionErrorf("blockfs/codec: expected %s, found %s", TagUint64, v.Tag)
	}
	return v.num, nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, errTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) lengthPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int32(n) < 0 {
		return nil, base.CorruptionErrorf("blockfs/codec: negative length %d", int32(n))
	}
	return r.take(int(int32(n)))
}

func (r *Reader) value(depth int) (Value, error) {
	b, err := r.u8()
	if err != nil {
		return Value{}, err
	}
	t := Tag(b)
	if !t.valid() {
		return Value{}, base.CorruptionErrorf("blockfs/codec: unknown tag %d at offset %d", b, r.off-1)
	}
	return r.payload(t, depth)
}

func (r *Reader) payload(t Tag, depth int) (Value, error) {
	v := Value{Tag: t}
	var err error
	switch t {
	case TagBool, TagUint8:
		var b uint8
		b, err = r.u8()
		if t == TagBool && b > 1 {
			return v, base.CorruptionErrorf("blockfs/codec: invalid bool %d", b)
		}
		v.num = uint64(b)
	case TagInt32, TagUint32:
		var n uint32
		n, err = r.u32()
		v.num = uint64(n)
	case TagInt64, TagUint64:
		v.num, err = r.u64()
	case TagString, TagBytes:
		v.bytes, err = r.lengthPrefixed()
	case TagObject:
		var id uint16
		if id, err = r.u16(); err == nil {
			v.obj, err = r.objectBody(TypeID(id), depth+1)
		}
	case TagArray:
		v.arr, err = r.array(depth + 1)
	default:
		err = base.CorruptionErrorf("blockfs/codec: unknown tag %d", byte(t))
	}
	return v, err
}

func (r *Reader) objectBody(id TypeID, depth int) (*Object, error) {
	if depth > maxDepth {
		return nil, base.CorruptionErrorf("blockfs/codec: objects nested deeper than %d", maxDepth)
	}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	// Every value occupies at least two bytes.
	if int(n)*2 > r.Remaining() {
		return nil, errTruncated
	}
	o := &Object{ID: id, vals: make([]Value, 0, n)}
	for i := 0; i < int(n); i++ {
		v, err := r.value(depth)
		if err != nil {
			return nil, err
		}
		o.vals = append(o.vals, v)
	}
	return o, nil
}

func (r *Reader) array(depth int) (*Array, error) {
	b, err := r.u8()
	if err != nil {
		return nil, err
	}
	a := &Array{Elem: Tag(b)}
	minSize := 0
	switch a.Elem {
	case TagObject:
		id, err := r.u16()
		if err != nil {
			return nil, err
		}
		a.ID = TypeID(id)
		minSize = 2
	case TagString, TagBytes:
		minSize = 4
	case TagArray:
		return nil, base.CorruptionErrorf("blockfs/codec: nested arrays are not supported")
	default:
		if minSize = a.Elem.fixedWidth(); minSize < 0 {
			return nil, base.CorruptionErrorf("blockfs/codec: unknown array element tag %d", b)
		}
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int32(n) < 0 {
		return nil, base.CorruptionErrorf("blockfs/codec: negative array length %d", int32(n))
	}
	if int(n)*minSize > r.Remaining() {
		return nil, errTruncated
	}
	a.elems = make([]Value, 0, n)
	for i := 0; i < int(n); i++ {
		var v Value
		if a.Elem == TagObject {
			v.Tag = TagObject
			v.obj, err = r.objectBody(a.ID, depth)
		} else {
			v, err = r.payload(a.Elem, depth)
		}
		if err != nil {
			return nil, err
		}
		a.elems = append(a.elems, v)
	}
	return a, nil
}
