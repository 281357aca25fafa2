// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package codec

import "github.com/cockroachdb/blockfs/internal/base"

// Object is a decoded object record. Its values are popped in reverse order of
// encoding. Pop methods record the first error, after which they return zero
// values; Done reports it.
type Object struct {
	ID   TypeID
	vals []Value
	err  error
}

// Len returns the number of values not yet popped.
func (o *Object) Len() int { return len(o.vals) }

func (o *Object) pop(t Tag) Value {
	if o.err != nil {
		return Value{}
	}
	n := len(o.vals)
	if n == 0 {
		o.err = base.CorruptionErrorf("blockfs/codec: object type %d has too few values", o.ID)
		return Value{}
	}
	v := o.vals[n-1]
	o.vals = o.vals[:n-1]
	if v.Tag != t {
		o.err = base.CorruptionErrorf("blockfs/codec: object type %d: expected %s, found %s", o.ID, t, v.Tag)
		return Value{}
	}
	return v
}

// PopBool pops a bool.
func (o *Object) PopBool() bool { return o.pop(TagBool).num != 0 }

// PopUint8 pops a uint8.
func (o *Object) PopUint8() uint8 { return uint8(o.pop(TagUint8).num) }

// PopInt32 pops an int32.
func (o *Object) PopInt32() int32 { return int32(uint32(o.pop(TagInt32).num)) }

// PopUint32 pops a uint32.
func (o *Object) PopUint32() uint32 { return uint32(o.pop(TagUint32).num) }

// PopInt64 pops an int64.
func (o *Object) PopInt64() int64 { return int64(o.pop(TagInt64).num) }

// PopUint64 pops a uint64.
func (o *Object) PopUint64() uint64 { return o.pop(TagUint64).num }

// PopString pops a string.
func (o *Object) PopString() string { return string(o.pop(TagString).bytes) }

// PopBytes pops a byte slice. The slice aliases the decoded buffer.
func (o *Object) PopBytes() []byte { return o.pop(TagBytes).bytes }

// PopObject pops a nested object of the given type.
func (o *Object) PopObject(id TypeID) *Object {
	v := o.pop(TagObject)
	if o.err != nil {
		return &Object{err: o.err}
	}
	if v.obj.ID != id {
		o.err = base.CorruptionErrorf("blockfs/codec: expected object type %d, found %d", id, v.obj.ID)
		return &Object{err: o.err}
	}
	return v.obj
}

// PopArray pops an array whose elements have the given tag (and, for objects,
// the given type).
func (o *Object) PopArray(elem Tag, id TypeID) *Array {
	v := o.pop(TagArray)
	if o.err != nil {
		return &Array{}
	}
	if v.arr.Elem != elem || (elem == TagObject && v.arr.ID != id) {
		o.err = base.CorruptionErrorf("blockfs/codec: expected array of %s/%d, found %s/%d",
			elem, id, v.arr.Elem, v.arr.ID)
		return &Array{}
	}
	return v.arr
}

// Err returns the first error encountered while popping.
func (o *Object) Err() error { return o.err }

// Done returns the first pop error, or a corruption error if values remain
// unconsumed.
func (o *Object) Done() error {
	if o.err != nil {
		return o.err
	}
	if len(o.vals) != 0 {
		return base.CorruptionErrorf("blockfs/codec: object type %d has %d unexpected values", o.ID, len(o.vals))
	}
	return nil
}

// Array is a decoded array record.
type Array struct {
	Elem  Tag
	ID    TypeID
	elems []Value
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elems) }

// Object returns the i'th element of an object array.
func (a *Array) Object(i int) *Object { return a.elems[i].obj }

// Int64 returns the i'th element of an int64 array.
func (a *Array) Int64(i int) int64 { return int64(a.elems[i].num) }

// String returns the i'th element of a string array.
func (a *Array) String(i int) string { return string(a.elems[i].bytes) }
