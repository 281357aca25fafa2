// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package codec

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

// frame tracks an open object (or object array element) whose count is
// patched when it is closed.
type frame struct {
	countPos int
	count    int
}

// Writer appends encoded values to a buffer. The zero value is ready to use.
type Writer struct {
	buf    []byte
	frames []frame
}

// NewWriter returns a Writer that appends to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Bytes returns the encoded bytes. It panics if an object is still open.
func (w *Writer) Bytes() []byte {
	if len(w.frames) != 0 {
		panic(errors.AssertionFailedf("codec: %d unterminated objects", len(w.frames)))
	}
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset discards all written bytes, retaining the buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.frames = w.frames[:0]
}

func (w *Writer) countValue() {
	if n := len(w.frames); n > 0 {
		w.frames[n-1].count++
	}
}

func (w *Writer) tag(t Tag) {
	w.countValue()
	w.buf = append(w.buf, byte(t))
}

// Bool writes a tagged bool.
func (w *Writer) Bool(v bool) {
	w.tag(TagBool)
	w.buf = appendBool(w.buf, v)
}

// Uint8 writes a tagged uint8.
func (w *Writer) Uint8(v uint8) {
	w.tag(TagUint8)
	w.buf = append(w.buf, v)
}

// Int32 writes a tagged int32.
func (w *Writer) Int32(v int32) {
	w.tag(TagInt32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// Uint32 writes a tagged uint32.
func (w *Writer) Uint32(v uint32) {
	w.tag(TagUint32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// Int64 writes a tagged int64.
func (w *Writer) Int64(v int64) {
	w.tag(TagInt64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

// Uint64 writes a tagged uint64.
func (w *Writer) Uint64(v uint64) {
	w.tag(TagUint64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// String writes a tagged, length-prefixed string.
func (w *Writer) String(v string) {
	w.tag(TagString)
	w.buf = appendLen(w.buf, len(v))
	w.buf = append(w.buf, v...)
}

// ByteSlice writes a tagged, length-prefixed byte slice.
func (w *Writer) ByteSlice(v []byte) {
	w.tag(TagBytes)
	w.buf = appendLen(w.buf, len(v))
	w.buf = append(w.buf, v...)
}

// Object writes an object record of the given type. The values written by fn
// become the object's fields.
func (w *Writer) Object(id TypeID, fn func(w *Writer)) {
	w.tag(TagObject)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(id))
	w.openFrame()
	fn(w)
	w.closeFrame()
}

// ObjectArray writes an array of n objects of the given type. fn is invoked
// once per element and writes that element's fields.
func (w *Writer) ObjectArray(id TypeID, n int, fn func(i int, w *Writer)) {
	w.tag(TagArray)
	w.buf = append(w.buf, byte(TagObject))
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(id))
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(n))
	for i := 0; i < n; i++ {
		w.openFrame()
		fn(i, w)
		w.closeFrame()
	}
}

// Int64Array writes an array of untagged int64 payloads.
func (w *Writer) Int64Array(vs []int64) {
	w.tag(TagArray)
	w.buf = append(w.buf, byte(TagInt64))
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(vs)))
	for _, v := range vs {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
	}
}

// StringArray writes an array of untagged, length-prefixed strings.
func (w *Writer) StringArray(vs []string) {
	w.tag(TagArray)
	w.buf = append(w.buf, byte(TagString))
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(vs)))
	for _, v := range vs {
		w.buf = appendLen(w.buf, len(v))
		w.buf = append(w.buf, v...)
	}
}

func (w *Writer) openFrame() {
	w.frames = append(w.frames, frame{countPos: len(w.buf)})
	w.buf = append(w.buf, 0, 0)
}

func (w *Writer) closeFrame() {
	n := len(w.frames) - 1
	f := w.frames[n]
	w.frames = w.frames[:n]
	if f.count > math.MaxUint16 {
		panic(errors.AssertionFailedf("codec: object with %d fields", f.count))
	}
	binary.LittleEndian.PutUint16(w.buf[f.countPos:], uint16(f.count))
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendLen(buf []byte, n int) []byte {
	if n > math.MaxInt32 {
		panic(errors.AssertionFailedf("codec: value of length %d", n))
	}
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(n)))
}
