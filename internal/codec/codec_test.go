// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package codec

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	A     bool
	B     uint8
	C     int32
	D     uint32
	E     int64
	F     uint64
	G     string
	H     []byte
	Items []testItem
	Ints  []int64
	Strs  []string
}

type testItem struct {
	Name string
	N    int64
}

const (
	typeRecord TypeID = 7
	typeItem   TypeID = 8
)

func (r *testRecord) Encode(w *Writer) {
	w.Object(typeRecord, func(w *Writer) {
		w.Bool(r.A)
		w.Uint8(r.B)
		w.Int32(r.C)
		w.Uint32(r.D)
		w.Int64(r.E)
		w.Uint64(r.F)
		w.String(r.G)
		w.ByteSlice(r.H)
		w.ObjectArray(typeItem, len(r.Items), func(i int, w *Writer) {
			w.String(r.Items[i].Name)
			w.Int64(r.Items[i].N)
		})
		w.Int64Array(r.Ints)
		w.StringArray(r.Strs)
	})
}

func (r *testRecord) Decode(rd *Reader) error {
	o, err := rd.Object(typeRecord)
	if err != nil {
		return err
	}
	// Values come back last-in-first-out.
	strs := o.PopArray(TagString, 0)
	ints := o.PopArray(TagInt64, 0)
	items := o.PopArray(TagObject, typeItem)
	r.H = o.PopBytes()
	r.G = o.PopString()
	r.F = o.PopUint64()
	r.E = o.PopInt64()
	r.D = o.PopUint32()
	r.C = o.PopInt32()
	r.B = o.PopUint8()
	r.A = o.PopBool()
	if err := o.Done(); err != nil {
		return err
	}
	for i := 0; i < items.Len(); i++ {
		io := items.Object(i)
		var it testItem
		it.N = io.PopInt64()
		it.Name = io.PopString()
		if err := io.Done(); err != nil {
			return err
		}
		r.Items = append(r.Items, it)
	}
	for i := 0; i < ints.Len(); i++ {
		r.Ints = append(r.Ints, ints.Int64(i))
	}
	for i := 0; i < strs.Len(); i++ {
		r.Strs = append(r.Strs, strs.String(i))
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	in := testRecord{
		A: true, B: 0xfe, C: -12345, D: 0xdeadbeef, E: -1 << 40, F: 1<<64 - 1,
		G: "hello", H: []byte{1, 2, 3},
		Items: []testItem{{"a", 1}, {"bb", -2}},
		Ints:  []int64{5, -6, 7},
		Strs:  []string{"x", "", "zz"},
	}
	var w Writer
	in.Encode(&w)
	var out testRecord
	r := NewReader(w.Bytes())
	require.NoError(t, out.Decode(r))
	require.Equal(t, 0, r.Remaining())
	if diff := pretty.Diff(in, out); diff != nil {
		t.Fatalf("round trip mismatch:\n%s", diff)
	}
}

func TestFixedSizes(t *testing.T) {
	var w Writer
	w.Object(1, func(w *Writer) {
		w.Int32(1)
		w.Uint8(2)
		w.Int64(3)
	})
	require.Equal(t, ObjectHeaderSize+Int32Size+Uint8Size+Int64Size, w.Len())

	w.Reset()
	w.String("abc")
	require.Equal(t, StringSize("abc"), w.Len())
}

func TestLIFOOrder(t *testing.T) {
	var w Writer
	w.Object(1, func(w *Writer) {
		w.Int32(1)
		w.Int32(2)
		w.Int32(3)
	})
	o, err := NewReader(w.Bytes()).Object(1)
	require.NoError(t, err)
	require.Equal(t, int32(3), o.PopInt32())
	require.Equal(t, int32(2), o.PopInt32())
	require.Equal(t, int32(1), o.PopInt32())
	require.NoError(t, o.Done())
}

func TestCorruption(t *testing.T) {
	encode := func(fn func(w *Writer)) []byte {
		var w Writer
		fn(&w)
		return append([]byte(nil), w.Bytes()...)
	}

	t.Run("unknown-tag", func(t *testing.T) {
		_, err := NewReader([]byte{0xee, 0, 0}).Value()
		require.True(t, base.IsCorruptionError(err), "%v", err)
	})

	t.Run("zeroed", func(t *testing.T) {
		_, err := NewReader(make([]byte, 16)).Value()
		require.True(t, base.IsCorruptionError(err), "%v", err)
	})

	t.Run("negative-length", func(t *testing.T) {
		b := encode(func(w *Writer) { w.String("abcd") })
		binary.LittleEndian.PutUint32(b[1:], uint32(0xffffffff))
		_, err := NewReader(b).Value()
		require.True(t, base.IsCorruptionError(err), "%v", err)
		require.Contains(t, err.Error(), "negative length")
	})

	t.Run("truncated", func(t *testing.T) {
		b := encode(func(w *Writer) { w.Int64(42) })
		_, err := NewReader(b[:len(b)-1]).Value()
		require.True(t, base.IsCorruptionError(err), "%v", err)
	})

	t.Run("count-mismatch", func(t *testing.T) {
		b := encode(func(w *Writer) {
			w.Object(3, func(w *Writer) {
				w.Int32(1)
				w.Int32(2)
			})
		})
		o, err := NewReader(b).Object(3)
		require.NoError(t, err)
		_ = o.PopInt32()
		err = o.Done()
		require.True(t, base.IsCorruptionError(err), "%v", err)

		o, err = NewReader(b).Object(3)
		require.NoError(t, err)
		o.PopInt32()
		o.PopInt32()
		o.PopInt32()
		require.True(t, base.IsCorruptionError(o.Done()))
	})

	t.Run("type-mismatch", func(t *testing.T) {
		b := encode(func(w *Writer) { w.Object(3, func(w *Writer) { w.Int64(1) }) })
		_, err := NewReader(b).Object(4)
		require.True(t, base.IsCorruptionError(err), "%v", err)

		o, err := NewReader(b).Object(3)
		require.NoError(t, err)
		o.PopInt32()
		require.True(t, base.IsCorruptionError(o.Done()))
	})
}
