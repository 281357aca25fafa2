// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blocktable

import (
	"testing"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

const testHeaderSize = 512

// persist writes the dirty descriptors of tbl into store.
func persist(t *testing.T, tbl *Table, store []byte) []byte {
	if n := int(tbl.End()); len(store) < n {
		store = append(store, make([]byte, n-len(store))...)
	}
	for _, b := range tbl.TakeDirty() {
		pos, err := tbl.FindPosition(b.ID)
		require.NoError(t, err)
		w := codec.NewWriter(nil)
		b.Encode(w)
		copy(store[pos:], w.Bytes())
	}
	return store
}

func reader(store []byte) ReadFunc {
	return func(off int64, n int) ([]byte, error) {
		if int(off)+n > len(store) {
			return nil, base.CorruptionErrorf("short read")
		}
		return store[off : int(off)+n], nil
	}
}

func buildTable(t *testing.T) (*Table, []byte) {
	tbl := Create(testHeaderSize, 512, 4096)
	// Enough blocks for three regions of 14 slots.
	for i := 0; i < 30; i++ {
		b, _ := tbl.GetEmpty(base.BlockTypeBinary, 512)
		if i%3 == 1 {
			require.NoError(t, tbl.Link(b.ID-1, b.ID))
		}
	}
	_, err := tbl.Deallocate(10)
	require.NoError(t, err)
	require.Len(t, tbl.Regions(), 3)
	return tbl, persist(t, tbl, nil)
}

func TestDecode(t *testing.T) {
	tbl, store := buildTable(t)
	got, err := Decode(tbl.Len(), testHeaderSize, 512, reader(store))
	require.NoError(t, err)
	require.Equal(t, tbl.Regions(), got.Regions())
	require.Equal(t, tbl.Capacity(), got.Capacity())
	require.Equal(t, tbl.End(), got.End())
	if diff := pretty.Diff(tbl.blocks, got.blocks); diff != nil {
		t.Fatalf("%v", diff)
	}
	for _, id := range []base.BlockID{0, 13, 14, 27, 28, 33} {
		want, err := tbl.FindPosition(id)
		require.NoError(t, err)
		pos, err := got.FindPosition(id)
		require.NoError(t, err)
		require.Equal(t, want, pos)
	}
}

func TestDecodeCorruption(t *testing.T) {
	tbl, store := buildTable(t)
	n := tbl.Len()

	check := func(t *testing.T, count int, regionLength int64, store []byte) {
		_, err := Decode(count, testHeaderSize, regionLength, reader(store))
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err), "%+v", err)
	}

	t.Run("count-too-large", func(t *testing.T) {
		check(t, n+1, 512, store)
	})
	t.Run("count-too-small", func(t *testing.T) {
		check(t, 1, 512, store)
	})
	t.Run("region-length", func(t *testing.T) {
		check(t, n, 1024, store)
	})
	t.Run("zeroed-slot", func(t *testing.T) {
		s := append([]byte(nil), store...)
		pos, err := tbl.FindPosition(20)
		require.NoError(t, err)
		clear(s[pos : pos+BTESize])
		check(t, n, 512, s)
	})
	t.Run("wrong-id", func(t *testing.T) {
		s := append([]byte(nil), store...)
		b := *tbl.blocks[5]
		b.ID = 6
		w := codec.NewWriter(nil)
		b.Encode(w)
		pos, err := tbl.FindPosition(5)
		require.NoError(t, err)
		copy(s[pos:], w.Bytes())
		check(t, n, 512, s)
	})
	t.Run("reserved-chain-target", func(t *testing.T) {
		s := append([]byte(nil), store...)
		b := *tbl.blocks[5]
		b.Next = base.RootTableBlock
		w := codec.NewWriter(nil)
		b.Encode(w)
		pos, err := tbl.FindPosition(5)
		require.NoError(t, err)
		copy(s[pos:], w.Bytes())
		check(t, n, 512, s)
	})
	t.Run("negative-length", func(t *testing.T) {
		s := append([]byte(nil), store...)
		b := *tbl.blocks[7]
		b.Length = -1
		w := codec.NewWriter(nil)
		b.Encode(w)
		pos, err := tbl.FindPosition(7)
		require.NoError(t, err)
		copy(s[pos:], w.Bytes())
		check(t, n, 512, s)
	})
}
