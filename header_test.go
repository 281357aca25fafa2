// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"testing"

	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/stretchr/testify/require"
)

func encodeTestHeader(t *testing.T, h header) []byte {
	w := codec.NewWriter(nil)
	h.Encode(w)
	buf := w.Bytes()
	require.LessOrEqual(t, len(buf), HeaderSize)
	padded := make([]byte, HeaderSize)
	copy(padded, buf)
	return padded
}

func TestHeaderRoundTrip(t *testing.T) {
	h := header{
		Version:          headerVersion,
		Name:             "archive.bfs",
		BlockCount:       17,
		Packaged:         true,
		RootFileCount:    3,
		RootDirCount:     2,
		BlockTableLength: 4096,
	}
	got, err := decodeHeader(encodeTestHeader(t, h))
	require.NoError(t, err)
	got.sum, got.sumEnd = 0, 0
	require.Equal(t, h, got)
}

func TestHeaderLongName(t *testing.T) {
	name := make([]byte, MaxNameLength)
	for i := range name {
		name[i] = 'n'
	}
	h := header{Version: headerVersion, Name: string(name), BlockCount: 2, BlockTableLength: 4096}
	got, err := decodeHeader(encodeTestHeader(t, h))
	require.NoError(t, err)
	require.Equal(t, h.Name, got.Name)
}

func TestHeaderCorruption(t *testing.T) {
	valid := header{Version: headerVersion, Name: "a", BlockCount: 4, BlockTableLength: 4096}

	t.Run("checksum", func(t *testing.T) {
		buf := encodeTestHeader(t, valid)
		// Flip a bit inside the root dir count.
		w := codec.NewWriter(nil)
		valid.Encode(w)
		buf[len(w.Bytes())-20] ^= 0x01
		_, err := decodeHeader(buf)
		require.True(t, IsCorruptionError(err), "%v", err)
	})

	t.Run("zeroes", func(t *testing.T) {
		_, err := decodeHeader(make([]byte, HeaderSize))
		require.True(t, IsCorruptionError(err), "%v", err)
	})

	for _, tc := range []struct {
		name string
		h    header
	}{
		{"version", header{Version: 9, Name: "a", BlockCount: 4}},
		{"count", header{Version: headerVersion, Name: "a", BlockCount: 1}},
		{"root-files", header{Version: headerVersion, Name: "a", BlockCount: 4, RootFileCount: -1}},
		{"root-dirs", header{Version: headerVersion, Name: "a", BlockCount: 4, RootDirCount: -3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeHeader(encodeTestHeader(t, tc.h))
			require.True(t, IsCorruptionError(err), "%v", err)
		})
	}
}
