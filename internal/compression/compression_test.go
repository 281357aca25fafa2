// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundtrip(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))

	for a := NoCompression; a < NumAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			chunk := make([]byte, 16)
			for i := range chunk {
				chunk[i] = byte(rng.Uint32())
			}
			payload := bytes.Repeat(chunk, 64+rng.IntN(512))
			compressedBuf := make([]byte, 1+rng.IntN(1<<10 /* 1 KiB */))
			compressor := GetCompressor(a)
			defer compressor.Close()
			require.Equal(t, a, compressor.Algorithm())
			compressed := compressor.Compress(compressedBuf, payload)
			if a != NoCompression {
				require.Less(t, len(compressed), len(payload))
			}
			got, err := Decompress(a, bytes.Clone(compressed))
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestDecompressionError(t *testing.T) {
	rng := rand.New(rand.NewPCG(0, 1 /* fixed seed */))

	// A faux zstd block: a valid length prefix followed by garbage.
	fauxCompressed := make([]byte, 1024)
	n := binary.PutUvarint(fauxCompressed, 4096)
	for i := n; i < len(fauxCompressed); i++ {
		fauxCompressed[i] = byte(rng.Uint32())
	}
	v, err := Decompress(Zstd, fauxCompressed)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Nil(t, v)

	_, err = Decompress(NumAlgorithms, fauxCompressed)
	require.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	for a := NoCompression; a < NumAlgorithms; a++ {
		got, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	got, err := ParseAlgorithm("ZSTD")
	require.NoError(t, err)
	require.Equal(t, Zstd, got)
	_, err = ParseAlgorithm("lz4")
	require.Error(t, err)
}
