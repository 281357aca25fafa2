// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/compression"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

func testDirTable() dirTable {
	t := dirTable{
		Files: []fileRecord{
			{Name: "readme.txt", Start: 7, Length: 10000},
			{Name: "empty", Start: 12, Length: 0},
		},
		Dirs: []dirRecord{
			{Name: "docs", Start: 3, FileCount: 4, DirCount: 1},
		},
	}
	for i := 0; i < 50; i++ {
		t.Files = append(t.Files, fileRecord{
			Name:   fmt.Sprintf("file-%03d.dat", i),
			Start:  base.BlockID(100 + i),
			Length: int64(i * 512),
		})
	}
	return t
}

func TestDirTableRoundTrip(t *testing.T) {
	want := testDirTable()
	for a := compression.NoCompression; a < compression.NumAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			buf := encodeDirTable(&want, a)
			require.EqualValues(t, a, buf[8])
			got, err := decodeDirTable(buf)
			require.NoError(t, err)
			if diff := pretty.Diff(want, got); diff != nil {
				t.Fatalf("%s", strings.Join(diff, "\n"))
			}
		})
	}
}

func TestDirTableEmpty(t *testing.T) {
	got, err := decodeDirTable(nil)
	require.NoError(t, err)
	require.Empty(t, got.Files)
	require.Empty(t, got.Dirs)

	buf := encodeDirTable(&dirTable{}, compression.Snappy)
	got, err = decodeDirTable(buf)
	require.NoError(t, err)
	require.Empty(t, got.Files)
	require.Empty(t, got.Dirs)
}

func TestDirTableCorruption(t *testing.T) {
	valid := testDirTable()
	mutations := map[string]func([]byte) []byte{
		"truncated": func(b []byte) []byte { return b[:5] },
		"checksum":  func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b },
		"algorithm": func(b []byte) []byte { b[8] = 0x7f; return b },
		"short":     func(b []byte) []byte { return b[:len(b)-3] },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			buf := mutate(encodeDirTable(&valid, compression.Snappy))
			_, err := decodeDirTable(buf)
			require.True(t, IsCorruptionError(err), "%v", err)
		})
	}

	t.Run("negative-length", func(t *testing.T) {
		bad := dirTable{Files: []fileRecord{{Name: "f", Start: 4, Length: -1}}}
		_, err := decodeDirTable(encodeDirTable(&bad, compression.NoCompression))
		require.True(t, IsCorruptionError(err), "%v", err)
	})
	t.Run("negative-counts", func(t *testing.T) {
		bad := dirTable{Dirs: []dirRecord{{Name: "d", Start: 4, FileCount: -2}}}
		_, err := decodeDirTable(encodeDirTable(&bad, compression.Zstd))
		require.True(t, IsCorruptionError(err), "%v", err)
	})
}
