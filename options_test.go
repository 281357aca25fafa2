// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"testing"
	"time"

	"github.com/cockroachdb/blockfs/vfs"
	"github.com/stretchr/testify/require"
)

// testOptions returns options suitable for tests: an in-memory FS, a quiet
// logger and no background flushes unless enabled explicitly.
func testOptions() *Options {
	o := &Options{
		FS:             vfs.NewMem(),
		Logger:         testLogger{},
		DirCompression: SnappyCompression,
	}
	o.EnsureDefaults()
	return o
}

func TestOptionsString(t *testing.T) {
	const expected = `[Options]
  background_workers=8
  block_length=4096
  block_table_length=4096
  deallocation_bytes_per_sec=0
  dir_compression=snappy
  dispose_timeout=10s
  max_concurrent_flushes=4
  path_cache_size=256
  read_only=false
  scramble_freed_blocks=false
`
	require.Equal(t, expected, DefaultOptions().String())
}

func TestOptionsParse(t *testing.T) {
	o := &Options{
		BlockLength:             8192,
		BlockTableLength:        1024,
		DirCompression:          ZstdCompression,
		DisposeTimeout:          3 * time.Second,
		DeallocationBytesPerSec: 1 << 20,
		MaxConcurrentFlushes:    2,
		BackgroundWorkers:       3,
		PathCacheSize:           16,
		ReadOnly:                true,
		ScrambleFreedBlocks:     true,
	}
	o.EnsureDefaults()

	var parsed Options
	require.NoError(t, parsed.Parse(o.String()))
	parsed.EnsureDefaults()
	require.Equal(t, o.String(), parsed.String())

	t.Run("comments", func(t *testing.T) {
		var p Options
		require.NoError(t, p.Parse("# leading comment\n[Options]\n; another\n  block_length=1024\n\n"))
		require.EqualValues(t, 1024, p.BlockLength)
	})

	t.Run("errors", func(t *testing.T) {
		for _, s := range []string{
			"[Version]\n  x=1\n",
			"[Options]\n  nonexistent=1\n",
			"[Options]\n  block_length\n",
			"block_length=1\n",
			"[Options]\n  dir_compression=lz4\n",
			"[Options]\n  read_only=perhaps\n",
			"[Options]\n  dispose_timeout=10\n",
		} {
			var p Options
			require.Error(t, p.Parse(s), "%q", s)
		}
	})
}

func TestOptionsEnsureDefaults(t *testing.T) {
	o := &Options{BlockLength: 100, BlockTableLength: 10 << 20}
	o.EnsureDefaults()
	require.EqualValues(t, MinBlockLength, o.BlockLength)
	require.EqualValues(t, MaxBlockLength, o.BlockTableLength)
	require.Equal(t, NoCompression, o.DirCompression)
	require.NotNil(t, o.EventListener.BackgroundError)
	require.NotNil(t, o.EventListener.DirFlushed)
	require.NoError(t, o.Validate())

	o.DeallocationBytesPerSec = -1
	o.DirCompression = Compression(200)
	err := o.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeallocationBytesPerSec")
	require.Contains(t, err.Error(), "DirCompression")
}

func TestOptionsClone(t *testing.T) {
	var nilOpts *Options
	c := nilOpts.Clone()
	require.Equal(t, SnappyCompression, c.DirCompression)

	var flushed int
	o := &Options{EventListener: &EventListener{
		DirFlushed: func(DirFlushInfo) { flushed++ },
	}}
	c = o.Clone()
	c.EnsureDefaults()
	require.Nil(t, o.EventListener.BlockTableGrown)
	c.EventListener.DirFlushed(DirFlushInfo{})
	require.Equal(t, 1, flushed)
}
