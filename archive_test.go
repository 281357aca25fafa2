// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type testLogger = base.NoopLogger

func randBytes(seed uint64, n int) []byte {
	rng := rand.New(rand.NewPCG(seed, seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

// mustCreateFile creates a file under d holding data.
func mustCreateFile(t *testing.T, d Dir, name string, data []byte) File {
	t.Helper()
	f, err := d.CreateFile(name)
	require.NoError(t, err)
	if len(data) > 0 {
		s, err := f.Open(AccessWrite, ShareNone)
		require.NoError(t, err)
		n, err := s.Write(data)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.NoError(t, s.Close())
	}
	return f
}

func mustReadFile(t *testing.T, f File) []byte {
	t.Helper()
	s, err := f.Open(AccessRead, ShareRead)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	b, err := io.ReadAll(s)
	require.NoError(t, err)
	return b
}

func TestArchiveReopen(t *testing.T) {
	defer leaktest.AfterTest(t)()
	opts := testOptions()

	a, err := Open("A", opts)
	require.NoError(t, err)
	docs, err := a.Root().CreateDir("docs")
	require.NoError(t, err)
	data := randBytes(1, 10000)
	f := mustCreateFile(t, docs, "readme.txt", data)

	n, err := f.node()
	require.NoError(t, err)
	chain, err := a.alloc.chain(n.start)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	var used int64
	for i, b := range chain {
		require.Equal(t, base.BlockTypeBinary, b.Type)
		if i < len(chain)-1 {
			require.Equal(t, b.Length, b.Used)
		}
		used += b.Used
	}
	require.EqualValues(t, 10000, used)
	require.NoError(t, a.Close())

	a, err = Open("A", opts)
	require.NoError(t, err)
	e, err := a.Lookup("docs/readme.txt")
	require.NoError(t, err)
	f, ok := e.AsFile()
	require.True(t, ok)
	length, err := f.Length()
	require.NoError(t, err)
	require.EqualValues(t, 10000, length)
	require.Equal(t, data, mustReadFile(t, f))

	docs, err = a.LookupDir("docs")
	require.NoError(t, err)
	files, err := docs.FileCount()
	require.NoError(t, err)
	require.Equal(t, 1, files)
	children, err := docs.Children()
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "readme.txt", children[0].Name())
	require.NoError(t, a.Close())
}

// TestArchiveCreateAfterFlush creates blocks after a directory flush moved
// the directory's table to a later extent than the highest block id.
func TestArchiveCreateAfterFlush(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	f := vfs.NewMemFile(nil)
	opts := testOptions()

	a, err := OpenStore("flushed", f, opts)
	require.NoError(t, err)
	docs, err := a.Root().CreateDir("docs")
	require.NoError(t, err)
	one := randBytes(2, 3000)
	mustCreateFile(t, docs, "one", one)
	require.NoError(t, a.Flush(ctx))
	two := randBytes(3, 5000)
	mustCreateFile(t, docs, "two", two)
	require.NoError(t, a.Flush(ctx))
	for _, o := range a.alloc.overlaps() {
		t.Errorf("block %s intersects block %s", o.A, o.B)
	}
	require.NoError(t, a.Close())

	a, err = OpenStore("flushed", f, opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()
	for name, want := range map[string][]byte{"docs/one": one, "docs/two": two} {
		e, err := a.Lookup(name)
		require.NoError(t, err)
		got, ok := e.AsFile()
		require.True(t, ok)
		require.Equal(t, want, mustReadFile(t, got), "%s", name)
	}
	report, err := a.CheckConsistency(ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "%s", report)
}

func TestCheckConsistencyExtents(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "extents", withoutBackgroundFlush)
	defer func() { require.NoError(t, a.Close()) }()
	f := mustCreateFile(t, a.Root(), "f", []byte("data"))
	report, err := a.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK(), "%s", report)

	// Move the file's block onto the root table. Every block is still in
	// exactly one chain.
	n, err := f.node()
	require.NoError(t, err)
	a.alloc.mu.Lock()
	root, err := a.alloc.mu.tbl.Get(base.RootTableBlock)
	require.NoError(t, err)
	b, err := a.alloc.mu.tbl.Get(n.start)
	require.NoError(t, err)
	b.Start = root.Start
	a.alloc.mu.Unlock()

	report, err = a.CheckConsistency(context.Background())
	require.True(t, base.IsCorruptionError(err), "%v", err)
	require.Len(t, report.Overlaps, 1)
	require.Contains(t, report.Overlaps[0], "intersects")
	require.Empty(t, report.Dangling)
	require.Empty(t, report.Orphans)
}

func TestArchiveTreeReopen(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, alg := range []Compression{NoCompression, SnappyCompression, MinLZCompression, ZstdCompression} {
		t.Run(alg.String(), func(t *testing.T) {
			opts := testOptions()
			opts.DirCompression = alg
			a, err := Open("tree", opts)
			require.NoError(t, err)

			want := map[string][]byte{}
			for i := 0; i < 4; i++ {
				d, err := a.MkdirAll(fmt.Sprintf("d%d/sub", i))
				require.NoError(t, err)
				for j := 0; j < 3; j++ {
					name := fmt.Sprintf("f%d", j)
					data := randBytes(uint64(10*i+j), 100*(i+j))
					mustCreateFile(t, d, name, data)
					want[fmt.Sprintf("/d%d/sub/%s", i, name)] = data
				}
			}
			// A file and a directory may share a name.
			_, err = a.Root().CreateDir("same")
			require.NoError(t, err)
			mustCreateFile(t, a.Root(), "same", []byte("file"))
			want["/same"] = []byte("file")
			require.NoError(t, a.Close())

			a, err = Open("tree", opts)
			require.NoError(t, err)
			defer func() { require.NoError(t, a.Close()) }()

			rootFiles, err := a.Root().FileCount()
			require.NoError(t, err)
			require.Equal(t, 1, rootFiles)
			rootDirs, err := a.Root().DirCount()
			require.NoError(t, err)
			require.Equal(t, 5, rootDirs)
			require.False(t, a.Root().Loaded())

			for path, data := range want {
				e, err := a.Lookup(path)
				require.NoError(t, err, path)
				p, err := e.Path()
				require.NoError(t, err)
				require.Equal(t, path, p)
				f, ok := e.AsFile()
				require.True(t, ok, path)
				require.Equal(t, len(data), len(mustReadFile(t, f)), path)
				if len(data) > 0 {
					require.Equal(t, data, mustReadFile(t, f), path)
				}
			}
			same, err := a.Root().Dir("same")
			require.NoError(t, err)
			depth, err := same.Depth()
			require.NoError(t, err)
			require.Equal(t, 1, depth)

			report, err := a.CheckConsistency(context.Background())
			require.NoError(t, err)
			require.True(t, report.OK(), "%s", report)
		})
	}
}

func TestArchiveHeaderConsistency(t *testing.T) {
	defer leaktest.AfterTest(t)()
	f := vfs.NewMemFile(nil)
	opts := testOptions()
	a, err := OpenStore("hdr", f, opts)
	require.NoError(t, err)

	readHeader := func() header {
		buf := make([]byte, HeaderSize)
		_, err := f.ReadAt(buf, 0)
		require.NoError(t, err)
		h, err := decodeHeader(buf)
		require.NoError(t, err)
		return h
	}
	h := readHeader()
	require.EqualValues(t, base.NumReservedBlocks, h.BlockCount)
	require.Equal(t, "hdr", h.Name)

	for i := 0; i < 5; i++ {
		_, err := a.Root().CreateDir(fmt.Sprintf("dir%d", i))
		require.NoError(t, err)
	}
	mustCreateFile(t, a.Root(), "file", randBytes(3, 9000))
	require.NoError(t, a.Flush(context.Background()))

	h = readHeader()
	require.EqualValues(t, a.alloc.count(), h.BlockCount)
	require.EqualValues(t, 1, h.RootFileCount)
	require.EqualValues(t, 5, h.RootDirCount)
	require.False(t, h.Packaged)

	require.NoError(t, a.Package())
	require.True(t, a.Packaged())
	require.NoError(t, a.Flush(context.Background()))
	require.True(t, readHeader().Packaged)

	// Growth clears the packaged flag.
	mustCreateFile(t, a.Root(), "more", randBytes(4, 3*DefaultBlockLength))
	require.False(t, a.Packaged())
	require.NoError(t, a.Close())
	h = readHeader()
	require.False(t, h.Packaged)
	require.EqualValues(t, 2, h.RootFileCount)

	info, err := f.Stat()
	require.NoError(t, err)
	a, err = OpenStore("hdr", f, opts)
	require.NoError(t, err)
	require.Equal(t, int(h.BlockCount), a.alloc.count())
	require.NoError(t, a.Close())
	info2, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, info.Size(), info2.Size())
}

func TestArchiveCorruptHeader(t *testing.T) {
	defer leaktest.AfterTest(t)()
	build := func(t *testing.T) (vfs.File, header) {
		f := vfs.NewMemFile(nil)
		a, err := OpenStore("corrupt", f, testOptions())
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			mustCreateFile(t, a.Root(), fmt.Sprintf("f%d", i), randBytes(uint64(i), 5000))
		}
		require.NoError(t, a.Close())
		buf := make([]byte, HeaderSize)
		_, err = f.ReadAt(buf, 0)
		require.NoError(t, err)
		h, err := decodeHeader(buf)
		require.NoError(t, err)
		return f, h
	}
	rewrite := func(t *testing.T, f vfs.File, h header) {
		_, err := f.WriteAt(encodeTestHeader(t, h), 0)
		require.NoError(t, err)
	}
	requireCorrupt := func(t *testing.T, f vfs.File) {
		_, err := OpenStore("corrupt", f, testOptions())
		require.True(t, IsCorruptionError(err), "%v", err)
		require.NotContains(t, OpenArchives(), "corrupt")
	}

	t.Run("checksum", func(t *testing.T) {
		f, _ := build(t)
		buf := make([]byte, 1)
		_, err := f.ReadAt(buf, 20)
		require.NoError(t, err)
		buf[0] ^= 0x10
		_, err = f.WriteAt(buf, 20)
		require.NoError(t, err)
		requireCorrupt(t, f)
	})
	t.Run("undercount", func(t *testing.T) {
		f, h := build(t)
		h.BlockCount--
		rewrite(t, f, h)
		requireCorrupt(t, f)
	})
	t.Run("overcount", func(t *testing.T) {
		f, h := build(t)
		h.BlockCount++
		rewrite(t, f, h)
		requireCorrupt(t, f)
	})
	t.Run("truncated", func(t *testing.T) {
		f, _ := build(t)
		info, err := f.Stat()
		require.NoError(t, err)
		require.NoError(t, f.Truncate(info.Size()-100))
		requireCorrupt(t, f)
	})
	t.Run("valid", func(t *testing.T) {
		f, h := build(t)
		rewrite(t, f, h)
		a, err := OpenStore("corrupt", f, testOptions())
		require.NoError(t, err)
		require.NoError(t, a.Close())
	})
}

func TestArchiveRegistry(t *testing.T) {
	defer leaktest.AfterTest(t)()
	opts := testOptions()
	a, err := Open("dup.bfs", opts)
	require.NoError(t, err)
	require.Contains(t, OpenArchives(), "dup.bfs")

	_, err = OpenStore("DUP.bfs", vfs.NewMemFile(nil), opts)
	require.True(t, errors.Is(err, ErrNameConflict), "%v", err)

	require.NoError(t, a.Close())
	require.NotContains(t, OpenArchives(), "dup.bfs")
	require.True(t, errors.Is(a.Close(), ErrClosed))

	a, err = Open("dup.bfs", opts)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = OpenStore("bad/name", vfs.NewMemFile(nil), opts)
	require.True(t, errors.Is(err, ErrInvalidName), "%v", err)
}

func TestArchiveAllocationReuse(t *testing.T) {
	defer leaktest.AfterTest(t)()
	opts := testOptions()
	opts.private.disableBackgroundFlush = true
	a, err := OpenStore("reuse", vfs.NewMemFile(nil), opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	b, grew := a.alloc.getEmpty(base.BlockTypeBinary, DefaultBlockLength)
	require.True(t, grew)
	require.Equal(t, base.BlockTypeBinary, b.Type)
	require.NoError(t, a.alloc.deallocate(b.ID))

	count := a.alloc.count()
	r, grew := a.alloc.getEmpty(base.BlockTypeFileTable, DefaultBlockLength/2+1)
	require.False(t, grew)
	require.Equal(t, count, a.alloc.count())
	require.Equal(t, b.ID, r.ID)
	require.Equal(t, b.Start, r.Start)
	require.Equal(t, base.BlockTypeFileTable, r.Type)
	require.EqualValues(t, 0, r.Used)
	require.Equal(t, base.InvalidBlock, r.Next)

	// A block of at most half the requested length is not reused.
	require.NoError(t, a.alloc.deallocate(r.ID))
	n, grew := a.alloc.getEmpty(base.BlockTypeBinary, 2*DefaultBlockLength)
	require.True(t, grew)
	require.NotEqual(t, b.ID, n.ID)

	// Deleting a file frees its chain for the next entry.
	f := mustCreateFile(t, a.Root(), "f", nil)
	fn, err := f.node()
	require.NoError(t, err)
	start := fn.start
	require.NoError(t, f.Delete())
	d, err := a.Root().CreateDir("d")
	require.NoError(t, err)
	dn, err := d.node()
	require.NoError(t, err)
	require.Equal(t, start, dn.start)
}

func TestArchiveRegionGrowth(t *testing.T) {
	defer leaktest.AfterTest(t)()
	opts := testOptions()
	opts.BlockLength = MinBlockLength
	opts.BlockTableLength = 512
	var grown atomic.Int32
	opts.EventListener = &EventListener{
		BlockTableGrown: func(info BlockTableGrowthInfo) {
			grown.Add(1)
		},
	}
	f := vfs.NewMemFile(nil)
	a, err := OpenStore("growth", f, opts)
	require.NoError(t, err)

	const files = 40
	for i := 0; i < files; i++ {
		mustCreateFile(t, a.Root(), fmt.Sprintf("f%02d", i), []byte{byte(i)})
	}
	regions := a.alloc.regions()
	require.GreaterOrEqual(t, len(regions), 2)
	require.EqualValues(t, len(regions)-1, grown.Load())

	a.alloc.mu.Lock()
	tbl := a.alloc.mu.tbl
	second, err := tbl.Get(regions[1])
	require.NoError(t, err)
	require.Equal(t, base.BlockTypeBlockTable, second.Type)
	first, err := tbl.Get(regions[0])
	require.NoError(t, err)
	require.Equal(t, regions[1], first.Next)
	perRegion := int(first.Length) / 36
	id := base.BlockID(perRegion)
	require.Equal(t, 1, tbl.RegionOf(id))
	pos, err := tbl.FindPosition(id)
	require.NoError(t, err)
	require.Equal(t, second.Start, pos)
	last, err := tbl.FindPosition(base.BlockID(2*perRegion - 1))
	require.NoError(t, err)
	require.Less(t, last, second.End())
	_, err = tbl.FindPosition(base.BlockID(tbl.Capacity()))
	require.Error(t, err)
	a.alloc.mu.Unlock()
	require.NoError(t, a.Close())

	a, err = OpenStore("growth", f, opts)
	require.NoError(t, err)
	require.Equal(t, regions, a.alloc.regions())
	children, err := a.Root().Children()
	require.NoError(t, err)
	require.Len(t, children, files)
	for i, c := range children {
		fc, _ := c.AsFile()
		require.Equal(t, []byte{byte(i)}, mustReadFile(t, fc))
	}
	require.NoError(t, a.Close())
}

func TestArchiveReadOnly(t *testing.T) {
	defer leaktest.AfterTest(t)()
	opts := testOptions()
	a, err := Open("ro", opts)
	require.NoError(t, err)
	mustCreateFile(t, a.Root(), "f", []byte("hello"))
	require.NoError(t, a.Close())

	ro := opts.Clone()
	ro.ReadOnly = true
	a, err = Open("ro", ro)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()
	require.True(t, a.ReadOnly())

	f, err := a.Root().File("f")
	require.NoError(t, err)
	require.Equal(t, AccessRead, f.Access())
	require.Equal(t, []byte("hello"), mustReadFile(t, f))
	_, err = f.Open(AccessWrite, ShareRead)
	require.True(t, errors.Is(err, ErrReadOnly), "%v", err)
	_, err = a.Root().CreateDir("x")
	require.True(t, errors.Is(err, ErrReadOnly), "%v", err)
	require.True(t, errors.Is(f.Rename("g"), ErrReadOnly))
	require.True(t, errors.Is(f.Delete(), ErrReadOnly))
	require.True(t, errors.Is(a.Package(), ErrReadOnly))

	_, err = Open("missing", ro)
	require.Error(t, err)
}

func TestArchiveClosed(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a, err := OpenStore("closed", vfs.NewMemFile(nil), testOptions())
	require.NoError(t, err)
	f := mustCreateFile(t, a.Root(), "f", []byte("x"))
	s, err := f.Open(AccessRead, ShareReadWrite)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// Close closed the open stream.
	require.True(t, errors.Is(s.Close(), ErrClosed))
	require.False(t, f.Exists())
	_, err = a.Root().CreateFile("g")
	require.True(t, errors.Is(err, ErrClosed), "%v", err)
	_, err = a.Lookup("f")
	require.True(t, errors.Is(err, ErrClosed), "%v", err)
	require.True(t, errors.Is(a.Flush(context.Background()), ErrClosed))
	require.Zero(t, a.alloc.count())
}

func TestArchiveBackgroundFlush(t *testing.T) {
	defer leaktest.AfterTest(t)()
	var flushed atomic.Int32
	opts := testOptions()
	opts.EventListener = &EventListener{
		DirFlushed: func(info DirFlushInfo) {
			if info.Err == nil {
				flushed.Add(1)
			}
		},
	}
	f := vfs.NewMemFile(nil)
	a, err := OpenStore("bg", f, opts)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := a.Root().CreateDir(fmt.Sprintf("d%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, a.Flush(context.Background()))
	require.Greater(t, flushed.Load(), int32(0))

	m := a.Metrics()
	require.EqualValues(t, flushed.Load(), m.Dirs.Flushes)
	require.Zero(t, m.Dirs.FlushFailed)
	require.NotEmpty(t, m.String())

	length, err := a.Root().Length()
	require.NoError(t, err)
	require.Greater(t, length, int64(0))
	require.NoError(t, a.Close())

	a, err = OpenStore("bg", f, opts)
	require.NoError(t, err)
	children, err := a.Root().Children()
	require.NoError(t, err)
	require.Len(t, children, 20)
	for i, c := range children {
		require.Equal(t, fmt.Sprintf("d%d", i), c.Name())
		require.Equal(t, KindDir, c.Kind())
	}
	require.NoError(t, a.Close())
}

func TestArchiveFlushFailure(t *testing.T) {
	defer leaktest.AfterTest(t)()
	var index atomic.Int32
	index.Store(1 << 30)
	inj := &vfs.ErrorInjector{Index: &index, Mode: vfs.ErrorFSWrite}
	f := vfs.NewErrorFile(inj, vfs.NewMemFile(nil))

	opts := testOptions()
	opts.private.disableBackgroundFlush = true
	a, err := OpenStore("flakey", f, opts)
	require.NoError(t, err)
	_, err = a.Root().CreateDir("d")
	require.NoError(t, err)

	// Fail the next write.
	index.Store(0)
	err = a.Flush(context.Background())
	require.True(t, errors.Is(err, vfs.ErrInjected), "%v", err)

	// The failure is reported once.
	index.Store(1 << 30)
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Close())
}
