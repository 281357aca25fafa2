// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T, name string, configure ...func(*Options)) *Archive {
	t.Helper()
	opts := testOptions()
	for _, fn := range configure {
		fn(opts)
	}
	a, err := OpenStore(name, vfs.NewMemFile(nil), opts)
	require.NoError(t, err)
	return a
}

func withoutBackgroundFlush(o *Options) {
	o.private.disableBackgroundFlush = true
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"a", "readme.txt", "ünïcödé", " spaced ", strings.Repeat("x", MaxNameLength)} {
		require.NoError(t, ValidateName(name), "%q", name)
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "nul\x00", "\xff\xfe", strings.Repeat("x", MaxNameLength+1)} {
		err := ValidateName(name)
		require.True(t, errors.Is(err, ErrInvalidName), "%q: %v", name, err)
	}
}

func TestIdentity(t *testing.T) {
	a := Identity{Name: "Readme.TXT", Kind: KindFile}
	require.True(t, a.Equal(Identity{Name: "readme.txt", Kind: KindFile}))
	require.False(t, a.Equal(Identity{Name: "readme.txt", Kind: KindDir}))
	require.False(t, a.Equal(Identity{Name: "readme", Kind: KindFile}))
	require.Equal(t, "file Readme.TXT", a.String())
	require.Equal(t, "dir", KindDir.String())
}

func TestCreateConflicts(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "conflicts")
	defer func() { require.NoError(t, a.Close()) }()
	root := a.Root()

	_, err := root.CreateFile("Name")
	require.NoError(t, err)
	_, err = root.CreateFile("NAME")
	require.True(t, errors.Is(err, ErrNameConflict), "%v", err)
	_, err = root.CreateDir("name")
	require.NoError(t, err)
	_, err = root.CreateDir("nAmE")
	require.True(t, errors.Is(err, ErrNameConflict), "%v", err)
	_, err = root.CreateFile("a/b")
	require.True(t, errors.Is(err, ErrInvalidName), "%v", err)

	files, err := root.FileCount()
	require.NoError(t, err)
	dirs, err := root.DirCount()
	require.NoError(t, err)
	require.Equal(t, 1, files)
	require.Equal(t, 1, dirs)

	// Lookup prefers the file.
	e, err := root.Lookup("name")
	require.NoError(t, err)
	require.Equal(t, KindFile, e.Kind())
	e, err = a.Lookup("/NAME")
	require.NoError(t, err)
	require.Equal(t, KindFile, e.Kind())
	d, err := a.LookupDir("name")
	require.NoError(t, err)
	require.Equal(t, KindDir, d.Kind())
	require.Equal(t, "Name", e.Name())
	require.Equal(t, "name", d.Name())

	_, err = root.Child("missing", KindFile)
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)
	_, err = a.Lookup("name/missing/deeper")
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)
}

func TestRename(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "rename")
	defer func() { require.NoError(t, a.Close()) }()
	root := a.Root()

	f := mustCreateFile(t, root, "a", []byte("payload"))
	mustCreateFile(t, root, "b", nil)
	d, err := root.CreateDir("a")
	require.NoError(t, err)

	// Renaming onto a sibling of the same kind fails and changes nothing.
	err = f.Rename("B")
	require.True(t, errors.Is(err, ErrNameConflict), "%v", err)
	require.Equal(t, "a", f.Name())

	// A directory of the same name is not a conflict.
	require.NoError(t, d.Rename("b"))
	// Changing only the case of a name is allowed.
	require.NoError(t, f.Rename("A"))
	require.Equal(t, "A", f.Name())
	require.NoError(t, f.Rename("c"))

	_, err = root.File("a")
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)
	got, err := a.Lookup("c")
	require.NoError(t, err)
	require.Equal(t, f.Entry, got)
	require.Equal(t, []byte("payload"), mustReadFile(t, f))

	// The path cache does not return stale names.
	_, err = a.Lookup("b/")
	require.NoError(t, err)
	require.NoError(t, d.Rename("e"))
	e, err := a.Lookup("b")
	require.NoError(t, err)
	require.Equal(t, KindFile, e.Kind())
	_, err = a.LookupDir("b")
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)

	require.True(t, errors.Is(root.Rename("x"), ErrAccess))
	require.True(t, errors.Is(f.Rename(".."), ErrInvalidName))
}

func TestDelete(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "delete", withoutBackgroundFlush)
	defer func() { require.NoError(t, a.Close()) }()
	root := a.Root()

	d, err := a.MkdirAll("d/e")
	require.NoError(t, err)
	f := mustCreateFile(t, d, "f", randBytes(5, 3*DefaultBlockLength))
	top, err := root.Dir("d")
	require.NoError(t, err)
	mustCreateFile(t, top, "g", []byte("g"))

	// A stream open on a descendant prevents the deletion.
	s, err := f.Open(AccessRead, ShareReadWrite)
	require.NoError(t, err)
	err = top.Delete()
	require.True(t, errors.Is(err, ErrInUse), "%v", err)
	require.True(t, top.Exists())
	require.True(t, d.Exists())
	require.True(t, f.Exists())
	files, err := top.FileCount()
	require.NoError(t, err)
	require.Equal(t, 1, files)
	require.NoError(t, s.Close())

	blocks := a.alloc.count()
	require.NoError(t, top.Delete())
	require.False(t, top.Exists())
	require.False(t, d.Exists())
	require.False(t, f.Exists())
	require.Equal(t, blocks, a.alloc.count())
	dirs, err := root.DirCount()
	require.NoError(t, err)
	require.Zero(t, dirs)

	_, err = f.Open(AccessRead, ShareRead)
	require.True(t, errors.Is(err, ErrDeleted), "%v", err)
	_, err = d.CreateFile("x")
	require.True(t, errors.Is(err, ErrDeleted), "%v", err)
	require.True(t, errors.Is(top.Delete(), ErrDeleted))
	require.True(t, errors.Is(f.Rename("y"), ErrDeleted))
	_, err = a.Lookup("d/e/f")
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)
	require.True(t, errors.Is(root.Delete(), ErrAccess))

	// The freed blocks are reused.
	mustCreateFile(t, root, "h", randBytes(6, 3*DefaultBlockLength))
	require.Equal(t, blocks, a.alloc.count())

	report, err := a.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK(), "%s", report)
	m := a.Metrics()
	require.Greater(t, m.Blocks.Deallocated, int64(0))
}

func TestEntryAccessors(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "accessors")
	defer func() { require.NoError(t, a.Close()) }()

	root := a.Root()
	require.True(t, root.IsRoot())
	require.Equal(t, "", root.Name())
	_, ok := root.Owner()
	require.False(t, ok)
	p, err := root.Path()
	require.NoError(t, err)
	require.Equal(t, "/", p)
	require.Same(t, a, root.Archive())

	d, err := a.MkdirAll("x/y")
	require.NoError(t, err)
	f := mustCreateFile(t, d, "z", []byte("abc"))
	depth, err := f.Depth()
	require.NoError(t, err)
	require.Equal(t, 3, depth)
	owner, ok := f.Owner()
	require.True(t, ok)
	require.Equal(t, d.Entry, owner.Entry)
	p, err = f.Path()
	require.NoError(t, err)
	require.Equal(t, "/x/y/z", p)
	require.Equal(t, AccessReadWrite, f.Access())
	require.Equal(t, Identity{Name: "z", Kind: KindFile}, f.Identity())
	length, err := f.Length()
	require.NoError(t, err)
	require.EqualValues(t, 3, length)
	_, ok = f.AsDir()
	require.False(t, ok)

	var zero Entry
	require.False(t, zero.Exists())
	require.Zero(t, zero.Access())
	require.Equal(t, []string{"x", "y"}, SplitPath("//x/y/"))
	require.Empty(t, SplitPath("/"))
}
