// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/stretchr/testify/require"
)

// drain collects the changes delivered on w until it is closed.
func drain(t *testing.T, w *Watcher) []string {
	t.Helper()
	var changes []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case c, ok := <-w.C:
			if !ok {
				return changes
			}
			changes = append(changes, c.String())
		case <-timeout:
			t.Fatal("timed out waiting for the watcher to close")
		}
	}
}

func TestWatch(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "watch")
	root := a.Root()

	docs, err := root.CreateDir("docs")
	require.NoError(t, err)
	all, err := a.Watch(root.Entry, true /* descendants */)
	require.NoError(t, err)
	children, err := a.Watch(root.Entry, false /* descendants */)
	require.NoError(t, err)
	docsOnly, err := a.Watch(docs.Entry, false /* descendants */)
	require.NoError(t, err)

	sub, err := docs.CreateDir("sub")
	require.NoError(t, err)
	f := mustCreateFile(t, sub, "f", []byte("data"))
	top := mustCreateFile(t, root, "top", nil)
	require.NoError(t, f.Rename("g"))
	fileOnly, err := a.Watch(f.Entry, false /* descendants */)
	require.NoError(t, err)
	s, err := f.Open(AccessWrite, ShareNone)
	require.NoError(t, err)
	require.NoError(t, s.SetLength(1))
	require.NoError(t, s.Close())
	require.NoError(t, top.Delete())
	require.NoError(t, docs.Delete())

	// Closing the archive delivers everything published and closes every
	// watcher.
	require.NoError(t, a.Close())

	require.Equal(t, []string{
		"created dir sub",
		"created file f",
		"modified file f",
		"created file top",
		"renamed file g (was f)",
		"modified file g",
		"deleted file top",
		"deleted file g",
		"deleted dir sub",
		"deleted dir docs",
	}, drain(t, all))
	require.Equal(t, []string{
		"created file top",
		"deleted file top",
		"deleted dir docs",
	}, drain(t, children))
	require.Equal(t, []string{
		"created dir sub",
		"deleted dir sub",
		"deleted dir docs",
	}, drain(t, docsOnly))
	require.Equal(t, []string{
		"modified file g",
		"deleted file g",
	}, drain(t, fileOnly))
	require.Zero(t, all.Dropped())
}

func TestWatchClose(t *testing.T) {
	defer leaktest.AfterTest(t)()
	a := openTestArchive(t, "watch-close")
	defer func() { require.NoError(t, a.Close()) }()

	w, err := a.Watch(a.Root().Entry, true /* descendants */)
	require.NoError(t, err)
	w.Close()
	_, ok := <-w.C
	require.False(t, ok)
	// Closing twice is harmless.
	w.Close()

	_, err = a.Root().CreateDir("d")
	require.NoError(t, err)
	m := a.Metrics()
	require.EqualValues(t, 1, m.Changes)
}
