// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/datadriven"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// runTool executes one command line against fs and returns everything
// written to stdout and stderr.
func runTool(t *testing.T, fs vfs.FS, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	stdout = &buf
	stderr = &buf
	osExit = func(int) {}
	defer func() {
		stdout = os.Stdout
		stderr = os.Stderr
		osExit = os.Exit
	}()

	c := &cobra.Command{}
	c.AddCommand(New(FS(fs), Logger(base.NoopLogger{})).Commands...)
	c.SetArgs(args)
	c.SetOut(&buf)
	c.SetErr(&buf)
	if err := c.Execute(); err != nil {
		return err.Error()
	}
	return buf.String()
}

func TestArchiveCommands(t *testing.T) {
	fs := vfs.NewMem()
	datadriven.RunTest(t, "testdata/archive", func(t *testing.T, d *datadriven.TestData) string {
		args := []string{d.Cmd}
		for _, arg := range d.CmdArgs {
			args = append(args, arg.String())
		}
		args = append(args, strings.Fields(d.Input)...)
		return runTool(t, fs, args...)
	})
}

func TestPutFromStdin(t *testing.T) {
	fs := vfs.NewMem()
	stdin = strings.NewReader("from stdin")
	defer func() { stdin = os.Stdin }()
	require.Empty(t, runTool(t, fs, "archive", "put", "a.bfs", "x/y"))
	require.Equal(t, "from stdin", runTool(t, fs, "archive", "cat", "a.bfs", "x/y"))
}

func TestInspect(t *testing.T) {
	fs := vfs.NewMem()
	require.Empty(t, runTool(t, fs, "archive", "put", "i.bfs", "d/f", "--data=abc"))
	require.Empty(t, runTool(t, fs, "archive", "put", "i.bfs", "g", "--data=xyz"))

	out := runTool(t, fs, "inspect", "header", "i.bfs")
	require.Contains(t, out, "name:               i.bfs\n")
	require.Contains(t, out, "packaged:           false\n")
	require.Contains(t, out, "root files:         1\n")
	require.Contains(t, out, "root dirs:          1\n")

	out = runTool(t, fs, "inspect", "blocks", "i.bfs")
	require.Contains(t, out, "block-table")
	require.Contains(t, out, "file-table")
	require.Contains(t, out, "binary")

	// The chain of a three byte file is one binary block.
	out = runTool(t, fs, "inspect", "blocks", "i.bfs", "--chain=d/f")
	require.Equal(t, 1, strings.Count(out, "binary"), "%s", out)
	require.NotContains(t, out, "file-table")

	out = runTool(t, fs, "inspect", "metrics", "i.bfs")
	require.Contains(t, out, "blocks: ")
	require.Contains(t, out, "streams: 0 open")

	out = runTool(t, fs, "inspect", "check", "i.bfs")
	require.Equal(t, "i.bfs: ok\n", out)

	out = runTool(t, fs, "inspect", "header", "missing.bfs")
	require.Contains(t, out, "missing.bfs")
}

func TestInspectCorruptHeader(t *testing.T) {
	fs := vfs.NewMem()
	require.Empty(t, runTool(t, fs, "archive", "create", "c.bfs"))
	f, err := fs.OpenReadWrite("c.bfs")
	require.NoError(t, err)
	// Overwrite a byte of the archive name recorded in the header.
	_, err = f.WriteAt([]byte{0xff}, 29)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out := runTool(t, fs, "inspect", "header", "c.bfs")
	require.Contains(t, out, "checksum mismatch")
	out = runTool(t, fs, "archive", "ls", "c.bfs")
	require.Contains(t, out, "checksum mismatch")
}

func TestBench(t *testing.T) {
	fs := vfs.NewMem()
	out := runTool(t, fs, "bench", "write", "b.bfs", "--files=20", "--size=3000", "-c", "3", "--plot")
	require.Contains(t, out, "write: 20 files, ")
	require.Contains(t, out, "write latency (ms)")

	out = runTool(t, fs, "bench", "read", "b.bfs", "-c", "2")
	require.Contains(t, out, "read: 20 files, ")
	require.Contains(t, out, "latency(ms): p50")

	out = runTool(t, fs, "archive", "ls", "b.bfs", "bench")
	require.Equal(t, 20, strings.Count(out, " 3000\n"), "%s", out)
	require.Equal(t, "b.bfs: ok\n", runTool(t, fs, "inspect", "check", "b.bfs"))
}

func TestToolOptions(t *testing.T) {
	var got blockfs.Options
	tt := New(FS(vfs.NewMem()), Configure(func(o *blockfs.Options) {
		o.BlockLength = 512
		o.DirCompression = blockfs.ZstdCompression
	}))
	got = tt.opts
	require.EqualValues(t, 512, got.BlockLength)
	require.Equal(t, blockfs.ZstdCompression, got.DirCompression)
	require.NotNil(t, got.EventListener)
	require.Len(t, tt.Commands, 3)
}
