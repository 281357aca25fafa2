// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
)

var stdin = io.Reader(os.Stdin)
var stdout = io.Writer(os.Stdout)
var stderr = io.Writer(os.Stderr)
var osExit = os.Exit

// fail reports err on stderr and exits with a non-zero status.
func fail(err error) {
	fmt.Fprintf(stderr, "%s\n", err)
	osExit(1)
}

// closeArchive closes a and reports a close error if nothing failed before.
func closeArchive(a *blockfs.Archive, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// lookupFile resolves path to a file of a.
func lookupFile(a *blockfs.Archive, path string) (blockfs.File, error) {
	e, err := a.Lookup(path)
	if err != nil {
		return blockfs.File{}, errors.Wrapf(err, "%s", path)
	}
	f, ok := e.AsFile()
	if !ok {
		return blockfs.File{}, errors.Newf("%s: is a directory", path)
	}
	return f, nil
}

// humanizeBytes formats n with a binary unit suffix.
func humanizeBytes(n int64) string {
	return string(crhumanize.Bytes(n))
}
