// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package blockfs implements a single-file container that behaves like a
// small writable filesystem: directories, files and random-access byte
// streams stored in one backing file.
//
// The backing file is divided into variable-length typed blocks. A block
// table describes every block (its extent, used bytes, and the next block of
// its chain); the table itself lives in chained block-table regions starting
// right after the file header, and grows online by appending regions. Files
// are chains of binary blocks; directories are chains of file-table blocks
// holding the serialized metadata of their children. Directories are read
// lazily, the first time their children are needed.
//
// All physical I/O runs on a single worker in submission order. Directory
// tables are rewritten in the background, coalescing bursts of changes, into
// freshly staged chains that are swapped in once written, so that the
// previous table stays intact until the new one is complete.
//
// A typical use:
//
//	a, err := blockfs.Open("data.bfs", &blockfs.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	docs, _ := a.Root().CreateDir("docs")
//	f, _ := docs.CreateFile("readme.txt")
//	s, _ := f.Open(blockfs.AccessReadWrite, blockfs.ShareNone)
//	_, _ = s.Write([]byte("hello"))
//	_ = s.Close()
//	if err := a.Close(); err != nil {
//		log.Fatal(err)
//	}
package blockfs
