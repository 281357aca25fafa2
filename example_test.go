// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs_test

import (
	"fmt"
	"io"
	"log"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/blockfs/vfs"
)

func Example() {
	opts := &blockfs.Options{FS: vfs.NewMem()}
	a, err := blockfs.Open("demo.bfs", opts)
	if err != nil {
		log.Fatal(err)
	}
	docs, err := a.MkdirAll("docs")
	if err != nil {
		log.Fatal(err)
	}
	f, err := docs.CreateFile("hello.txt")
	if err != nil {
		log.Fatal(err)
	}
	s, err := f.Open(blockfs.AccessWrite, blockfs.ShareNone)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := s.Write([]byte("hello world")); err != nil {
		log.Fatal(err)
	}
	if err := s.Close(); err != nil {
		log.Fatal(err)
	}
	if err := a.Close(); err != nil {
		log.Fatal(err)
	}

	a, err = blockfs.Open("demo.bfs", opts)
	if err != nil {
		log.Fatal(err)
	}
	e, err := a.Lookup("docs/hello.txt")
	if err != nil {
		log.Fatal(err)
	}
	f, _ = e.AsFile()
	s, err = f.Open(blockfs.AccessRead, blockfs.ShareRead)
	if err != nil {
		log.Fatal(err)
	}
	data, err := io.ReadAll(s)
	if err != nil {
		log.Fatal(err)
	}
	path, _ := e.Path()
	fmt.Printf("%s: %s\n", path, data)
	if err := a.Close(); err != nil {
		log.Fatal(err)
	}
	// Output:
	// /docs/hello.txt: hello world
}
