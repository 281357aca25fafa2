// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// archiveT implements the commands that read and modify the tree of an
// archive.
type archiveT struct {
	Root   *cobra.Command
	Create *cobra.Command
	List   *cobra.Command
	Cat    *cobra.Command
	Put    *cobra.Command
	Mkdir  *cobra.Command
	Rm     *cobra.Command
	Mv     *cobra.Command

	opts *blockfs.Options

	// Flags.
	recursive bool
	data      string
}

func newArchive(opts *blockfs.Options) *archiveT {
	a := &archiveT{opts: opts}

	a.Root = &cobra.Command{
		Use:   "archive",
		Short: "archive tree commands",
	}
	a.Create = &cobra.Command{
		Use:   "create <archive>",
		Short: "create an empty archive",
		Args:  cobra.ExactArgs(1),
		Run:   a.runCreate,
	}
	a.List = &cobra.Command{
		Use:   "ls <archive> [<dir>]",
		Short: "list the entries of a directory",
		Long: `
List the files and directories of a directory, files first. Files are listed
with their length in bytes. Directories end in a slash.
`,
		Args: cobra.RangeArgs(1, 2),
		Run:  a.runList,
	}
	a.Cat = &cobra.Command{
		Use:   "cat <archive> <file>",
		Short: "print the contents of a file",
		Args:  cobra.ExactArgs(2),
		Run:   a.runCat,
	}
	a.Put = &cobra.Command{
		Use:   "put <archive> <file>",
		Short: "write a file",
		Long: `
Write the contents of a file, replacing any previous contents. Missing parent
directories are created. The contents are read from stdin unless --data is
given.
`,
		Args: cobra.ExactArgs(2),
		Run:  a.runPut,
	}
	a.Mkdir = &cobra.Command{
		Use:   "mkdir <archive> <dir>",
		Short: "create a directory and any missing parents",
		Args:  cobra.ExactArgs(2),
		Run:   a.runMkdir,
	}
	a.Rm = &cobra.Command{
		Use:   "rm <archive> <path>",
		Short: "delete a file or a directory tree",
		Args:  cobra.ExactArgs(2),
		Run:   a.runRm,
	}
	a.Mv = &cobra.Command{
		Use:   "mv <archive> <path> <name>",
		Short: "rename a file or directory within its directory",
		Args:  cobra.ExactArgs(3),
		Run:   a.runMv,
	}

	a.List.Flags().BoolVarP(&a.recursive, "recursive", "r", false, "list subdirectories recursively")
	a.Put.Flags().StringVar(&a.data, "data", "", "contents to write instead of stdin")

	a.Root.AddCommand(a.Create, a.List, a.Cat, a.Put, a.Mkdir, a.Rm, a.Mv)
	return a
}

func (a *archiveT) runCreate(cmd *cobra.Command, args []string) {
	if err := a.create(args[0]); err != nil {
		fail(err)
	}
}

func (a *archiveT) create(path string) error {
	if _, err := a.opts.FS.Stat(path); err == nil {
		return errors.Newf("archive %s already exists", path)
	}
	ar, err := openArchive(a.opts, path, false /* readOnly */, true /* create */)
	if err != nil {
		return err
	}
	return ar.Close()
}

func (a *archiveT) runList(cmd *cobra.Command, args []string) {
	path := "/"
	if len(args) == 2 {
		path = args[1]
	}
	if err := a.list(args[0], path); err != nil {
		fail(err)
	}
}

func (a *archiveT) list(archive, path string) (err error) {
	ar, err := openArchive(a.opts, archive, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)

	d, err := ar.LookupDir(path)
	if err != nil {
		return err
	}
	var walk func(d blockfs.Dir, prefix string) error
	walk = func(d blockfs.Dir, prefix string) error {
		children, err := d.Children()
		if err != nil {
			return err
		}
		for _, c := range children {
			name := prefix + c.Name()
			if c.Kind() == blockfs.KindFile {
				n, err := c.Length()
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s %d\n", name, n)
				continue
			}
			fmt.Fprintf(stdout, "%s/\n", name)
			if a.recursive {
				cd, _ := c.AsDir()
				if err := walk(cd, name+"/"); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(d, "")
}

func (a *archiveT) runCat(cmd *cobra.Command, args []string) {
	if err := a.cat(args[0], args[1]); err != nil {
		fail(err)
	}
}

func (a *archiveT) cat(archive, path string) (err error) {
	ar, err := openArchive(a.opts, archive, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)

	f, err := lookupFile(ar, path)
	if err != nil {
		return err
	}
	s, err := f.Open(blockfs.AccessRead, blockfs.ShareRead)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = io.Copy(stdout, s)
	return err
}

func (a *archiveT) runPut(cmd *cobra.Command, args []string) {
	var r io.Reader = stdin
	if cmd.Flags().Changed("data") {
		r = strings.NewReader(a.data)
	}
	if err := a.put(args[0], args[1], r); err != nil {
		fail(err)
	}
}

func (a *archiveT) put(archive, path string, r io.Reader) (err error) {
	names := blockfs.SplitPath(path)
	if len(names) == 0 {
		return errors.Newf("%s: is a directory", path)
	}
	ar, err := openArchive(a.opts, archive, false /* readOnly */, true /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)

	d, err := ar.MkdirAll(strings.Join(names[:len(names)-1], "/"))
	if err != nil {
		return err
	}
	name := names[len(names)-1]
	f, err := d.File(name)
	if errors.Is(err, blockfs.ErrNotFound) {
		f, err = d.CreateFile(name)
	}
	if err != nil {
		return err
	}
	s, err := f.Open(blockfs.AccessWrite, blockfs.ShareNone)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, s.Close())
	}()
	if err := s.SetLength(0); err != nil {
		return err
	}
	_, err = io.Copy(s, r)
	return err
}

func (a *archiveT) runMkdir(cmd *cobra.Command, args []string) {
	if err := a.mkdir(args[0], args[1]); err != nil {
		fail(err)
	}
}

func (a *archiveT) mkdir(archive, path string) (err error) {
	ar, err := openArchive(a.opts, archive, false /* readOnly */, true /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)
	_, err = ar.MkdirAll(path)
	return err
}

func (a *archiveT) runRm(cmd *cobra.Command, args []string) {
	if err := a.rm(args[0], args[1]); err != nil {
		fail(err)
	}
}

func (a *archiveT) rm(archive, path string) (err error) {
	ar, err := openArchive(a.opts, archive, false /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)
	e, err := ar.Lookup(path)
	if err != nil {
		return err
	}
	return e.Delete()
}

func (a *archiveT) runMv(cmd *cobra.Command, args []string) {
	if err := a.mv(args[0], args[1], args[2]); err != nil {
		fail(err)
	}
}

func (a *archiveT) mv(archive, path, name string) (err error) {
	ar, err := openArchive(a.opts, archive, false /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(ar, &err)
	e, err := ar.Lookup(path)
	if err != nil {
		return err
	}
	return e.Rename(name)
}
