// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// inspectT implements the commands that print the on-disk structures of an
// archive.
type inspectT struct {
	Root    *cobra.Command
	Header  *cobra.Command
	Blocks  *cobra.Command
	Check   *cobra.Command
	Metrics *cobra.Command

	opts *blockfs.Options

	// Flags.
	chain string
}

func newInspect(opts *blockfs.Options) *inspectT {
	i := &inspectT{opts: opts}

	i.Root = &cobra.Command{
		Use:   "inspect",
		Short: "archive introspection tools",
	}
	i.Header = &cobra.Command{
		Use:   "header <archive>",
		Short: "print the file header",
		Long: `
Print the file header without opening the archive. Fails if the header
checksum does not match.
`,
		Args: cobra.ExactArgs(1),
		Run:  i.runHeader,
	}
	i.Blocks = &cobra.Command{
		Use:   "blocks <archive>",
		Short: "print the block table",
		Long: `
Print the block table: the id, type, extent, used bytes and chain pointer of
every block. With --chain, only the blocks of the chain of a file or directory
are printed, in chain order.
`,
		Args: cobra.ExactArgs(1),
		Run:  i.runBlocks,
	}
	i.Check = &cobra.Command{
		Use:   "check <archive>",
		Short: "verify that every block belongs to exactly one chain",
		Args:  cobra.ExactArgs(1),
		Run:   i.runCheck,
	}
	i.Metrics = &cobra.Command{
		Use:   "metrics <archive>",
		Short: "print the metrics of a freshly opened archive",
		Args:  cobra.ExactArgs(1),
		Run:   i.runMetrics,
	}

	i.Blocks.Flags().StringVar(&i.chain, "chain", "", "only print the chain of the given path")

	i.Root.AddCommand(i.Header, i.Blocks, i.Check, i.Metrics)
	return i
}

func (i *inspectT) runHeader(cmd *cobra.Command, args []string) {
	if err := i.header(args[0]); err != nil {
		fail(err)
	}
}

func (i *inspectT) header(path string) error {
	f, err := i.opts.FS.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h, err := blockfs.ReadHeader(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version:            %d\n", h.Version)
	fmt.Fprintf(stdout, "name:               %s\n", h.Name)
	fmt.Fprintf(stdout, "blocks:             %d\n", h.BlockCount)
	fmt.Fprintf(stdout, "packaged:           %t\n", h.Packaged)
	fmt.Fprintf(stdout, "root files:         %d\n", h.RootFileCount)
	fmt.Fprintf(stdout, "root dirs:          %d\n", h.RootDirCount)
	fmt.Fprintf(stdout, "block table region: %d\n", h.BlockTableLength)
	return nil
}

func (i *inspectT) runBlocks(cmd *cobra.Command, args []string) {
	if err := i.blocks(args[0]); err != nil {
		fail(err)
	}
}

func (i *inspectT) blocks(path string) (err error) {
	a, err := openArchive(i.opts, path, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(a, &err)

	var blocks []blockfs.BlockInfo
	if i.chain != "" {
		e, err := a.Lookup(i.chain)
		if err != nil {
			return err
		}
		blocks, err = e.Blocks()
		if err != nil {
			return err
		}
	} else if blocks, err = a.Blocks(); err != nil {
		return err
	}

	var used, length int64
	t := tablewriter.NewWriter(stdout)
	t.SetHeader([]string{"ID", "Type", "Start", "Length", "Used", "Next"})
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	t.SetAutoWrapText(false)
	for _, b := range blocks {
		t.Append([]string{
			b.ID.String(),
			b.Type.String(),
			strconv.FormatInt(b.Start, 10),
			strconv.FormatInt(b.Length, 10),
			strconv.FormatInt(b.Used, 10),
			b.Next.String(),
		})
		used += b.Used
		length += b.Length
	}
	t.SetFooter([]string{"", "", "total", humanizeBytes(length), humanizeBytes(used), ""})
	t.Render()
	return nil
}

func (i *inspectT) runCheck(cmd *cobra.Command, args []string) {
	if err := i.check(args[0]); err != nil {
		fail(err)
	}
}

func (i *inspectT) check(path string) (err error) {
	a, err := openArchive(i.opts, path, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(a, &err)

	r, err := a.CheckConsistency(context.Background())
	if r != nil && !r.OK() {
		fmt.Fprint(stdout, r)
		return errors.Newf("%s: %d problems", path, len(r.Overlaps)+len(r.Dangling)+len(r.Orphans))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: ok\n", path)
	return nil
}

func (i *inspectT) runMetrics(cmd *cobra.Command, args []string) {
	if err := i.metrics(args[0]); err != nil {
		fail(err)
	}
}

func (i *inspectT) metrics(path string) (err error) {
	a, err := openArchive(i.opts, path, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(a, &err)
	// Loading the tree populates the directory metrics.
	if _, err := a.CheckConsistency(context.Background()); err != nil {
		return err
	}
	fmt.Fprint(stdout, a.Metrics())
	return nil
}
