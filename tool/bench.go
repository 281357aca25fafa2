// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/errors"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	benchDir   = "bench"
	minLatency = 10 * time.Microsecond
	maxLatency = 10 * time.Second
)

// benchT implements write and read benchmarks against an archive.
type benchT struct {
	Root  *cobra.Command
	Write *cobra.Command
	Read  *cobra.Command

	opts *blockfs.Options

	// Flags.
	concurrency int
	files       int
	size        int64
	seed        uint64
	plot        bool
}

func newBench(opts *blockfs.Options) *benchT {
	b := &benchT{opts: opts}

	b.Root = &cobra.Command{
		Use:   "bench",
		Short: "archive benchmarks",
	}
	b.Write = &cobra.Command{
		Use:   "write <archive>",
		Short: "write files concurrently",
		Long: `
Create --files files of --size bytes each under /bench, using --concurrency
workers, and report the latency distribution of writing one file.
`,
		Args: cobra.ExactArgs(1),
		Run:  b.runWrite,
	}
	b.Read = &cobra.Command{
		Use:   "read <archive>",
		Short: "read back the files written by bench write",
		Args:  cobra.ExactArgs(1),
		Run:   b.runRead,
	}

	for _, cmd := range []*cobra.Command{b.Write, b.Read} {
		cmd.Flags().IntVarP(&b.concurrency, "concurrency", "c", 4, "number of concurrent workers")
		cmd.Flags().BoolVar(&b.plot, "plot", false, "plot the latency of each file")
	}
	b.Write.Flags().IntVarP(&b.files, "files", "n", 100, "number of files to write")
	b.Write.Flags().Int64Var(&b.size, "size", 64<<10, "size of each file in bytes")
	b.Write.Flags().Uint64Var(&b.seed, "seed", 1, "seed of the file contents")

	b.Root.AddCommand(b.Write, b.Read)
	return b
}

// recorder collects the latency of each operation.
type recorder struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	latencies []float64
	bytes     int64
}

func newRecorder(n int) *recorder {
	return &recorder{
		hist:      hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1),
		latencies: make([]float64, n),
	}
}

func (r *recorder) record(i int, d time.Duration, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.hist.RecordValue(d.Nanoseconds())
	r.latencies[i] = d.Seconds() * 1000
	r.bytes += bytes
}

func (r *recorder) print(w io.Writer, op string, elapsed time.Duration, plot bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := func(q float64) float64 {
		return time.Duration(r.hist.ValueAtQuantile(q)).Seconds() * 1000
	}
	fmt.Fprintf(w, "%s: %d files, %s in %.1fs (%.1f MB/s)\n",
		op, r.hist.TotalCount(), humanizeBytes(r.bytes), elapsed.Seconds(),
		float64(r.bytes)/(1<<20)/elapsed.Seconds())
	fmt.Fprintf(w, "latency(ms): p50 %.2f  p95 %.2f  p99 %.2f  max %.2f\n",
		ms(50), ms(95), ms(99), time.Duration(r.hist.Max()).Seconds()*1000)
	if plot && len(r.latencies) > 0 {
		fmt.Fprintln(w, asciigraph.Plot(r.latencies,
			asciigraph.Height(10), asciigraph.Width(60), asciigraph.Caption(op+" latency (ms)")))
	}
}

// run invokes fn for every index in [0,n) on b.concurrency workers.
func (b *benchT) run(n int, fn func(i int) error) error {
	workers := max(b.concurrency, 1)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < n; i += workers {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *benchT) runWrite(cmd *cobra.Command, args []string) {
	if err := b.write(args[0]); err != nil {
		fail(err)
	}
}

func (b *benchT) write(path string) (err error) {
	a, err := openArchive(b.opts, path, false /* readOnly */, true /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(a, &err)
	d, err := a.MkdirAll(benchDir)
	if err != nil {
		return err
	}

	data := make([]byte, b.size)
	rng := rand.New(rand.NewPCG(b.seed, b.seed))
	for i := range data {
		data[i] = byte(rng.Uint32())
	}

	rec := newRecorder(b.files)
	start := time.Now()
	err = b.run(b.files, func(i int) error {
		t := time.Now()
		f, err := d.CreateFile(fmt.Sprintf("%06d", i))
		if err != nil {
			return err
		}
		s, err := f.Open(blockfs.AccessWrite, blockfs.ShareNone)
		if err != nil {
			return err
		}
		if _, err := s.Write(data); err != nil {
			return errors.CombineErrors(err, s.Close())
		}
		if err := s.Close(); err != nil {
			return err
		}
		rec.record(i, time.Since(t), int64(len(data)))
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.Flush(context.Background()); err != nil {
		return err
	}
	rec.print(stdout, "write", time.Since(start), b.plot)
	return nil
}

func (b *benchT) runRead(cmd *cobra.Command, args []string) {
	if err := b.read(args[0]); err != nil {
		fail(err)
	}
}

func (b *benchT) read(path string) (err error) {
	a, err := openArchive(b.opts, path, true /* readOnly */, false /* create */)
	if err != nil {
		return err
	}
	defer closeArchive(a, &err)
	d, err := a.LookupDir(benchDir)
	if err != nil {
		return err
	}
	children, err := d.Children()
	if err != nil {
		return err
	}

	rec := newRecorder(len(children))
	start := time.Now()
	err = b.run(len(children), func(i int) error {
		f, ok := children[i].AsFile()
		if !ok {
			return nil
		}
		t := time.Now()
		s, err := f.Open(blockfs.AccessRead, blockfs.ShareRead)
		if err != nil {
			return err
		}
		n, err := io.Copy(io.Discard, s)
		if err != nil {
			return errors.CombineErrors(err, s.Close())
		}
		if err := s.Close(); err != nil {
			return err
		}
		rec.record(i, time.Since(t), n)
		return nil
	})
	if err != nil {
		return err
	}
	rec.print(stdout, "read", time.Since(start), b.plot)
	return nil
}
