// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package ioqueue

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// blockingFile blocks every WriteAt until release is closed.
type blockingFile struct {
	vfs.File
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFile) WriteAt(p []byte, off int64) (int, error) {
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	return f.File.WriteAt(p, off)
}

func TestOrderAndChaining(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	f := vfs.NewMemFile(nil)
	q := New(f, Options{})
	defer q.Close()

	h1 := q.Write(At(0), []byte("hello "))
	h2 := q.Write(After(h1), []byte("world"))
	h3 := q.Write(FromEnd(0), []byte("!"))
	require.NoError(t, h3.Wait(ctx))
	require.EqualValues(t, 0, h1.Start())
	require.EqualValues(t, 6, h1.End())
	require.EqualValues(t, 6, h2.Start())
	require.EqualValues(t, 11, h3.Start())

	buf := make([]byte, 12)
	r := q.Read(At(0), buf)
	require.NoError(t, r.Wait(ctx))
	require.Equal(t, 12, r.N())
	require.Equal(t, "hello world!", string(buf))

	// Reading past the end of the store fails.
	r = q.Read(At(6), make([]byte, 10))
	require.ErrorIs(t, r.Wait(ctx), io.ErrUnexpectedEOF)

	tr := q.Truncate(4)
	require.NoError(t, tr.Wait(ctx))
	require.EqualValues(t, 4, tr.End())
	fi, err := f.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 4, fi.Size())

	// Extending never shrinks the store.
	ex := q.Extend(2)
	require.NoError(t, ex.Wait(ctx))
	require.EqualValues(t, 4, ex.End())
	ex = q.Extend(9)
	require.NoError(t, ex.Wait(ctx))
	require.EqualValues(t, 9, ex.End())
	fi, err = f.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 9, fi.Size())
	require.NoError(t, q.Sync().Wait(ctx))
}

func TestFailureCancelsDependents(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	var index atomic.Int32
	index.Store(0)
	f := vfs.NewErrorFile(&vfs.ErrorInjector{Index: &index, Mode: vfs.ErrorFSWrite}, vfs.NewMemFile(nil))
	q := New(f, Options{})
	defer q.Close()

	h1 := q.Write(At(0), []byte("abc"))
	h2 := q.Write(After(h1), []byte("def"))
	h3 := q.Write(At(10).DependsOn(h2), []byte("ghi"))
	// Independent of the failed chain.
	h4 := q.Write(At(20), []byte("jkl"))

	require.ErrorIs(t, h1.Wait(ctx), vfs.ErrInjected)
	require.ErrorIs(t, h2.Wait(ctx), ErrCancelled)
	require.ErrorIs(t, h3.Wait(ctx), ErrCancelled)
	require.NoError(t, h4.Wait(ctx))

	m := q.Metrics()
	require.EqualValues(t, 1, m.Failed)
	require.EqualValues(t, 2, m.Cancelled)
	require.EqualValues(t, 1, m.Ops[KindWrite])
	require.EqualValues(t, 3, m.BytesWritten)
}

func TestCancelBeforeExecution(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	bf := &blockingFile{
		File:    vfs.NewMemFile(nil),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	q := New(bf, Options{})
	defer q.Close()

	running := q.Write(At(0), []byte("a"))
	<-bf.entered
	pending := q.Write(At(1), []byte("b"))
	require.False(t, running.Cancel())
	require.True(t, pending.Cancel())
	require.False(t, pending.Cancel())
	close(bf.release)

	require.NoError(t, running.Wait(ctx))
	require.ErrorIs(t, pending.Wait(ctx), ErrCancelled)
	fi, err := bf.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 1, fi.Size())
}

func TestWaitContext(t *testing.T) {
	defer leaktest.AfterTest(t)()
	bf := &blockingFile{
		File:    vfs.NewMemFile(nil),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	q := New(bf, Options{})
	defer q.Close()
	h := q.Write(At(0), []byte("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, h.Wait(ctx), context.Canceled)
	close(bf.release)
	require.NoError(t, h.Wait(context.Background()))
}

type pair struct {
	a int64
	b string
}

func (p *pair) Encode(w *codec.Writer) {
	w.Object(7, func(w *codec.Writer) {
		w.Int64(p.a)
		w.String(p.b)
	})
}

func (p *pair) Decode(r *codec.Reader) error {
	o, err := r.Object(7)
	if err != nil {
		return err
	}
	p.b = o.PopString()
	p.a = o.PopInt64()
	return o.Done()
}

func TestEncodeDecode(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	q := New(vfs.NewMemFile(nil), Options{})
	defer q.Close()

	in := &pair{a: -42, b: "blockfs"}
	e := q.Encode(At(100), in, 64)
	require.NoError(t, e.Wait(ctx))
	require.Equal(t, 64, e.N())

	var out pair
	d := q.Decode(At(100), 64, &out)
	require.NoError(t, d.Wait(ctx))
	require.Equal(t, *in, out)

	// An encoding that does not fit fails without being queued.
	require.Error(t, q.Encode(At(0), in, 8).Wait(ctx))

	// Scrambled bytes no longer decode.
	require.NoError(t, q.Scramble(At(100), 64).Wait(ctx))
	d = q.Decode(At(100), 64, &out)
	require.Error(t, d.Wait(ctx))
}

func TestLatencyHistograms(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	reads := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "reads"})
	writes := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "writes"})
	q := New(vfs.NewMemFile(nil), Options{ReadLatency: reads, WriteLatency: writes})
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Write(At(int64(i)), []byte{byte(i)}).Wait(ctx))
	}
	require.NoError(t, q.Read(At(0), make([]byte, 3)).Wait(ctx))
	q.Close()

	sampleCount := func(h prometheus.Histogram) uint64 {
		var m dto.Metric
		require.NoError(t, h.Write(&m))
		return m.GetHistogram().GetSampleCount()
	}
	require.EqualValues(t, 3, sampleCount(writes))
	require.EqualValues(t, 1, sampleCount(reads))

	// Submitting after Close fails immediately.
	require.True(t, errors.Is(q.Sync().Wait(ctx), ErrClosed))
}
