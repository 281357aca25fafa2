// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package ioqueue serializes physical I/O against a single backing store.
//
// Operations are executed by one worker goroutine strictly in submission
// order. The start position of an operation may be absolute, relative to the
// end of the store, or the end of a previously queued operation, and any
// operation may depend on a predecessor: when the predecessor fails or is
// cancelled, the dependent operation is cancelled instead of executing at a
// stale position.
package ioqueue

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"runtime/pprof"
	"sync"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/crlib/fifo"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Queue.
type Options struct {
	// ReadLatency, if set, observes the latency in seconds of read and decode
	// operations.
	ReadLatency prometheus.Histogram
	// WriteLatency, if set, observes the latency in seconds of write, encode,
	// scramble, truncate and sync operations.
	WriteLatency prometheus.Histogram
	// Logger is used to report failed operations. Defaults to base.NoopLogger.
	Logger base.Logger
}

// Metrics holds counters for a Queue.
type Metrics struct {
	// Ops is the number of successfully executed operations, per kind.
	Ops [numKinds]int64
	// Failed is the number of operations that returned an error.
	Failed int64
	// Cancelled is the number of operations that were cancelled.
	Cancelled    int64
	BytesRead    int64
	BytesWritten int64
	// Queued is the number of operations waiting to execute.
	Queued int
}

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	var total int64
	for _, n := range m.Ops {
		total += n
	}
	w.Printf("ops: %d (", redact.Safe(total))
	sep := ""
	for k := Kind(0); k < numKinds; k++ {
		if m.Ops[k] == 0 {
			continue
		}
		w.Printf("%s%s %d", redact.SafeString(sep), k, redact.Safe(m.Ops[k]))
		sep = ", "
	}
	w.Printf(")  failed: %d  cancelled: %d  queued: %d  read: %d B  written: %d B",
		redact.Safe(m.Failed), redact.Safe(m.Cancelled), redact.Safe(m.Queued),
		redact.Safe(m.BytesRead), redact.Safe(m.BytesWritten))
}

// String implements fmt.Stringer.
func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// Queue is a single-worker I/O queue. It is safe for concurrent use.
type Queue struct {
	f    vfs.File
	opts Options

	mu struct {
		sync.Mutex
		queue   fifo.Queue[*Handle]
		metrics Metrics
		closed  bool
	}
	// notifyCh wakes up the worker when operations are queued, and on Close.
	notifyCh  chan struct{}
	waitGroup sync.WaitGroup
}

var queueBackingPool = fifo.MakeQueueBackingPool[*Handle]()

// New creates a Queue over f and starts its worker goroutine. The Queue must
// be Closed; closing the Queue does not close f.
func New(f vfs.File, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = base.NoopLogger{}
	}
	q := &Queue{
		f:        f,
		opts:     opts,
		notifyCh: make(chan struct{}, 1),
	}
	q.mu.queue = fifo.MakeQueue(&queueBackingPool)
	q.waitGroup.Add(1)
	go func() {
		pprof.Do(context.Background(), pprof.Labels("blockfs", "io"), func(context.Context) {
			q.mainLoop()
		})
	}()
	return q
}

// Read reads len(p) bytes into p. p must not be used until the operation is
// done.
func (q *Queue) Read(pos Position, p []byte) *Handle {
	h := newHandle(q, KindRead, pos)
	h.buf = p
	return q.submit(h)
}

// Write writes p. The queue takes ownership of p.
func (q *Queue) Write(pos Position, p []byte) *Handle {
	h := newHandle(q, KindWrite, pos)
	h.buf = p
	return q.submit(h)
}

// Encode encodes e immediately and queues a write of the encoding. If size is
// positive the encoding is zero-padded to size bytes, and an encoding larger
// than size fails the operation without queueing it.
func (q *Queue) Encode(pos Position, e codec.Encoder, size int) *Handle {
	h := newHandle(q, KindEncode, pos)
	w := codec.NewWriter(make([]byte, 0, max(size, 64)))
	e.Encode(w)
	h.buf = w.Bytes()
	if size > 0 {
		if len(h.buf) > size {
			return q.fail(h, errors.AssertionFailedf("blockfs/ioqueue: encoding of %d bytes exceeds %d", len(h.buf), size))
		}
		h.buf = h.buf[:size:size]
		clear(h.buf[len(w.Bytes()):])
	}
	return q.submit(h)
}

// Decode reads n bytes and decodes them into d on the worker goroutine. d must
// not be used until the operation is done.
func (q *Queue) Decode(pos Position, n int, d codec.Decoder) *Handle {
	h := newHandle(q, KindDecode, pos)
	h.buf = make([]byte, n)
	h.decoder = d
	return q.submit(h)
}

// Truncate sets the size of the store.
func (q *Queue) Truncate(size int64) *Handle {
	h := newHandle(q, KindTruncate, At(0))
	h.size = size
	return q.submit(h)
}

// Extend grows the store to at least size bytes. A store that is already
// large enough is left alone.
func (q *Queue) Extend(size int64) *Handle {
	h := newHandle(q, KindTruncate, At(0))
	h.size = size
	h.extend = true
	return q.submit(h)
}

// Scramble overwrites n bytes with random data.
func (q *Queue) Scramble(pos Position, n int) *Handle {
	h := newHandle(q, KindScramble, pos)
	h.buf = make([]byte, n)
	return q.submit(h)
}

// Sync commits the store's contents to stable storage.
func (q *Queue) Sync() *Handle {
	return q.submit(newHandle(q, KindSync, At(0)))
}

// Metrics returns the current metrics.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.mu.metrics
	m.Queued = q.mu.queue.Len()
	return m
}

// Close waits for all queued operations to finish and stops the worker.
// Operations submitted after Close fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.mu.closed {
		q.mu.Unlock()
		return
	}
	q.mu.closed = true
	q.mu.Unlock()
	q.notify()
	q.waitGroup.Wait()
}

func (q *Queue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *Queue) submit(h *Handle) *Handle {
	q.mu.Lock()
	if q.mu.closed {
		q.finishLocked(h, ErrClosed)
		q.mu.Unlock()
		return h
	}
	q.mu.queue.PushBack(h)
	q.mu.Unlock()
	q.notify()
	return h
}

func (q *Queue) fail(h *Handle, err error) *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finishLocked(h, err)
	return h
}

func (q *Queue) finishLocked(h *Handle, err error) {
	h.state = stateDone
	h.err = err
	switch {
	case err == nil:
		q.mu.metrics.Ops[h.kind]++
	case errors.Is(err, ErrCancelled) || errors.Is(err, ErrClosed):
		q.mu.metrics.Cancelled++
	default:
		q.mu.metrics.Failed++
	}
	close(h.done)
}

// mainLoop is the worker goroutine. It exits once the queue is closed and
// drained.
func (q *Queue) mainLoop() {
	defer q.waitGroup.Done()
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.mu.queue.Len() == 0 {
			if q.mu.closed {
				return
			}
			q.mu.Unlock()
			<-q.notifyCh
			q.mu.Lock()
			continue
		}
		h := *q.mu.queue.PeekFront()
		q.mu.queue.PopFront()
		if h.state != statePending {
			// Cancelled while queued.
			continue
		}
		h.state = stateRunning
		q.mu.Unlock()
		err := q.execute(h)
		q.mu.Lock()
		switch h.kind {
		case KindRead, KindDecode:
			q.mu.metrics.BytesRead += int64(h.n)
		case KindWrite, KindEncode, KindScramble:
			q.mu.metrics.BytesWritten += int64(h.n)
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			q.opts.Logger.Errorf("%v", err)
		}
		q.finishLocked(h, err)
	}
}

// resolve computes the start offset of h. Predecessors were submitted earlier
// and have therefore finished.
func (q *Queue) resolve(h *Handle) (int64, error) {
	if d := h.pos.dep; d != nil {
		<-d.done
		if d.failed() {
			return 0, ErrCancelled
		}
	}
	switch h.pos.kind {
	case posFromEnd:
		fi, err := q.f.Stat()
		if err != nil {
			return 0, err
		}
		return fi.Size() + h.pos.off, nil
	case posAfter:
		a := h.pos.after
		<-a.done
		if a.failed() {
			return 0, ErrCancelled
		}
		return a.End() + h.pos.off, nil
	default:
		return h.pos.off, nil
	}
}

func (q *Queue) execute(h *Handle) (err error) {
	start := crtime.NowMono()
	defer func() {
		hist := q.opts.WriteLatency
		if h.kind == KindRead || h.kind == KindDecode {
			hist = q.opts.ReadLatency
		}
		if hist != nil && err == nil {
			hist.Observe(start.Elapsed().Seconds())
		}
	}()

	off, err := q.resolve(h)
	if err != nil {
		return err
	}
	if off < 0 {
		return errors.Newf("blockfs/ioqueue: %s at negative offset %d", h.kind, off)
	}
	h.start = off

	switch h.kind {
	case KindRead, KindDecode:
		n, err := q.f.ReadAt(h.buf, off)
		h.n = n
		if n < len(h.buf) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return errors.Wrapf(err, "blockfs/ioqueue: %s of %d bytes at %d", h.kind, len(h.buf), off)
		}
		if h.kind == KindDecode {
			if err := h.decoder.Decode(codec.NewReader(h.buf)); err != nil {
				return errors.Wrapf(err, "blockfs/ioqueue: decode at %d", off)
			}
		}
		return nil

	case KindScramble:
		if _, err := rand.Read(h.buf); err != nil {
			return err
		}
		fallthrough
	case KindWrite, KindEncode:
		n, err := q.f.WriteAt(h.buf, off)
		h.n = n
		if err != nil {
			return errors.Wrapf(err, "blockfs/ioqueue: %s of %d bytes at %d", h.kind, len(h.buf), off)
		}
		return nil

	case KindTruncate:
		if h.extend {
			fi, err := q.f.Stat()
			if err != nil {
				return errors.Wrap(err, "blockfs/ioqueue: stat")
			}
			if fi.Size() >= h.size {
				h.size = fi.Size()
				return nil
			}
		}
		if err := q.f.Truncate(h.size); err != nil {
			return errors.Wrapf(err, "blockfs/ioqueue: truncate to %d", h.size)
		}
		return nil

	case KindSync:
		return errors.Wrap(q.f.Sync(), "blockfs/ioqueue: sync")

	default:
		panic(fmt.Sprintf("unknown operation kind %d", h.kind))
	}
}
