// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/blocktable"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/blockfs/internal/task"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/crlib/fifo"
	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Archive is an open container. It is safe for concurrent use, except that
// Close must not run concurrently with other operations.
type Archive struct {
	name     string
	opts     *Options
	file     vfs.File
	ownsFile bool

	queue    *ioqueue.Queue
	sched    *task.Scheduler
	alloc    *allocator
	nodes    arena
	root     *node
	flushSem *fifo.Semaphore
	paths    *lru.Cache[string, handle]
	watch    *watchHub

	header struct {
		sync.Mutex
		packaged         bool
		blockTableLength int64
		// pending is the last queued header write.
		pending *ioqueue.Handle
	}

	closed atomic.Bool
	stats  archiveStats
}

type archiveStats struct {
	dirFlushes     atomic.Int64
	dirFlushFailed atomic.Int64
	dirFlushBytes  atomic.Int64
	dirLoads       atomic.Int64
	headerWrites   atomic.Int64
	streamsOpened  atomic.Int64
	streamsOpen    atomic.Int64
	bytesRead      atomic.Int64
	bytesWritten   atomic.Int64
}

// Open opens the archive stored in the named file, creating it if the file
// does not exist or is empty. The archive's name is the last element of path;
// no two archives with the same name may be open at once.
func Open(path string, opts *Options) (*Archive, error) {
	opts = opts.Clone()
	opts.EnsureDefaults()
	var f vfs.File
	var err error
	if opts.ReadOnly {
		f, err = opts.FS.Open(path)
	} else {
		f, err = opts.FS.OpenReadWrite(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "blockfs: opening %s", path)
	}
	a, err := open(opts.FS.PathBase(path), f, opts)
	if err != nil {
		err = errors.CombineErrors(err, f.Close())
		return nil, err
	}
	a.ownsFile = true
	return a, nil
}

// OpenStore opens the archive stored in f under the given name, creating it
// if f is empty. The caller retains ownership of f, which must stay open
// until the archive is closed.
func OpenStore(name string, f vfs.File, opts *Options) (*Archive, error) {
	opts = opts.Clone()
	opts.EnsureDefaults()
	return open(name, f, opts)
}

func open(name string, f vfs.File, opts *Options) (_ *Archive, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, errors.Wrap(err, "blockfs: archive name")
	}
	if err := reserveName(name); err != nil {
		return nil, err
	}
	a := &Archive{
		name:     name,
		opts:     opts,
		file:     f,
		flushSem: fifo.NewSemaphore(int64(opts.MaxConcurrentFlushes)),
	}
	defer func() {
		if err != nil {
			a.release()
			releaseName(name)
		}
	}()
	a.queue = ioqueue.New(f, ioqueue.Options{
		ReadLatency:  opts.IOMetrics.ReadLatency,
		WriteLatency: opts.IOMetrics.WriteLatency,
		Logger:       opts.Logger,
	})
	a.sched, err = task.NewScheduler(task.Options{
		Workers: opts.BackgroundWorkers,
		Logger:  opts.Logger,
		OnError: func(name string, err error) {
			opts.EventListener.BackgroundError(errors.Wrapf(err, "%s", errors.Safe(name)))
		},
	})
	if err != nil {
		return nil, err
	}
	a.paths, err = lru.New[string, handle](opts.PathCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "blockfs: creating path cache")
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "blockfs: stat")
	}
	if info.Size() == 0 {
		if opts.ReadOnly {
			return nil, errors.Wrapf(ErrReadOnly, "cannot create archive %q", name)
		}
		err = a.create()
	} else {
		err = a.load(info.Size())
	}
	if err != nil {
		return nil, err
	}
	a.watch = newWatchHub(256)
	bindName(name, a)
	return a, nil
}

// create initializes an empty store: the header, the first block-table
// region and the root's empty table.
func (a *Archive) create() error {
	tbl := blocktable.Create(HeaderSize, a.opts.BlockTableLength, a.opts.BlockLength)
	region, _ := tbl.Get(base.FirstRegionBlock)
	a.header.blockTableLength = region.Length
	a.alloc = newAllocator(tbl, a.queue, a.sched, a.opts)
	a.root = newDirNode("", nil, base.RootTableBlock, 0, 0)
	a.root.dir.loaded = true
	a.nodes.alloc(a.root)

	a.alloc.mu.Lock()
	a.alloc.persistLocked(true /* extend */)
	a.alloc.mu.Unlock()
	a.writeFileHeader()
	ctx := context.Background()
	if err := a.alloc.wait(ctx); err != nil {
		return err
	}
	if err := a.waitHeader(ctx); err != nil {
		return err
	}
	return errors.Wrap(a.queue.Sync().Wait(ctx), "blockfs: sync")
}

// load reads the header and the block table of an existing store.
func (a *Archive) load(size int64) error {
	ctx := context.Background()
	read := func(off int64, n int) ([]byte, error) {
		buf := make([]byte, n)
		if err := a.queue.Read(ioqueue.At(off), buf).Wait(ctx); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, base.CorruptionErrorf("blockfs: store truncated at [%d,%d)", off, off+int64(n))
			}
			return nil, err
		}
		return buf, nil
	}
	buf, err := read(0, HeaderSize)
	if err != nil {
		return err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Name != a.name {
		a.opts.Logger.Infof("blockfs: archive %q was created as %q", a.name, hdr.Name)
	}
	tbl, err := blocktable.Decode(int(hdr.BlockCount), HeaderSize, hdr.BlockTableLength, read)
	if err != nil {
		return err
	}
	// The slot after the last block has never been written. A header that
	// undercounts the blocks leaves a descriptor there.
	if tbl.Len() < tbl.Capacity() {
		pos, err := tbl.FindPosition(base.BlockID(tbl.Len()))
		if err != nil {
			return err
		}
		slot, err := read(pos, blocktable.BTESize)
		if err != nil {
			return err
		}
		for _, c := range slot {
			if c != 0 {
				return base.CorruptionErrorf("blockfs: header block count %d does not match the block table", hdr.BlockCount)
			}
		}
	}
	if end := tbl.End(); end > size {
		return base.CorruptionErrorf("blockfs: store of %d bytes is shorter than its blocks (%d)", size, end)
	}
	a.header.packaged = hdr.Packaged
	a.header.blockTableLength = hdr.BlockTableLength
	a.alloc = newAllocator(tbl, a.queue, a.sched, a.opts)
	a.root = newDirNode("", nil, base.RootTableBlock, hdr.RootFileCount, hdr.RootDirCount)
	a.nodes.alloc(a.root)
	return nil
}

// release stops the I/O worker and the scheduler of an archive that failed
// to open.
func (a *Archive) release() {
	if a.sched != nil {
		_ = a.sched.Close(a.opts.DisposeTimeout)
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.watch != nil {
		a.watch.close()
	}
}

// Name returns the name of the archive.
func (a *Archive) Name() string { return a.name }

// Root returns the root directory.
func (a *Archive) Root() Dir {
	return Dir{Entry{a: a, h: a.root.self, kind: KindDir}}
}

// ReadOnly returns true if the archive was opened read-only.
func (a *Archive) ReadOnly() bool { return a.opts.ReadOnly }

// Packaged returns true if the archive is packaged: its block count was
// sealed and it has not grown since.
func (a *Archive) Packaged() bool {
	a.header.Lock()
	defer a.header.Unlock()
	return a.header.packaged
}

// Package marks the archive as packaged and persists the header. Packaging
// is a hint: any later growth of the block table clears it.
func (a *Archive) Package() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.header.Lock()
	a.header.packaged = true
	a.header.Unlock()
	a.writeFileHeader()
	return nil
}

func (a *Archive) checkOpen() error {
	if a.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (a *Archive) checkWritable() error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// WriteFileHeader persists the header with the current block count and root
// counts. The write is queued asynchronously; a previous header write that
// has not started yet is cancelled.
func (a *Archive) WriteFileHeader() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	a.writeFileHeader()
	return nil
}

func (a *Archive) writeFileHeader() {
	if a.opts.ReadOnly {
		return
	}
	a.header.Lock()
	defer a.header.Unlock()
	hdr := header{
		Version:          headerVersion,
		Name:             a.name,
		BlockCount:       int32(a.alloc.count()),
		Packaged:         a.header.packaged,
		RootFileCount:    a.root.dir.fileCount.Load(),
		RootDirCount:     a.root.dir.dirCount.Load(),
		BlockTableLength: a.header.blockTableLength,
	}
	if a.header.pending != nil {
		a.header.pending.Cancel()
	}
	a.header.pending = a.queue.Encode(ioqueue.At(0), &hdr, HeaderSize)
	a.stats.headerWrites.Add(1)
	a.opts.EventListener.HeaderWritten(int(hdr.BlockCount))
}

// blocksGrew is called after an allocation changed the number of blocks.
func (a *Archive) blocksGrew() {
	a.header.Lock()
	a.header.packaged = false
	a.header.Unlock()
	a.writeFileHeader()
}

// waitHeader waits for the last queued header write.
func (a *Archive) waitHeader(ctx context.Context) error {
	a.header.Lock()
	h := a.header.pending
	a.header.Unlock()
	if h == nil {
		return nil
	}
	err := h.Wait(ctx)
	if errors.Is(err, ioqueue.ErrCancelled) {
		// Superseded by a later write.
		return a.waitHeader(ctx)
	}
	return errors.Wrap(err, "blockfs: writing header")
}

// Flush writes the table of every dirty directory, persists the header and
// syncs the store. It returns the failures of background work recorded
// since the previous Flush.
func (a *Archive) Flush(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	return a.flush(ctx)
}

func (a *Archive) flush(ctx context.Context) error {
	var err error
	if !a.opts.ReadOnly {
		err = a.flushDir(ctx, a.root, true /* parallel */)
		a.writeFileHeader()
		err = errors.CombineErrors(err, a.waitHeader(ctx))
		err = errors.CombineErrors(err, a.alloc.wait(ctx))
		if serr := a.queue.Sync().Wait(ctx); serr != nil {
			err = errors.CombineErrors(err, errors.Wrap(serr, "blockfs: sync"))
		}
	}
	return errors.CombineErrors(err, a.sched.TakeErrors())
}

// Close flushes the archive and releases its resources. Background
// deallocations are awaited for up to Options.DisposeTimeout. Streams still
// open are closed.
func (a *Archive) Close() error {
	if a.closed.Load() {
		return ErrClosed
	}
	ctx := context.Background()
	a.closeStreams()
	err := a.flush(ctx)
	a.closed.Store(true)

	err = errors.CombineErrors(err, a.sched.Close(a.opts.DisposeTimeout))
	if !a.opts.ReadOnly {
		// Deallocations may have rewritten descriptors after the flush.
		err = errors.CombineErrors(err, a.alloc.wait(ctx))
		err = errors.CombineErrors(err, a.waitHeader(ctx))
		if serr := a.queue.Sync().Wait(ctx); serr != nil {
			err = errors.CombineErrors(err, errors.Wrap(serr, "blockfs: sync"))
		}
	}
	a.queue.Close()
	a.watch.close()
	a.alloc.close()
	releaseName(a.name)
	if a.ownsFile {
		err = errors.CombineErrors(err, a.file.Close())
	}
	return err
}

// closeStreams closes every stream that is still open.
func (a *Archive) closeStreams() {
	var files []*fileState
	a.nodes.mu.Lock()
	for _, s := range a.nodes.slots {
		if s.node != nil && s.node.file != nil {
			files = append(files, s.node.file)
		}
	}
	a.nodes.mu.Unlock()
	var streams []*Stream
	for _, f := range files {
		f.mu.Lock()
		for st := range f.streams {
			streams = append(streams, st)
		}
		f.mu.Unlock()
	}
	for _, s := range streams {
		if err := s.Close(); err != nil && !errors.Is(err, ErrClosed) {
			a.opts.Logger.Errorf("blockfs: closing stream of %q: %v", s.n.Name(), err)
		}
	}
}

// Watch returns a Watcher receiving the changes of e, and of its descendants
// if descendants is true. Without descendants a directory's watcher still
// receives the changes of its direct children.
func (a *Archive) Watch(e Entry, descendants bool) (*Watcher, error) {
	if _, err := e.node(); err != nil {
		return nil, err
	}
	return a.watch.add(e.h, descendants), nil
}

func (a *Archive) publish(kind ChangeKind, n *node, oldName string) {
	rec := changeRecord{
		Change: Change{
			Kind:     kind,
			Entry:    Entry{a: a, h: n.self, kind: n.kind},
			Identity: n.identity(),
			OldName:  oldName,
		},
		self: n.self,
	}
	if n.owner.valid() {
		rec.Owner = Entry{a: a, h: n.owner, kind: KindDir}
	}
	for h := n.owner; h.valid(); {
		rec.ancestors = append(rec.ancestors, h)
		o := a.nodes.get(h)
		if o == nil {
			break
		}
		h = o.owner
	}
	a.watch.publish(rec)
}
