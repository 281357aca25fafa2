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
	"github.com/cockroachdb/blockfs/internal/invariants"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/errors"
)

// Open opens a stream on the file. The access and share modes of the new
// stream are checked against the streams already open: opening fails with
// ErrInUse if either side wants an access the other does not share. Writing
// requires an archive that is not read-only.
func (f File) Open(access Access, share Share) (*Stream, error) {
	a := f.a
	if access == 0 || access&^AccessReadWrite != 0 {
		return nil, errors.Wrapf(ErrAccess, "invalid access mode %s", access)
	}
	if access&AccessWrite != 0 && a != nil && a.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	n, err := f.node()
	if err != nil {
		return nil, err
	}
	fs := n.file
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n.deleted.Load() {
		return nil, ErrDeleted
	}
	for o := range fs.streams {
		if conflicts(access, share, o.access, o.share) {
			return nil, errors.Wrapf(ErrInUse, "file %q is open for %s sharing %s", n.Name(), o.access, o.share)
		}
	}
	if !fs.loaded {
		if err := a.loadRangesLocked(n); err != nil {
			return nil, err
		}
	}
	s := &Stream{a: a, n: n, fs: fs, access: access, share: share}
	if fs.streams == nil {
		fs.streams = make(map[*Stream]struct{})
	}
	fs.streams[s] = struct{}{}
	a.stats.streamsOpened.Add(1)
	a.stats.streamsOpen.Add(1)
	return s, nil
}

// loadRangesLocked builds the range list of a file from its chain. Every
// block but the last one holding data must be full. n.file.mu must be held.
func (a *Archive) loadRangesLocked(n *node) error {
	chain, err := a.alloc.chain(n.start)
	if err != nil {
		return err
	}
	ranges := make([]blockRange, len(chain))
	var length int64
	partial := false
	for i, b := range chain {
		if b.Type != base.BlockTypeBinary {
			return base.CorruptionErrorf("blockfs: file %q chains into %s block %s", n.Name(), b.Type, b.ID)
		}
		if partial && b.Used > 0 {
			return base.CorruptionErrorf("blockfs: file %q has data after a partial block at %s", n.Name(), b.ID)
		}
		partial = b.Used < b.Length
		ranges[i] = blockRange{id: b.ID, start: b.Start, length: b.Length, used: b.Used}
		length += b.Used
	}
	if recorded := n.file.length.Load(); recorded != length {
		a.opts.Logger.Infof("blockfs: file %q holds %d bytes, recorded %d", a.pathOf(n), length, recorded)
	}
	n.file.ranges = ranges
	n.file.length.Store(length)
	n.file.loaded = true
	return nil
}

// chunk is the part of an I/O that falls into one block.
type chunk struct {
	phys int64
	n    int
}

// chunksLocked splits the logical range [off, off+n) at block boundaries.
func (fs *fileState) chunksLocked(off, n int64) []chunk {
	var cs []chunk
	var rs int64
	for _, r := range fs.ranges {
		if n == 0 {
			break
		}
		re := rs + r.length
		if off < re {
			k := min(re-off, n)
			cs = append(cs, chunk{phys: r.start + off - rs, n: int(k)})
			off += k
			n -= k
		}
		rs = re
	}
	if invariants.Enabled && n != 0 {
		panic(errors.AssertionFailedf("blockfs: %d bytes beyond the chain", n))
	}
	return cs
}

func (fs *fileState) capacityLocked() int64 {
	var c int64
	for _, r := range fs.ranges {
		c += r.length
	}
	return c
}

// usedLocked recomputes the used bytes of every block for the given length.
func (fs *fileState) usedLocked(length int64) []usedUpdate {
	var updates []usedUpdate
	var rs int64
	for i := range fs.ranges {
		r := &fs.ranges[i]
		u := min(max(length-rs, 0), r.length)
		if u != r.used {
			r.used = u
			updates = append(updates, usedUpdate{id: r.id, used: u})
		}
		rs += r.length
	}
	return updates
}

// Stream is a random-access byte stream on a file. A Stream is safe for
// concurrent use, though concurrent calls that move the position interleave
// in an unspecified order.
type Stream struct {
	a      *Archive
	n      *node
	fs     *fileState
	access Access
	share  Share

	// shrunk is one more than the shortest length another stream truncated
	// the file to since the position was last read, or zero.
	shrunk atomic.Int64

	mu struct {
		sync.Mutex
		pos int64
		// last is the last queued operation of an asynchronous call. Every
		// operation the stream queues depends on the one before it.
		last     *ioqueue.Handle
		modified bool
		closed   bool
	}
}

var _ io.ReadWriteSeeker = (*Stream)(nil)
var _ io.ReaderAt = (*Stream)(nil)
var _ io.WriterAt = (*Stream)(nil)
var _ io.Closer = (*Stream)(nil)

// File returns the file the stream is open on.
func (s *Stream) File() File {
	return File{Entry{a: s.a, h: s.n.self, kind: KindFile}}
}

// Access returns the access mode of the stream.
func (s *Stream) Access() Access { return s.access }

// Share returns the share mode of the stream.
func (s *Stream) Share() Share { return s.share }

// Length returns the length of the file.
func (s *Stream) Length() int64 { return s.fs.length.Load() }

// Position returns the current position.
func (s *Stream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posLocked()
}

// posLocked returns the position after moving it back to the end of the file
// if another stream truncated the file below it.
func (s *Stream) posLocked() int64 {
	if c := s.shrunk.Swap(0); c != 0 && s.mu.pos > c-1 {
		s.mu.pos = c - 1
	}
	return s.mu.pos
}

// noteShrunk records that the file was truncated to length by another
// stream. It must not take s.mu: the caller holds its own stream's mutex.
func (s *Stream) noteShrunk(length int64) {
	for {
		old := s.shrunk.Load()
		if old != 0 && old-1 <= length {
			return
		}
		if s.shrunk.CompareAndSwap(old, length+1) {
			return
		}
	}
}

func (s *Stream) checkLocked(access Access) error {
	if s.mu.closed {
		return ErrClosed
	}
	if err := s.a.checkOpen(); err != nil {
		return err
	}
	if s.access&access != access {
		return errors.Wrapf(ErrAccess, "stream opened for %s", s.access)
	}
	if s.n.deleted.Load() {
		return ErrDeleted
	}
	return nil
}

// Seek implements io.Seeker. Seeking past the end is allowed; a write there
// zero-fills the gap.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return 0, ErrClosed
	}
	cur := s.posLocked()
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		pos = s.fs.length.Load() + offset
	default:
		return 0, errors.Newf("blockfs: invalid whence %d", errors.Safe(whence))
	}
	if pos < 0 {
		return 0, errors.Newf("blockfs: negative position %d", errors.Safe(pos))
	}
	s.mu.pos = pos
	return pos, nil
}

// submitRead queues the reads of p at off, clamped to the length of the file.
// It returns io.EOF if off is at or past the end.
func (s *Stream) submitRead(p []byte, off int64) (int, []*ioqueue.Handle, error) {
	fs := s.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	length := fs.length.Load()
	if off >= length {
		return 0, nil, io.EOF
	}
	n := int(min(int64(len(p)), length-off))
	hs := make([]*ioqueue.Handle, 0, 2)
	o := 0
	for _, c := range fs.chunksLocked(off, int64(n)) {
		h := s.a.queue.Read(ioqueue.At(c.phys).DependsOn(s.mu.last), p[o:o+c.n])
		s.mu.last = h
		hs = append(hs, h)
		o += c.n
	}
	s.a.stats.bytesRead.Add(int64(n))
	return n, hs, nil
}

// submitWrite queues the writes of p at off, growing the chain as needed and
// zero-filling any gap between the end of the file and off.
func (s *Stream) submitWrite(p []byte, off int64) ([]*ioqueue.Handle, error) {
	a := s.a
	fs := s.fs
	end := off + int64(len(p))

	fs.mu.Lock()
	oldLen := fs.length.Load()
	grew := false
	for capacity := fs.capacityLocked(); capacity < end; {
		last := fs.ranges[len(fs.ranges)-1]
		b, g, err := a.alloc.appendBlock(last.id, base.BlockTypeBinary, a.opts.BlockLength)
		grew = grew || g
		if err != nil {
			fs.mu.Unlock()
			if grew {
				a.blocksGrew()
			}
			return nil, err
		}
		fs.ranges = append(fs.ranges, blockRange{id: b.ID, start: b.Start, length: b.Length})
		capacity += b.Length
	}

	var hs []*ioqueue.Handle
	submit := func(off int64, data []byte) {
		o := 0
		for _, c := range fs.chunksLocked(off, int64(len(data))) {
			h := a.queue.Write(ioqueue.At(c.phys).DependsOn(s.mu.last), data[o:o+c.n])
			s.mu.last = h
			hs = append(hs, h)
			o += c.n
		}
	}
	if off > oldLen {
		submit(oldLen, make([]byte, off-oldLen))
	}
	submit(off, p)

	newLen := max(oldLen, end)
	err := a.alloc.setUsed(fs.usedLocked(newLen))
	fs.length.Store(newLen)
	fs.mu.Unlock()

	a.stats.bytesWritten.Add(int64(len(p)))
	if grew {
		a.blocksGrew()
	}
	if newLen != oldLen {
		s.mu.modified = true
		s.lengthChanged()
	}
	return hs, err
}

// lengthChanged marks the owner, whose table records the file's length,
// dirty.
func (s *Stream) lengthChanged() {
	if o := s.a.nodes.get(s.n.owner); o != nil {
		s.a.markDirty(o)
	}
	s.a.publish(ChangeModified, s.n, "")
}

// wait waits for hs. On failure the stream's dependency chain is reset so
// that later operations do not inherit the failure.
func (s *Stream) waitLocked(ctx context.Context, hs []*ioqueue.Handle) error {
	for _, h := range hs {
		if err := h.Wait(ctx); err != nil {
			s.mu.last = nil
			return err
		}
	}
	if len(hs) > 0 && s.mu.last == hs[len(hs)-1] {
		s.mu.last = nil
	}
	return nil
}

// Read implements io.Reader. It reads up to len(p) bytes at the current
// position, stopping at the end of the file.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessRead); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, hs, err := s.submitRead(p, s.posLocked())
	if err != nil {
		return 0, err
	}
	if err := s.waitLocked(context.Background(), hs); err != nil {
		return 0, err
	}
	s.mu.pos += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt. It does not move the position.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf("blockfs: negative offset %d", errors.Safe(off))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessRead); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, hs, err := s.submitRead(p, off)
	if err != nil {
		return 0, err
	}
	if err := s.waitLocked(context.Background(), hs); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write implements io.Writer. It writes p at the current position,
// extending the file as needed.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessWrite); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	hs, err := s.submitWrite(p, s.posLocked())
	if err == nil {
		err = s.waitLocked(context.Background(), hs)
	}
	if err != nil {
		return 0, err
	}
	s.mu.pos += int64(len(p))
	return len(p), nil
}

// WriteAt implements io.WriterAt. It does not move the position.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Newf("blockfs: negative offset %d", errors.Safe(off))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessWrite); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	hs, err := s.submitWrite(p, off)
	if err == nil {
		err = s.waitLocked(context.Background(), hs)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetLength sets the length of the file. Growing zero-fills the new bytes;
// shrinking releases the blocks past the new end and moves the position of
// every stream open on the file back to the end if it was beyond it.
func (s *Stream) SetLength(length int64) error {
	if length < 0 {
		return errors.Newf("blockfs: negative length %d", errors.Safe(length))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessWrite); err != nil {
		return err
	}
	a := s.a
	fs := s.fs
	fs.mu.Lock()
	oldLen := fs.length.Load()
	switch {
	case length == oldLen:
		fs.mu.Unlock()
		return nil
	case length > oldLen:
		fs.mu.Unlock()
		hs, err := s.submitWrite(make([]byte, length-oldLen), oldLen)
		if err == nil {
			err = s.waitLocked(context.Background(), hs)
		}
		return err
	}

	// Keep the block holding the last byte, or the head for an empty file.
	var rs int64
	k := 0
	for ; k < len(fs.ranges)-1; k++ {
		if length <= rs+fs.ranges[k].length {
			break
		}
		rs += fs.ranges[k].length
	}
	free := base.InvalidBlock
	var err error
	if k+1 < len(fs.ranges) {
		free = fs.ranges[k+1].id
		err = a.alloc.link(fs.ranges[k].id, base.InvalidBlock)
	}
	if err == nil {
		fs.ranges = fs.ranges[:k+1]
		err = a.alloc.setUsed(fs.usedLocked(length))
		fs.length.Store(length)
		for o := range fs.streams {
			if o != s {
				o.noteShrunk(length)
			}
		}
	}
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	err = a.alloc.deallocate(free)
	if s.posLocked() > length {
		s.mu.pos = length
	}
	s.mu.modified = true
	s.lengthChanged()
	return err
}

// Pending is an asynchronous read or write.
type Pending struct {
	n   int
	hs  []*ioqueue.Handle
	err error
}

// Done returns a channel that is closed when the operation has finished.
func (p *Pending) Done() <-chan struct{} {
	if len(p.hs) == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	// Operations finish in submission order.
	return p.hs[len(p.hs)-1].Done()
}

// Wait waits for the operation and returns the number of bytes transferred.
// A read at the end of the file returns io.EOF.
func (p *Pending) Wait(ctx context.Context) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	for _, h := range p.hs {
		if err := h.Wait(ctx); err != nil {
			return 0, err
		}
	}
	return p.n, nil
}

// ReadAsync queues a read of up to len(p) bytes at the current position and
// advances the position. p must not be used until the operation is done. The
// read depends on every operation the stream queued before it.
func (s *Stream) ReadAsync(p []byte) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessRead); err != nil {
		return &Pending{err: err}
	}
	n, hs, err := s.submitRead(p, s.posLocked())
	if err != nil {
		return &Pending{err: err}
	}
	s.mu.pos += int64(n)
	return &Pending{n: n, hs: hs}
}

// WriteAsync queues a write of p at the current position and advances the
// position. The stream takes ownership of p. The write depends on every
// operation the stream queued before it.
func (s *Stream) WriteAsync(p []byte) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(AccessWrite); err != nil {
		return &Pending{err: err}
	}
	hs, err := s.submitWrite(p, s.posLocked())
	if err != nil {
		return &Pending{err: err}
	}
	s.mu.pos += int64(len(p))
	return &Pending{n: len(p), hs: hs}
}

// Flush waits for every operation the stream queued.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *Stream) flushLocked() error {
	last := s.mu.last
	s.mu.last = nil
	if last == nil {
		return nil
	}
	return last.Wait(context.Background())
}

// Close flushes the stream and closes it.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.closed = true
	err := s.flushLocked()
	modified := s.mu.modified
	s.mu.Unlock()

	s.fs.mu.Lock()
	delete(s.fs.streams, s)
	s.fs.mu.Unlock()
	s.a.stats.streamsOpen.Add(-1)
	if modified && !s.n.deleted.Load() {
		if o := s.a.nodes.get(s.n.owner); o != nil {
			s.a.markDirty(o)
		}
	}
	return err
}
