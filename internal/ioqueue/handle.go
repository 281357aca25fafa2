// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package ioqueue

import (
	"context"

	"github.com/cockroachdb/blockfs/internal/codec"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// ErrCancelled is returned by operations that were cancelled before they
// executed, either explicitly or because an operation they depend on failed.
var ErrCancelled = errors.New("blockfs/ioqueue: operation cancelled")

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("blockfs/ioqueue: queue closed")

// Kind identifies the type of a queued operation.
type Kind uint8

// The set of operation kinds.
const (
	KindRead Kind = iota
	KindWrite
	KindEncode
	KindDecode
	KindTruncate
	KindScramble
	KindSync
	numKinds
)

var kindNames = [...]string{
	KindRead:     "read",
	KindWrite:    "write",
	KindEncode:   "encode",
	KindDecode:   "decode",
	KindTruncate: "truncate",
	KindScramble: "scramble",
	KindSync:     "sync",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "unknown"
}

// SafeFormat implements redact.SafeFormatter.
func (k Kind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

type posKind uint8

const (
	posAbsolute posKind = iota
	posFromEnd
	posAfter
)

// Position is the start position of a queued operation.
type Position struct {
	kind  posKind
	off   int64
	after *Handle
	dep   *Handle
}

// At is an absolute position.
func At(off int64) Position {
	return Position{kind: posAbsolute, off: off}
}

// FromEnd is a position relative to the size of the store at the time the
// operation executes. The offset is added to the size.
func FromEnd(off int64) Position {
	return Position{kind: posFromEnd, off: off}
}

// After is the position at which the operation tracked by h ended. If h does
// not succeed, the operation is cancelled.
func After(h *Handle) Position {
	return Position{kind: posAfter, after: h}
}

// DependsOn returns a copy of p that additionally requires h to succeed. A nil
// h adds no dependency.
func (p Position) DependsOn(h *Handle) Position {
	p.dep = h
	return p
}

type state uint8

const (
	statePending state = iota
	stateRunning
	stateDone
)

// Handle tracks a queued operation.
type Handle struct {
	q    *Queue
	kind Kind
	pos  Position

	buf     []byte
	decoder codec.Decoder
	size    int64
	// extend makes a truncation a no-op if the store is already larger.
	extend bool

	// Guarded by q.mu until done is closed; immutable afterwards.
	state state
	start int64
	n     int
	err   error
	done  chan struct{}
}

func newHandle(q *Queue, kind Kind, pos Position) *Handle {
	return &Handle{q: q, kind: kind, pos: pos, done: make(chan struct{})}
}

// Kind returns the operation kind.
func (h *Handle) Kind() Kind { return h.kind }

// Done returns a channel that is closed once the operation completed, failed
// or was cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation finishes or ctx is done, and returns the
// operation's error. Returning because of ctx does not cancel the operation.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the operation's error. It must only be called after Done is
// closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// N returns the number of bytes transferred.
func (h *Handle) N() int {
	<-h.done
	return h.n
}

// Start returns the resolved start offset of the operation.
func (h *Handle) Start() int64 {
	<-h.done
	return h.start
}

// End returns the offset at which the operation ended: the start plus the
// number of bytes transferred, or the new size for a truncation.
func (h *Handle) End() int64 {
	<-h.done
	if h.kind == KindTruncate {
		return h.size
	}
	return h.start + int64(h.n)
}

// Cancel cancels the operation if it has not started executing. It returns
// true if the operation was cancelled by this call.
func (h *Handle) Cancel() bool {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	if h.state != statePending {
		return false
	}
	h.q.finishLocked(h, ErrCancelled)
	return true
}

// failed reports whether a finished operation did not succeed.
func (h *Handle) failed() bool {
	return h.err != nil
}
