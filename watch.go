// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"runtime/pprof"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/redact"
)

// ChangeKind is the kind of a change record.
type ChangeKind uint8

// The change kinds.
const (
	// ChangeCreated is published when an entry is created.
	ChangeCreated ChangeKind = iota
	// ChangeDeleted is published when an entry is deleted. Deleting a
	// directory publishes one record per deleted descendant.
	ChangeDeleted
	// ChangeRenamed is published when an entry is renamed.
	ChangeRenamed
	// ChangeModified is published when a file's length changes.
	ChangeModified
)

var changeKindNames = [...]string{
	ChangeCreated:  "created",
	ChangeDeleted:  "deleted",
	ChangeRenamed:  "renamed",
	ChangeModified: "modified",
}

// String implements fmt.Stringer.
func (k ChangeKind) String() string {
	if int(k) < len(changeKindNames) {
		return changeKindNames[k]
	}
	return "unknown"
}

// SafeFormat implements redact.SafeFormatter.
func (k ChangeKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// Change describes one mutation of an archive's tree.
type Change struct {
	Kind ChangeKind
	// Entry is the changed entry. After a deletion it no longer resolves.
	Entry Entry
	// Identity is the entry's identity after the change.
	Identity Identity
	// OldName is the previous name of a renamed entry.
	OldName string
	// Owner is the directory holding the entry.
	Owner Entry
}

func (c Change) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c Change) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s %s %s", c.Kind, c.Identity.Kind, c.Identity.Name)
	if c.Kind == ChangeRenamed {
		w.Printf(" (was %s)", c.OldName)
	}
}

// changeRecord is a change plus the handles of the entry's ancestors at the
// time of the change, innermost first.
type changeRecord struct {
	Change
	self      handle
	ancestors []handle
	// seq orders the record among all records published by the hub.
	seq       int64
}

// Watcher receives the changes of an entry, and optionally of its
// descendants. Changes are delivered on C in the order they were made; a
// watcher that does not keep up loses changes, which are counted by Dropped.
type Watcher struct {
	// C delivers the changes. It is closed when the watcher or the archive
	// is closed.
	C <-chan Change

	hub         *watchHub
	ch          chan Change
	target      handle
	descendants bool
	// since is the sequence number of the last record published before the
	// watcher was added. Earlier records are not delivered.
	since       int64
	dropped     atomic.Int64
}

// Dropped returns the number of changes that could not be delivered because
// C was full.
func (w *Watcher) Dropped() int64 { return w.dropped.Load() }

// Close stops the delivery of changes and closes C.
func (w *Watcher) Close() {
	w.hub.remove(w)
}

func (w *Watcher) matches(rec *changeRecord) bool {
	if rec.seq <= w.since {
		return false
	}
	if rec.self == w.target {
		return true
	}
	if !w.descendants {
		return len(rec.ancestors) > 0 && rec.ancestors[0] == w.target
	}
	for _, h := range rec.ancestors {
		if h == w.target {
			return true
		}
	}
	return false
}

// watchHub is the per-archive change channel. Mutations push change records
// onto it; a dispatcher goroutine drains it and fans the records out to the
// watchers.
type watchHub struct {
	bufSize int

	send struct {
		sync.RWMutex
		closed bool
		ch     chan changeRecord
	}
	watchers struct {
		sync.Mutex
		set map[*Watcher]struct{}
	}
	published atomic.Int64
	done      chan struct{}
}

func newWatchHub(bufSize int) *watchHub {
	h := &watchHub{bufSize: bufSize, done: make(chan struct{})}
	h.send.ch = make(chan changeRecord, bufSize)
	h.watchers.set = make(map[*Watcher]struct{})
	go func() {
		pprof.Do(context.Background(), pprof.Labels("blockfs", "watch"), func(context.Context) {
			h.dispatch()
		})
	}()
	return h
}

func (h *watchHub) publish(rec changeRecord) {
	h.send.RLock()
	defer h.send.RUnlock()
	if h.send.closed {
		return
	}
	rec.seq = h.published.Add(1)
	h.send.ch <- rec
}

func (h *watchHub) dispatch() {
	defer close(h.done)
	for rec := range h.send.ch {
		h.watchers.Lock()
		for w := range h.watchers.set {
			if !w.matches(&rec) {
				continue
			}
			select {
			case w.ch <- rec.Change:
			default:
				w.dropped.Add(1)
			}
		}
		h.watchers.Unlock()
	}
}

func (h *watchHub) add(target handle, descendants bool) *Watcher {
	w := &Watcher{hub: h, ch: make(chan Change, h.bufSize), target: target, descendants: descendants}
	w.C = w.ch
	h.watchers.Lock()
	defer h.watchers.Unlock()
	w.since = h.published.Load()
	if h.watchers.set == nil {
		close(w.ch)
		return w
	}
	h.watchers.set[w] = struct{}{}
	return w
}

func (h *watchHub) remove(w *Watcher) {
	h.watchers.Lock()
	defer h.watchers.Unlock()
	if _, ok := h.watchers.set[w]; ok {
		delete(h.watchers.set, w)
		close(w.ch)
	}
}

// close delivers the records already published and closes every watcher.
func (h *watchHub) close() {
	h.send.Lock()
	if h.send.closed {
		h.send.Unlock()
		return
	}
	h.send.closed = true
	close(h.send.ch)
	h.send.Unlock()
	<-h.done

	h.watchers.Lock()
	defer h.watchers.Unlock()
	for w := range h.watchers.set {
		close(w.ch)
	}
	h.watchers.set = nil
}
