// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package task

import (
	"context"
	"sync"
)

// Slot coalesces requests for the same work on the same target. It holds at
// most one running and one pending task: scheduling while a task is pending
// cancels the pending one, and scheduling while a task is running defers the
// new one until the running one finishes. The last requested state wins.
//
// The zero value is ready to use.
type Slot struct {
	mu      sync.Mutex
	running *Task
	pending *Task
}

// Schedule requests a run of fn. Tasks scheduled through a Slot have Normal
// priority.
func (sl *Slot) Schedule(s *Scheduler, name string, fn Func) *Task {
	t := s.newTask(name, Normal, fn)
	t.onDone = func() { sl.finished(s, t) }
	if !s.register(t) {
		t.onDone = nil
		t.state.Store(stateDone)
		t.err = ErrClosed
		t.cancel()
		close(t.done)
		return t
	}

	sl.mu.Lock()
	prev := sl.pending
	sl.pending = nil
	start := sl.running == nil
	if start {
		sl.running = t
	} else {
		sl.pending = t
	}
	sl.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if start {
		s.start(t)
	}
	return t
}

func (sl *Slot) finished(s *Scheduler, t *Task) {
	sl.mu.Lock()
	if sl.pending == t {
		sl.pending = nil
	}
	if sl.running != t {
		sl.mu.Unlock()
		return
	}
	next := sl.pending
	sl.pending = nil
	sl.running = next
	sl.mu.Unlock()
	if next != nil {
		s.start(next)
	}
}

// Cancel cancels the pending task and the running one.
func (sl *Slot) Cancel() {
	sl.mu.Lock()
	running, pending := sl.running, sl.pending
	sl.mu.Unlock()
	if pending != nil {
		pending.Cancel()
	}
	if running != nil {
		running.Cancel()
	}
}

// Busy returns true if a task is running or pending.
func (sl *Slot) Busy() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.running != nil || sl.pending != nil
}

// Wait waits until the slot is idle and returns the error of the last task
// that finished while waiting.
func (sl *Slot) Wait(ctx context.Context) error {
	var err error
	for {
		sl.mu.Lock()
		t := sl.pending
		if t == nil {
			t = sl.running
		}
		sl.mu.Unlock()
		if t == nil {
			return err
		}
		if err = t.Wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}
}
