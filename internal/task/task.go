// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package task runs background work (directory flushes and chain
// deallocation) off the caller's goroutine.
//
// Tasks run on a bounded worker pool. A task has a priority: Normal tasks may
// be cancelled at any time, MustComplete tasks ignore Cancel and are only
// cancelled when the Scheduler is closed and the dispose timeout elapses.
// Failures are recorded on the task, logged, and accumulated on the
// Scheduler until taken by the owner.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/panjf2000/ants/v2"
)

// ErrCancelled is the error of a task that was cancelled before or while it
// ran.
var ErrCancelled = errors.New("blockfs/task: cancelled")

// ErrClosed is the error of a task scheduled after Close.
var ErrClosed = errors.New("blockfs/task: scheduler closed")

// ErrDisposeTimeout is returned by Close when must-complete tasks were still
// running when the dispose timeout elapsed.
var ErrDisposeTimeout = errors.New("blockfs/task: dispose timeout elapsed")

// Priority of a task.
type Priority uint8

const (
	// Normal tasks are cancelled by Cancel and by Close.
	Normal Priority = iota
	// MustComplete tasks ignore Cancel. Close waits for them up to the dispose
	// timeout before cancelling them.
	MustComplete
)

// SafeFormat implements redact.SafeFormatter.
func (p Priority) SafeFormat(w redact.SafePrinter, _ rune) {
	if p == MustComplete {
		w.Print(redact.SafeString("must-complete"))
		return
	}
	w.Print(redact.SafeString("normal"))
}

func (p Priority) String() string {
	return redact.StringWithoutMarkers(p)
}

// Func is the body of a task. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

const (
	statePending int32 = iota
	stateRunning
	stateDone
)

// Task is a handle to scheduled background work.
type Task struct {
	s        *Scheduler
	name     string
	priority Priority
	fn       Func
	ctx      context.Context
	cancel   context.CancelFunc
	state    atomic.Int32
	err      error
	done     chan struct{}
	// onDone is invoked after the task finishes, before done is closed.
	onDone func()
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Priority returns the task's priority.
func (t *Task) Priority() Priority { return t.priority }

// Done returns a channel that is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err blocks until the task finishes and returns its error.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Cancel cancels a Normal task. A task that has not started yet never runs;
// a running task has its context cancelled. Cancel returns true if it
// prevented the task from running. It is a no-op for MustComplete tasks.
func (t *Task) Cancel() bool {
	if t.priority == MustComplete {
		return false
	}
	return t.forceCancel()
}

func (t *Task) forceCancel() bool {
	if t.state.CompareAndSwap(statePending, stateDone) {
		t.cancel()
		t.finish(ErrCancelled)
		return true
	}
	t.cancel()
	return false
}

func (t *Task) run() {
	if !t.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	err := t.fn(t.ctx)
	if err == nil && t.ctx.Err() != nil && t.priority == Normal {
		err = ErrCancelled
	}
	if err != nil && errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}
	t.state.Store(stateDone)
	t.finish(err)
}

func (t *Task) finish(err error) {
	t.err = err
	t.cancel()
	t.s.taskFinished(t)
	if t.onDone != nil {
		t.onDone()
	}
	close(t.done)
}

// Options configures a Scheduler.
type Options struct {
	// Workers is the size of the worker pool.
	Workers int
	// Logger reports task failures.
	Logger base.Logger
	// OnError, if set, is called with every task failure other than
	// cancellation.
	OnError func(name string, err error)
}

// Metrics holds the Scheduler's counters.
type Metrics struct {
	Scheduled int64
	Completed int64
	Failed    int64
	Cancelled int64
	Running   int64
}

// Scheduler runs tasks on an ants worker pool. Tasks submitted when every
// worker is busy run on their own goroutine, so that a task may schedule
// other tasks without risking a pool deadlock.
type Scheduler struct {
	opts Options
	pool *ants.Pool

	mu struct {
		sync.Mutex
		closed  bool
		live    map[*Task]struct{}
		errs    error
		metrics Metrics
	}
	wg sync.WaitGroup
}

// NewScheduler returns a new Scheduler.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = base.DefaultLogger
	}
	s := &Scheduler{opts: opts}
	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(true), ants.WithPanicHandler(func(p interface{}) {
		s.opts.Logger.Errorf("blockfs: background task panicked: %v", p)
	}))
	if err != nil {
		return nil, errors.Wrap(err, "blockfs/task: creating worker pool")
	}
	s.pool = pool
	s.mu.live = make(map[*Task]struct{})
	return s, nil
}

func (s *Scheduler) newTask(name string, p Priority, fn Func) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		s:        s,
		name:     name,
		priority: p,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Go schedules fn. After Close the returned task has already failed with
// ErrClosed.
func (s *Scheduler) Go(name string, p Priority, fn Func) *Task {
	t := s.newTask(name, p, fn)
	if !s.register(t) {
		t.state.Store(stateDone)
		t.err = ErrClosed
		t.cancel()
		close(t.done)
		return t
	}
	s.start(t)
	return t
}

func (s *Scheduler) register(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return false
	}
	s.mu.live[t] = struct{}{}
	s.mu.metrics.Scheduled++
	s.wg.Add(1)
	return true
}

func (s *Scheduler) start(t *Task) {
	if err := s.pool.Submit(t.run); err != nil {
		// ants.ErrPoolOverload: every worker is busy.
		go t.run()
	}
}

func (s *Scheduler) taskFinished(t *Task) {
	defer s.wg.Done()
	failed := t.err != nil && !errors.Is(t.err, ErrCancelled)
	s.mu.Lock()
	delete(s.mu.live, t)
	switch {
	case t.err == nil:
		s.mu.metrics.Completed++
	case !failed:
		s.mu.metrics.Cancelled++
	default:
		s.mu.metrics.Failed++
		s.mu.errs = errors.CombineErrors(s.mu.errs, errors.Wrapf(t.err, "background task %s", t.name))
	}
	s.mu.Unlock()
	if failed {
		s.opts.Logger.Errorf("blockfs: background task %s failed: %v", t.name, t.err)
		if s.opts.OnError != nil {
			s.opts.OnError(t.name, t.err)
		}
	}
}

// TakeErrors returns the failures recorded since the last call, combined, and
// clears them.
func (s *Scheduler) TakeErrors() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.mu.errs
	s.mu.errs = nil
	return err
}

// Metrics returns the current counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mu.metrics
	m.Running = int64(len(s.mu.live))
	return m
}

// Close cancels every Normal task and waits for MustComplete tasks for up to
// timeout, after which they are cancelled too. It returns the recorded task
// failures, plus ErrDisposeTimeout if the timeout elapsed.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.closed = true
	var normal []*Task
	for t := range s.mu.live {
		if t.priority == Normal {
			normal = append(normal, t)
		}
	}
	s.mu.Unlock()
	for _, t := range normal {
		t.Cancel()
	}

	var err error
	if !s.waitTimeout(timeout) {
		err = ErrDisposeTimeout
		s.mu.Lock()
		live := make([]*Task, 0, len(s.mu.live))
		for t := range s.mu.live {
			live = append(live, t)
		}
		s.mu.Unlock()
		for _, t := range live {
			s.opts.Logger.Errorf("blockfs: cancelling background task %s after dispose timeout", t.name)
			t.forceCancel()
		}
		s.wg.Wait()
	}
	if releaseErr := s.pool.ReleaseTimeout(timeout); releaseErr != nil {
		s.opts.Logger.Infof("blockfs: releasing worker pool: %v", releaseErr)
	}
	return errors.CombineErrors(s.TakeErrors(), err)
}

func (s *Scheduler) waitTimeout(timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
