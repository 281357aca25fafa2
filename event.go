// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"time"

	"github.com/cockroachdb/redact"
)

// DirFlushInfo contains the info for a directory flush event.
type DirFlushInfo struct {
	// Path is the path of the flushed directory.
	Path string
	// Files and Dirs are the numbers of children written.
	Files, Dirs int
	// Bytes is the size of the written table.
	Bytes int64
	// Blocks is the number of blocks of the staged chain.
	Blocks   int
	Duration time.Duration
	Err      error
}

func (i DirFlushInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i DirFlushInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[DIR] flush %s error: %s", i.Path, i.Err)
		return
	}
	w.Printf("[DIR] flushed %s: %d files, %d dirs, %d bytes in %d blocks (%.1fs)",
		i.Path, redact.Safe(i.Files), redact.Safe(i.Dirs), redact.Safe(i.Bytes),
		redact.Safe(i.Blocks), redact.Safe(i.Duration.Seconds()))
}

// BlockTableGrowthInfo contains the info for a block-table growth event.
type BlockTableGrowthInfo struct {
	Blocks   int
	Regions  int
	Capacity int
}

func (i BlockTableGrowthInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i BlockTableGrowthInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[TABLE] grown to %d regions (%d/%d slots used)",
		redact.Safe(i.Regions), redact.Safe(i.Blocks), redact.Safe(i.Capacity))
}

// ChainDeallocationInfo contains the info for a chain whose deallocation was
// written back.
type ChainDeallocationInfo struct {
	Blocks int
	Bytes  int64
}

func (i ChainDeallocationInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i ChainDeallocationInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[DEALLOC] released %d blocks (%d bytes)", redact.Safe(i.Blocks), redact.Safe(i.Bytes))
}

// EventListener contains a set of functions that will be invoked when various
// significant archive events occur. Note that the functions should not run
// for an excessive amount of time as they are invoked synchronously by the
// archive and may block continued archive work. The functions must not call
// back into the archive.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs during a background
	// operation such as a directory flush or a deallocation write-back.
	BackgroundError func(error)

	// DirFlushed is invoked after a directory table has been written, or has
	// failed to be written.
	DirFlushed func(DirFlushInfo)

	// BlockTableGrown is invoked after a new block-table region is created.
	BlockTableGrown func(BlockTableGrowthInfo)

	// ChainDeallocated is invoked after the descriptors of a deallocated
	// chain have been written back.
	ChainDeallocated func(ChainDeallocationInfo)

	// HeaderWritten is invoked when a rewrite of the file header is queued.
	HeaderWritten func(blockCount int)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Errorf("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.DirFlushed == nil {
		l.DirFlushed = func(info DirFlushInfo) {}
	}
	if l.BlockTableGrown == nil {
		l.BlockTableGrown = func(info BlockTableGrowthInfo) {}
	}
	if l.ChainDeallocated == nil {
		l.ChainDeallocated = func(info ChainDeallocationInfo) {}
	}
	if l.HeaderWritten == nil {
		l.HeaderWritten = func(int) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to the
// specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger
	}

	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		DirFlushed: func(info DirFlushInfo) {
			logger.Infof("%s", info)
		},
		BlockTableGrown: func(info BlockTableGrowthInfo) {
			logger.Infof("%s", info)
		},
		ChainDeallocated: func(info ChainDeallocationInfo) {
			logger.Infof("%s", info)
		},
		HeaderWritten: func(blockCount int) {
			logger.Infof("[HEADER] written: %d blocks", blockCount)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		BackgroundError: func(err error) {
			a.BackgroundError(err)
			b.BackgroundError(err)
		},
		DirFlushed: func(info DirFlushInfo) {
			a.DirFlushed(info)
			b.DirFlushed(info)
		},
		BlockTableGrown: func(info BlockTableGrowthInfo) {
			a.BlockTableGrown(info)
			b.BlockTableGrown(info)
		},
		ChainDeallocated: func(info ChainDeallocationInfo) {
			a.ChainDeallocated(info)
			b.ChainDeallocated(info)
		},
		HeaderWritten: func(blockCount int) {
			a.HeaderWritten(blockCount)
			b.HeaderWritten(blockCount)
		},
	}
}
