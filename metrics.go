// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/ioqueue"
	"github.com/cockroachdb/blockfs/internal/task"
	"github.com/cockroachdb/redact"
)

// Metrics holds metrics for various subsystems of an archive.
type Metrics struct {
	Blocks struct {
		// Count is the number of blocks, including block-table regions.
		Count    int
		Regions  int
		Capacity int
		// Empty and EmptyBytes describe the deallocated blocks available for
		// reuse.
		Empty      int
		EmptyBytes int64
		// Deallocated is the number of blocks released since the archive was
		// opened.
		Deallocated int64
		// CountByType and BytesByType are indexed by block type.
		CountByType [base.NumBlockTypes]int
		BytesByType [base.NumBlockTypes]int64
	}

	Dirs struct {
		// Loads is the number of directory tables read.
		Loads int64
		// Flushes is the number of directory tables written.
		Flushes      int64
		FlushFailed  int64
		FlushedBytes int64
	}

	Streams struct {
		Opened       int64
		Open         int64
		BytesRead    int64
		BytesWritten int64
	}

	// Nodes is the number of files and directories in memory.
	Nodes int
	// Changes is the number of change records published.
	Changes      int64
	HeaderWrites int64

	IO    ioqueue.Metrics
	Tasks task.Metrics
}

// Metrics returns the current metrics.
func (a *Archive) Metrics() *Metrics {
	m := &Metrics{}
	stats, deallocated := a.alloc.stats()
	m.Blocks.Count = stats.Blocks
	m.Blocks.Regions = stats.Regions
	m.Blocks.Capacity = stats.Capacity
	m.Blocks.Empty = stats.Empty
	m.Blocks.EmptyBytes = stats.EmptyBytes
	m.Blocks.Deallocated = deallocated
	m.Blocks.CountByType = stats.Count
	m.Blocks.BytesByType = stats.Bytes

	m.Dirs.Loads = a.stats.dirLoads.Load()
	m.Dirs.Flushes = a.stats.dirFlushes.Load()
	m.Dirs.FlushFailed = a.stats.dirFlushFailed.Load()
	m.Dirs.FlushedBytes = a.stats.dirFlushBytes.Load()

	m.Streams.Opened = a.stats.streamsOpened.Load()
	m.Streams.Open = a.stats.streamsOpen.Load()
	m.Streams.BytesRead = a.stats.bytesRead.Load()
	m.Streams.BytesWritten = a.stats.bytesWritten.Load()

	m.Nodes = a.nodes.len()
	m.Changes = a.watch.published.Load()
	m.HeaderWrites = a.stats.headerWrites.Load()
	m.IO = a.queue.Metrics()
	m.Tasks = a.sched.Metrics()
	return m
}

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("blocks: %d (%d regions, %d/%d slots)  empty: %d (%d B)  deallocated: %d\n",
		redact.Safe(m.Blocks.Count), redact.Safe(m.Blocks.Regions), redact.Safe(m.Blocks.Count),
		redact.Safe(m.Blocks.Capacity), redact.Safe(m.Blocks.Empty), redact.Safe(m.Blocks.EmptyBytes),
		redact.Safe(m.Blocks.Deallocated))
	for t := base.BlockType(0); t < base.NumBlockTypes; t++ {
		w.Printf("  %s: %d (%d B)\n", t, redact.Safe(m.Blocks.CountByType[t]), redact.Safe(m.Blocks.BytesByType[t]))
	}
	w.Printf("dirs: %d loads  %d flushes (%d failed, %d B)\n",
		redact.Safe(m.Dirs.Loads), redact.Safe(m.Dirs.Flushes), redact.Safe(m.Dirs.FlushFailed),
		redact.Safe(m.Dirs.FlushedBytes))
	w.Printf("streams: %d open (%d opened)  read: %d B  written: %d B\n",
		redact.Safe(m.Streams.Open), redact.Safe(m.Streams.Opened),
		redact.Safe(m.Streams.BytesRead), redact.Safe(m.Streams.BytesWritten))
	w.Printf("nodes: %d  changes: %d  header writes: %d\n",
		redact.Safe(m.Nodes), redact.Safe(m.Changes), redact.Safe(m.HeaderWrites))
	w.Printf("io: %v\n", &m.IO)
	w.Printf("tasks: %d scheduled  %d completed  %d failed  %d cancelled  %d running\n",
		redact.Safe(m.Tasks.Scheduled), redact.Safe(m.Tasks.Completed), redact.Safe(m.Tasks.Failed),
		redact.Safe(m.Tasks.Cancelled), redact.Safe(m.Tasks.Running))
}

// String implements fmt.Stringer.
func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}
