// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/blockfs/internal/blocktable"
	"github.com/cockroachdb/blockfs/internal/compression"
	"github.com/cockroachdb/blockfs/vfs"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the Go stdlib logs.
var DefaultLogger = base.DefaultLogger

// Compression exports the compression.Algorithm type.
type Compression = compression.Algorithm

// The directory table compression algorithms.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.Snappy
	MinLZCompression  = compression.MinLZ
	ZstdCompression   = compression.Zstd
)

// Block length limits. Requested lengths outside the range are clamped.
const (
	MinBlockLength     = base.MinBlockLength
	MaxBlockLength     = base.MaxBlockLength
	DefaultBlockLength = base.DefaultBlockLength
)

// Options holds the optional parameters for opening an archive. The zero
// value is valid: EnsureDefaults fills in the defaults.
type Options struct {
	// BlockLength is the length requested for new data blocks and directory
	// tables. The default is 4 KB.
	BlockLength int64

	// BlockTableLength is the length of every block-table region. It is only
	// used when creating an archive; existing archives use the length
	// recorded in their header. The default is 4 KB.
	BlockTableLength int64

	// DirCompression is the compression algorithm applied to directory
	// tables. Tables written with any algorithm can be read back regardless
	// of this setting. The zero value disables compression.
	DirCompression Compression

	// DisposeTimeout bounds how long Close waits for background chain
	// deallocation before cancelling it. The default is 10 seconds.
	DisposeTimeout time.Duration

	// DeallocationBytesPerSec paces the write-back of deallocated block
	// descriptors (and scrambled extents). Zero disables pacing.
	DeallocationBytesPerSec int64

	// EventListener provides hooks to listening to significant archive
	// events such as directory flushes and block-table growth.
	EventListener *EventListener

	// FS provides the interface for persistent file storage used by Open.
	// Defaults to vfs.Default.
	FS vfs.FS

	// IOMetrics holds optional latency histograms for the I/O queue.
	IOMetrics struct {
		// ReadLatency observes the latency in seconds of reads.
		ReadLatency prometheus.Histogram
		// WriteLatency observes the latency in seconds of writes.
		WriteLatency prometheus.Histogram
	}

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// MaxConcurrentFlushes bounds the number of directory tables being
	// written at the same time. The default is 4.
	MaxConcurrentFlushes int

	// BackgroundWorkers is the size of the worker pool running flushes and
	// deallocations. The default is 8.
	BackgroundWorkers int

	// PathCacheSize is the number of resolved paths cached by Lookup. The
	// default is 256.
	PathCacheSize int

	// ReadOnly indicates that the archive should be opened in read-only mode.
	// Mutations fail with ErrReadOnly and no background flushes run.
	ReadOnly bool

	// ScrambleFreedBlocks overwrites the extents of deallocated blocks with
	// random bytes.
	ScrambleFreedBlocks bool

	// private options are only used by internal tests.
	private struct {
		// disableBackgroundFlush prevents mutations from scheduling directory
		// flushes; tables are only written by Flush and Close.
		disableBackgroundFlush bool
	}
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified.
func (o *Options) EnsureDefaults() {
	if o.BlockLength <= 0 {
		o.BlockLength = DefaultBlockLength
	}
	o.BlockLength = base.ClampBlockLength(o.BlockLength)
	if o.BlockTableLength <= 0 {
		o.BlockTableLength = DefaultBlockLength
	}
	o.BlockTableLength = base.ClampBlockLength(o.BlockTableLength)
	if o.DisposeTimeout <= 0 {
		o.DisposeTimeout = 10 * time.Second
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
	if o.MaxConcurrentFlushes <= 0 {
		o.MaxConcurrentFlushes = 4
	}
	if o.BackgroundWorkers <= 0 {
		o.BackgroundWorkers = 8
	}
	if o.PathCacheSize <= 0 {
		o.PathCacheSize = 256
	}
}

// DefaultOptions returns the options used when none are provided: the
// defaults of EnsureDefaults, with snappy-compressed directory tables.
func DefaultOptions() *Options {
	o := &Options{DirCompression: SnappyCompression}
	o.EnsureDefaults()
	return o
}

// Clone creates a shallow-copy of the supplied options.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	n := *o
	if o.EventListener != nil {
		l := *o.EventListener
		n.EventListener = &l
	}
	return &n
}

// String returns the options in the INI-like format understood by Parse.
func (o *Options) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  background_workers=%d\n", o.BackgroundWorkers)
	fmt.Fprintf(&buf, "  block_length=%d\n", o.BlockLength)
	fmt.Fprintf(&buf, "  block_table_length=%d\n", o.BlockTableLength)
	fmt.Fprintf(&buf, "  deallocation_bytes_per_sec=%d\n", o.DeallocationBytesPerSec)
	fmt.Fprintf(&buf, "  dir_compression=%s\n", o.DirCompression)
	fmt.Fprintf(&buf, "  dispose_timeout=%s\n", o.DisposeTimeout)
	fmt.Fprintf(&buf, "  max_concurrent_flushes=%d\n", o.MaxConcurrentFlushes)
	fmt.Fprintf(&buf, "  path_cache_size=%d\n", o.PathCacheSize)
	fmt.Fprintf(&buf, "  read_only=%t\n", o.ReadOnly)
	fmt.Fprintf(&buf, "  scramble_freed_blocks=%t\n", o.ScrambleFreedBlocks)
	return buf.String()
}

// Parse parses the options from the specified string, in the format produced
// by String. Unknown keys and sections are errors.
func (o *Options) Parse(s string) error {
	var section string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			// Skip blank lines and comments.
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			if section != "Options" {
				return errors.Errorf("blockfs: unknown section: %q", errors.Safe(section))
			}
			continue
		}
		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return base.CorruptionErrorf("invalid key=value syntax: %q", errors.Safe(line))
		}
		if section != "Options" {
			return errors.Errorf("blockfs: option outside of [Options] section: %q", errors.Safe(line))
		}
		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])

		var err error
		switch key {
		case "background_workers":
			o.BackgroundWorkers, err = strconv.Atoi(value)
		case "block_length":
			o.BlockLength, err = strconv.ParseInt(value, 10, 64)
		case "block_table_length":
			o.BlockTableLength, err = strconv.ParseInt(value, 10, 64)
		case "deallocation_bytes_per_sec":
			o.DeallocationBytesPerSec, err = strconv.ParseInt(value, 10, 64)
		case "dir_compression":
			o.DirCompression, err = compression.ParseAlgorithm(value)
		case "dispose_timeout":
			o.DisposeTimeout, err = time.ParseDuration(value)
		case "max_concurrent_flushes":
			o.MaxConcurrentFlushes, err = strconv.Atoi(value)
		case "path_cache_size":
			o.PathCacheSize, err = strconv.Atoi(value)
		case "read_only":
			o.ReadOnly, err = strconv.ParseBool(value)
		case "scramble_freed_blocks":
			o.ScrambleFreedBlocks, err = strconv.ParseBool(value)
		default:
			return errors.Errorf("blockfs: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		if err != nil {
			return errors.Wrapf(err, "blockfs: parsing %s", errors.Safe(key))
		}
	}
	return nil
}

// Validate verifies that the options are mutually consistent. It presumes
// EnsureDefaults has been called.
func (o *Options) Validate() error {
	var buf strings.Builder
	if o.DirCompression >= compression.NumAlgorithms {
		fmt.Fprintf(&buf, "DirCompression (%d) is not a known algorithm\n", o.DirCompression)
	}
	if o.DeallocationBytesPerSec < 0 {
		fmt.Fprintf(&buf, "DeallocationBytesPerSec (%d) must be >= 0\n", o.DeallocationBytesPerSec)
	}
	if o.BlockTableLength < 2*blocktable.BTESize {
		fmt.Fprintf(&buf, "BlockTableLength (%d) must hold at least two descriptors\n", o.BlockTableLength)
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}
