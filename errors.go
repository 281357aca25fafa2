// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/errors"
)

// ErrCorruption is a marker to indicate that the archive is malformed: a bad
// header, a block count or chain pointer that does not match the block
// table, or an undecodable directory table. Corrupt archives refuse to open.
var ErrCorruption = base.ErrCorruption

// ErrNameConflict is returned when a sibling with the same name and kind
// exists, or when an archive with the same name is already open.
var ErrNameConflict = errors.New("blockfs: name conflict")

// ErrDeleted is returned by operations on an entry that was deleted.
var ErrDeleted = errors.New("blockfs: entry deleted")

// ErrInUse is returned when an entry cannot be deleted because it, or a file
// below it, has an open stream, and when a stream cannot be opened because of
// the share modes of the streams already open.
var ErrInUse = errors.New("blockfs: entry in use")

// ErrNotFound is returned when a path or child does not exist.
var ErrNotFound = errors.New("blockfs: not found")

// ErrAccess is returned by a stream operation that its access mode does not
// permit.
var ErrAccess = errors.New("blockfs: access denied")

// ErrReadOnly is returned by mutating operations on an archive opened
// read-only.
var ErrReadOnly = errors.New("blockfs: archive is read-only")

// ErrClosed is returned by operations on a closed archive or stream.
var ErrClosed = errors.New("blockfs: closed")

// ErrInvalidName is returned for entry names that cannot be stored.
var ErrInvalidName = errors.New("blockfs: invalid name")

// IsCorruptionError returns true if the given error indicates corruption.
func IsCorruptionError(err error) bool {
	return base.IsCorruptionError(err)
}
