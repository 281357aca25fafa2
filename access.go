// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import "github.com/cockroachdb/redact"

// Access is the set of operations a stream is opened for.
type Access uint8

// The access modes.
const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// Share is the set of operations other streams of the same file may be
// opened for while a stream is open.
type Share uint8

// The share modes.
const (
	ShareNone Share = 0
	ShareRead Share = 1 << (iota - 1)
	ShareWrite

	ShareReadWrite = ShareRead | ShareWrite
)

// String implements fmt.Stringer.
func (m Access) String() string { return redact.StringWithoutMarkers(m) }

// SafeFormat implements redact.SafeFormatter.
func (m Access) SafeFormat(w redact.SafePrinter, _ rune) {
	switch m {
	case 0:
		w.Print(redact.SafeString("none"))
	case AccessRead:
		w.Print(redact.SafeString("read"))
	case AccessWrite:
		w.Print(redact.SafeString("write"))
	case AccessReadWrite:
		w.Print(redact.SafeString("read-write"))
	default:
		w.Printf("access(%d)", redact.Safe(uint8(m)))
	}
}

// String implements fmt.Stringer.
func (m Share) String() string { return redact.StringWithoutMarkers(m) }

// SafeFormat implements redact.SafeFormatter.
func (m Share) SafeFormat(w redact.SafePrinter, _ rune) {
	Access(m).SafeFormat(w, 'v')
}

// conflicts returns true if a stream opened with (access, share) cannot
// coexist with an open stream opened with (openAccess, openShare): either
// stream wants an access the other does not share.
func conflicts(access Access, share Share, openAccess Access, openShare Share) bool {
	return access&^Access(openShare) != 0 || openAccess&^Access(share) != 0
}
