// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Kind is the kind of an entry.
type Kind uint8

// The entry kinds.
const (
	KindFile Kind = iota
	KindDir
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	return redact.StringWithoutMarkers(k)
}

// SafeFormat implements redact.SafeFormatter.
func (k Kind) SafeFormat(w redact.SafePrinter, _ rune) {
	switch k {
	case KindFile:
		w.Print(redact.SafeString("file"))
	case KindDir:
		w.Print(redact.SafeString("dir"))
	default:
		w.Printf("kind(%d)", redact.Safe(uint8(k)))
	}
}

// MaxNameLength is the maximum length in bytes of an entry name.
const MaxNameLength = 255

// Identity is the name and kind of an entry. Two identities are equal if
// their kinds are equal and their names are equal ignoring case, so a file
// and a directory may share a name.
type Identity struct {
	Name string
	Kind Kind
}

// Equal returns true if the identities denote the same sibling slot.
func (id Identity) Equal(o Identity) bool {
	return id.Kind == o.Kind && strings.EqualFold(id.Name, o.Name)
}

// key returns the name index key of the identity.
func (id Identity) key() string {
	return nameKey(id.Name, id.Kind)
}

func nameKey(name string, kind Kind) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	if kind == KindDir {
		b.WriteString("d:")
	} else {
		b.WriteString("f:")
	}
	b.WriteString(strings.ToLower(name))
	return b.String()
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.Kind.String() + " " + id.Name
}

// ValidateName returns an error wrapping ErrInvalidName if name cannot name
// an entry.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.Wrap(ErrInvalidName, "empty name")
	case len(name) > MaxNameLength:
		return errors.Wrapf(ErrInvalidName, "name of %d bytes exceeds %d", errors.Safe(len(name)), errors.Safe(MaxNameLength))
	case !utf8.ValidString(name):
		return errors.Wrapf(ErrInvalidName, "%q is not valid UTF-8", name)
	case name == "." || name == "..":
		return errors.Wrapf(ErrInvalidName, "%q is reserved", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.Wrapf(ErrInvalidName, "%q contains a separator or NUL", name)
	}
	return nil
}
