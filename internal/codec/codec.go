// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package codec implements the self-describing binary encoding used for every
// on-disk structure in a blockfs archive.
//
// Primitive values are written as a one-byte tag followed by a fixed-width
// little-endian payload. Strings and byte slices are prefixed by an int32
// length. An object is written as its tag, a uint16 type id, a uint16 count,
// and count tagged values. Readers consume the values of an object in
// last-in-first-out order: the last value written is the first value popped.
// An array is written as its tag, the element tag, a uint16 type id when the
// elements are objects, a uint32 count, and count untagged payloads. The
// untagged payload of an object is its uint16 count followed by its tagged
// values.
//
// Unknown tags, negative lengths, truncated input, mismatched type ids and
// mismatched counts are reported as corruption errors.
package codec

import (
	"fmt"

	"github.com/cockroachdb/blockfs/internal/base"
)

// Tag identifies the type of an encoded value.
type Tag byte

// The set of tags. Zero is never a valid tag so that zeroed storage is
// detected as corruption.
const (
	TagInvalid Tag = iota
	TagBool
	TagUint8
	TagInt32
	TagUint32
	TagInt64
	TagUint64
	TagString
	TagBytes
	TagObject
	TagArray
	numTags
)

var tagNames = [...]string{
	TagInvalid: "invalid",
	TagBool:    "bool",
	TagUint8:   "uint8",
	TagInt32:   "int32",
	TagUint32:  "uint32",
	TagInt64:   "int64",
	TagUint64:  "uint64",
	TagString:  "string",
	TagBytes:   "bytes",
	TagObject:  "object",
	TagArray:   "array",
}

func (t Tag) String() string {
	if t < numTags {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

func (t Tag) valid() bool {
	return t > TagInvalid && t < numTags
}

// fixedWidth returns the payload width of fixed-size primitive tags, or -1.
func (t Tag) fixedWidth() int {
	switch t {
	case TagBool, TagUint8:
		return 1
	case TagInt32, TagUint32:
		return 4
	case TagInt64, TagUint64:
		return 8
	}
	return -1
}

// TypeID identifies the record type of an object.
type TypeID uint16

// Encoder is implemented by records that know how to write themselves.
type Encoder interface {
	Encode(w *Writer)
}

// Decoder is implemented by records that know how to read themselves.
type Decoder interface {
	Decode(r *Reader) error
}

// Encoded sizes of fixed-width values, including the tag byte.
const (
	BoolSize   = 2
	Uint8Size  = 2
	Int32Size  = 5
	Uint32Size = 5
	Int64Size  = 9
	Uint64Size = 9
	// ObjectHeaderSize is the size of an object's tag, type id and count.
	ObjectHeaderSize = 5
)

// StringSize returns the encoded size of a string value.
func StringSize(s string) int {
	return 1 + 4 + len(s)
}

var errTruncated = base.CorruptionErrorf("blockfs/codec: truncated input")
