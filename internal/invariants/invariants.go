// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package invariants reports whether expensive assertions are compiled in:
// they are in builds with the "invariants" or "race" build tags.
package invariants
