// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across blockfs: block ids and
// types, size limits, the Logger interface, and the corruption error marker.
package base
