// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/blockfs/internal/base"
	"github.com/cockroachdb/errors"
)

// ConsistencyReport lists the problems found by CheckConsistency.
type ConsistencyReport struct {
	// Overlaps are blocks claimed by more than one chain, and blocks whose
	// extents intersect.
	Overlaps []string
	// Dangling are chains with a block of the wrong type.
	Dangling []string
	// Orphans are allocated blocks no chain reaches.
	Orphans []base.BlockID
}

// OK returns true if no problem was found.
func (r *ConsistencyReport) OK() bool {
	return len(r.Overlaps) == 0 && len(r.Dangling) == 0 && len(r.Orphans) == 0
}

// String implements fmt.Stringer.
func (r *ConsistencyReport) String() string {
	if r.OK() {
		return "ok"
	}
	var b strings.Builder
	for _, s := range r.Overlaps {
		fmt.Fprintf(&b, "overlap: %s\n", s)
	}
	for _, s := range r.Dangling {
		fmt.Fprintf(&b, "dangling: %s\n", s)
	}
	for _, id := range r.Orphans {
		fmt.Fprintf(&b, "orphan: block %s\n", id)
	}
	return b.String()
}

// CheckConsistency loads the whole tree and verifies that every allocated
// block belongs to exactly one chain: the block-table regions, or the chain
// of exactly one entry. It also verifies that no two extents intersect. The
// archive is flushed first so that no staged
// chain is in flight. The returned error is a corruption error if the report
// is not OK.
func (a *Archive) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	if err := a.Flush(ctx); err != nil {
		return nil, err
	}
	owner := make(map[base.BlockID]string)
	r := &ConsistencyReport{}
	claim := func(what string, start base.BlockID, typ base.BlockType) error {
		chain, err := a.alloc.chain(start)
		if err != nil {
			r.Dangling = append(r.Dangling, fmt.Sprintf("%s: %v", what, err))
			return nil
		}
		for _, b := range chain {
			if prev, ok := owner[b.ID]; ok {
				r.Overlaps = append(r.Overlaps, fmt.Sprintf("block %s in %s and %s", b.ID, prev, what))
				continue
			}
			owner[b.ID] = what
			if b.Type != typ {
				r.Dangling = append(r.Dangling, fmt.Sprintf("%s: %s block %s", what, b.Type, b.ID))
			}
		}
		return nil
	}

	if err := claim("block table", base.FirstRegionBlock, base.BlockTypeBlockTable); err != nil {
		return nil, err
	}
	var walk func(d Dir, path string) error
	walk = func(d Dir, path string) error {
		n, err := d.node()
		if err != nil {
			return err
		}
		if err := claim(path, n.start, base.BlockTypeFileTable); err != nil {
			return err
		}
		children, err := d.Children()
		if err != nil {
			return err
		}
		for _, c := range children {
			cn, err := c.node()
			if err != nil {
				return err
			}
			p := strings.TrimSuffix(path, "/") + "/" + cn.Name()
			if cd, ok := c.AsDir(); ok {
				if err := walk(cd, p); err != nil {
					return err
				}
			} else if err := claim(p, cn.start, base.BlockTypeBinary); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(a.Root(), "/"); err != nil {
		return nil, err
	}

	for _, o := range a.alloc.overlaps() {
		r.Overlaps = append(r.Overlaps, fmt.Sprintf("block %s [%d,%d) intersects block %s [%d,%d)",
			o.A.ID, o.A.Start, o.A.End(), o.B.ID, o.B.Start, o.B.End()))
	}
	for _, b := range a.alloc.snapshot() {
		if _, ok := owner[b.ID]; !ok && !b.Empty() {
			r.Orphans = append(r.Orphans, b.ID)
		}
	}
	if !r.OK() {
		return r, base.CorruptionErrorf("blockfs: archive %q is inconsistent:\n%s", errors.Safe(a.name), r)
	}
	return r, nil
}
