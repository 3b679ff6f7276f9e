// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import "fmt"

// checkInvariants walks the full chunk chain and every bin's free list,
// verifying the structural invariants of section 3. It is expensive (linear
// in the number of live chunks) and is only ever called from tests, never
// from the allocator's normal operation path.
func (ov overlay) checkInvariants() error {
	ov.checkSentinel()

	cur := newChunk(ov.base, ov.startChunkOffset(), ov.limit)
	lowerWasFree := false
	seenFree := map[uintptr]bool{}

	for {
		if cur.size() < minChunk {
			return fmt.Errorf("linkedalloc: chunk at %d has size %d below minimum", cur.offset, cur.size())
		}
		if cur.offset+uintptr(cur.size()) > ov.limit {
			return fmt.Errorf("linkedalloc: chunk at %d overruns space of length %d", cur.offset, ov.limit)
		}
		if cur.lowerInUse() == lowerWasFree {
			return fmt.Errorf("linkedalloc: chunk at %d has lowerInUse=%v but lower neighbor free=%v", cur.offset, cur.lowerInUse(), lowerWasFree)
		}
		if !cur.inUse() {
			if lowerWasFree && !cur.isTop() {
				return fmt.Errorf("linkedalloc: two adjacent free chunks at or before offset %d", cur.offset)
			}
			if !cur.isTop() {
				footer := cur.footer()
				if footer != cur.size() {
					return fmt.Errorf("linkedalloc: chunk at %d has mismatched footer %d, size %d", cur.offset, footer, cur.size())
				}
				seenFree[cur.offset] = true
			}
			// The top chunk is always free and is deliberately never
			// coalesced into or linked into any bin (overlay.go), so it
			// is exempt from both the adjacency check above and the
			// seenFree/bin cross-check below.
		}

		if cur.isTop() {
			break
		}
		lowerWasFree = !cur.inUse()
		cur = cur.higher()
	}

	// Bins below binIndexOfSize(0) never hold a chunk (sizes are promoted to
	// minUser first), and slot 0 shares its first byte with the init
	// sentinel, so the scan starts at the first bin that can be used.
	for i := binIndexOfSize(0); i < numBins; i++ {
		head := ov.bins.slot(i)
		if head == 0 {
			continue
		}
		prevOffset := uintptr(0)
		c := ov.bins.chunkAt(head, ov.limit)
		for {
			if c.inUse() {
				return fmt.Errorf("linkedalloc: bin %d contains in-use chunk at %d", i, c.offset)
			}
			if got := binIndexOfSize(c.size() - metaSize); got != i {
				return fmt.Errorf("linkedalloc: chunk at %d of size %d belongs in bin %d, found in bin %d", c.offset, c.size(), got, i)
			}
			if c.prev() != prevOffset {
				return fmt.Errorf("linkedalloc: chunk at %d has prev %d, expected %d", c.offset, c.prev(), prevOffset)
			}
			if !seenFree[c.offset] {
				return fmt.Errorf("linkedalloc: bin %d lists chunk at %d not found in the chunk chain as free", i, c.offset)
			}
			delete(seenFree, c.offset)
			next := c.next()
			if next == 0 {
				break
			}
			nc := ov.bins.chunkAt(next, ov.limit)
			if nc.size() < c.size() {
				return fmt.Errorf("linkedalloc: bin %d free list not sorted: %d (size %d) before %d (size %d)", i, c.offset, c.size(), next, nc.size())
			}
			prevOffset = c.offset
			c = nc
		}
	}

	if len(seenFree) != 0 {
		for off := range seenFree {
			return fmt.Errorf("linkedalloc: free chunk at %d is not present in any bin", off)
		}
	}

	return nil
}
