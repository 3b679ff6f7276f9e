// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/linkedalloc/space"
)

// overlay is a stateless facade bound to a space's current base pointer and
// length. A fresh overlay is constructed for every public operation so that
// a Grow-triggered relocation never leaves a stale base pointer in play.
type overlay struct {
	base  unsafe.Pointer
	limit uintptr
	bins  binIndex
}

func newOverlay(sp space.Space) overlay {
	base := unsafe.Pointer(sp.Base())
	return overlay{
		base:  base,
		limit: sp.Len(),
		bins:  binIndex{base: base},
	}
}

func (ov overlay) startChunkOffset() uintptr { return binTableSize }

func (ov overlay) writeSentinel() {
	*(*byte)(ov.base) = sentinelByte
}

func (ov overlay) checkSentinel() {
	if got := *(*byte)(ov.base); got != sentinelByte {
		panic(fmt.Errorf("linkedalloc: space missing init sentinel, got %#x", got))
	}
}

// init lays out a freshly bound space as one large free chunk followed by
// the top chunk, clears the bin table, and writes the sentinel byte.
func (ov overlay) init() {
	if ov.limit%8 != 0 || ov.limit < binTableSize+2*minChunk {
		panic(fmt.Errorf("linkedalloc: space length %d is invalid (must be a multiple of 8, at least %d)", ov.limit, uintptr(binTableSize+2*minChunk)))
	}

	for i := 0; i < numBins; i++ {
		ov.bins.setSlot(i, 0)
	}

	bigOffset := ov.startChunkOffset()
	bigSize := uint64(ov.limit) - uint64(bigOffset) - uint64(minChunk)
	big := newChunk(ov.base, bigOffset, ov.limit)
	big.setInUseBit(false)
	big.setLowerInUseBit(true) // first chunk: no predecessor, conventionally in-use
	big.setSize(bigSize)

	topOffset := ov.limit - minChunk
	top := newChunk(ov.base, topOffset, ov.limit)
	top.setInUseBit(false)
	top.setLowerInUseBit(false) // big is free
	top.setSize(minChunk)
	// The top chunk is a sentinel, never linked into any bin's free list:
	// findFit's bin scan simply falls through to "not found" when no real
	// free chunk fits, without ever needing to observe the top chunk.

	ov.bins.add(big)

	ov.writeSentinel()
}

func (ov overlay) writePadding(c chunk, user uintptr) {
	padding := user - c.offset - metaSize
	if padding != 0 {
		*(*uint64)(unsafe.Add(ov.base, user-metaSize)) = uint64(padding)
	}
}

// findFit scans bins from the smallest size class that could hold layout
// upward, and within each non-empty bin walks its own (size-sorted) free
// list looking for a chunk that fits once alignment overhead is accounted
// for. The top chunk is never linked into any bin, so a scan that reaches
// the end of the table without a fit simply reports not-found.
func (ov overlay) findFit(layout Layout) (c chunk, user uintptr, found bool) {
	for i := binIndexOfSize(uint64(layout.Size)); i < numBins; i++ {
		head := ov.bins.slot(i)
		if head == 0 {
			continue
		}
		cur := ov.bins.chunkAt(head, ov.limit)
		for {
			if u, ok := cur.userDataFor(layout); ok {
				return cur, u, true
			}
			next := cur.next()
			if next == 0 {
				break
			}
			cur = ov.bins.chunkAt(next, ov.limit)
		}
	}
	return chunk{}, 0, false
}

// alloc implements the core alloc algorithm of section 4.3, growing the
// bound space as many times as necessary. sp must be the same space this
// overlay was constructed from; alloc rebinds itself to sp after every grow.
func (ov overlay) alloc(sp space.Space, layout Layout) uintptr {
	if layout.Size == 0 {
		return zeroSizeSentinel
	}

	for {
		if c, user, ok := ov.findFit(layout); ok {
			ov.bins.remove(c)
			remainder, hasRemainder := c.split(layout)
			c.setInUse(true)
			if hasRemainder {
				ov.bins.add(remainder)
			}
			ov.writePadding(c, user)
			return user
		}

		oldLimit := ov.limit
		required := ov.limit + layout.Size + layout.Align + metaSize
		if !sp.Grow(required) {
			return 0
		}
		ov = newOverlay(sp)
		ov.growTopChunk(oldLimit)
	}
}

// growTopChunk extends a just-grown space: the old top chunk's slot becomes
// a plain free chunk (coalescing with its free lower neighbor if any), and a
// fresh minimum-sized top chunk takes over the new end of the region. The
// top chunk itself is never linked into a bin, so replacing it is just a
// matter of writing its new header at the new end of the space.
func (ov overlay) growTopChunk(oldLimit uintptr) {
	oldTopOffset := oldLimit - minChunk
	oldTop := newChunk(ov.base, oldTopOffset, ov.limit)

	newTopOffset := ov.limit - minChunk
	newTop := newChunk(ov.base, newTopOffset, ov.limit)
	newTop.setInUseBit(false)
	newTop.setLowerInUseBit(false) // the extended region below is free
	newTop.setSize(minChunk)

	extra := newChunk(ov.base, oldTopOffset, ov.limit)
	extra.setInUseBit(false)
	extra.setLowerInUseBit(oldTop.lowerInUse())
	extra.setSize(uint64(newTopOffset - oldTopOffset))

	if lower, ok := extra.lowerFree(); ok {
		ov.bins.remove(lower)
		extra = lower.coalesce(extra)
	}

	ov.bins.add(extra)
}

// dealloc implements the core dealloc algorithm of section 4.3.
func (ov overlay) dealloc(userOffset uintptr) {
	c := fromUserData(ov.base, ov.limit, userOffset)

	if lower, ok := c.lowerFree(); ok {
		ov.bins.remove(lower)
		c = lower.coalesce(c)
	}
	c.setInUse(false)

	if higher, ok := c.higherFree(); ok && !higher.isTop() {
		ov.bins.remove(higher)
		c = c.coalesce(higher)
	}

	ov.bins.add(c)
}

// realloc implements the core realloc algorithm of section 4.3.
func (ov overlay) realloc(sp space.Space, userOffset uintptr, oldLayout Layout, newSize uintptr) uintptr {
	newLayout := Layout{Size: newSize, Align: oldLayout.Align}
	c := fromUserData(ov.base, ov.limit, userOffset)

	if _, ok := c.userDataFor(newLayout); ok {
		return userOffset
	}

	if higher, ok := c.higherFree(); ok && !higher.isTop() {
		if c.offset+uintptr(c.size()+higher.size()) >= alignUp(c.offset+metaSize, newLayout.Align)+newLayout.Size {
			ov.bins.remove(higher)
			c = c.coalesce(higher)
			remainder, hasRemainder := c.split(newLayout)
			c.setInUse(true) // re-propagate LOWER_IN_USE to c's (possibly new) higher neighbor
			if hasRemainder {
				ov.bins.add(remainder)
			}
			user, _ := c.userDataFor(newLayout)
			ov.writePadding(c, user)
			return user
		}
	}

	newUserOffset := ov.alloc(sp, newLayout)
	if newUserOffset == 0 {
		return 0
	}
	copySize := oldLayout.Size
	if newSize < copySize {
		copySize = newSize
	}
	if copySize > 0 {
		// ov's base may be stale if alloc grew the space; rebind before
		// touching memory.
		fresh := newOverlay(sp)
		src := unsafe.Slice((*byte)(unsafe.Add(fresh.base, userOffset)), copySize)
		dst := unsafe.Slice((*byte)(unsafe.Add(fresh.base, newUserOffset)), copySize)
		copy(dst, src)
	}
	ov2 := newOverlay(sp)
	ov2.dealloc(userOffset)
	return newUserOffset
}
