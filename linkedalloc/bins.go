// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"math/bits"
	"unsafe"
)

// binIndex is the 96-slot segregated free-list index stored at the start of
// a space. Slots 0..31 are exact bins (one per 8-byte step, starting at
// minUser); slots 32..95 are sorted bins covering logarithmic size ranges.
// Each slot holds the offset of the head of a doubly-linked, non-decreasing
// size-ordered free list, or 0 if the bin is empty.
type binIndex struct {
	base unsafe.Pointer
}

func (b binIndex) slotPtr(i int) *uintptr {
	return (*uintptr)(unsafe.Add(b.base, uintptr(8*i)))
}

func (b binIndex) slot(i int) uintptr { return *b.slotPtr(i) }

func (b binIndex) setSlot(i int, offset uintptr) { *b.slotPtr(i) = offset }

// binIndexOfSize maps a user size to its bin index. Sizes below minUser are
// promoted to minUser first. bin_index_of_size is monotone: s <= s' implies
// binIndexOfSize(s) <= binIndexOfSize(s').
func binIndexOfSize(s uint64) int {
	if s < minUser {
		s = minUser
	}
	if s>>8 == 0 {
		return int(s / 8)
	}
	if s>>8 >= 1<<16 {
		return numBins - 1
	}
	m := uint(bits.Len64(s>>8)) - 1
	return exactBins + int(4*m) + int((s>>(m+6))&3)
}

func (b binIndex) chunkAt(offset uintptr, limit uintptr) chunk {
	return newChunk(b.base, offset, limit)
}

// add inserts c into its size-class bin's free list, keeping the list sorted
// by non-decreasing size (ties broken oldest-first: new entries of an
// existing size go after all existing entries of that size).
func (b binIndex) add(c chunk) {
	i := binIndexOfSize(c.size() - metaSize)

	head := b.slot(i)
	if head == 0 {
		b.setSlot(i, c.offset)
		c.setPrev(0)
		c.setNext(0)
		return
	}

	cur := b.chunkAt(head, c.limit)
	for {
		if cur.size() > c.size() {
			b.insertBefore(cur, c)
			return
		}
		next := cur.next()
		if next == 0 {
			b.insertAfter(cur, c)
			return
		}
		cur = b.chunkAt(next, c.limit)
	}
}

func (b binIndex) insertBefore(at, c chunk) {
	prevOffset := at.prev()
	c.setPrev(prevOffset)
	c.setNext(at.offset)
	at.setPrev(c.offset)
	if prevOffset != 0 {
		b.chunkAt(prevOffset, c.limit).setNext(c.offset)
	} else {
		i := binIndexOfSize(at.size() - metaSize)
		if b.slot(i) == at.offset {
			b.setSlot(i, c.offset)
		}
	}
}

func (b binIndex) insertAfter(at, c chunk) {
	c.setPrev(at.offset)
	c.setNext(0)
	at.setNext(c.offset)
}

// remove unlinks c from whichever bin's free list it belongs to.
func (b binIndex) remove(c chunk) {
	i := binIndexOfSize(c.size() - metaSize)

	prevOffset := c.prev()
	nextOffset := c.next()

	if b.slot(i) == c.offset {
		b.setSlot(i, nextOffset)
	}

	if prevOffset != 0 {
		b.chunkAt(prevOffset, c.limit).setNext(nextOffset)
	}
	if nextOffset != 0 {
		b.chunkAt(nextOffset, c.limit).setPrev(prevOffset)
	}
}

