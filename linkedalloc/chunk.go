// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"fmt"
	"unsafe"
)

// chunk is a thin, copyable value view over a chunk header living inside a
// space. It owns nothing; the bytes it reads and writes belong to whichever
// Space the enclosing overlay is bound to. Two chunks are the same chunk iff
// their offsets are equal (they are always constructed against the same
// base).
//
//	offset 0      : 8 bytes - meta word = size | flags
//	offset 8      : user data, or free-list prev pointer
//	offset 16     : free-list next pointer (free chunks only)
//	offset size-8 : footer, a copy of size (free chunks only)
type chunk struct {
	base   unsafe.Pointer
	offset uintptr
	limit  uintptr // space length; also doubles as the top-chunk marker
}

func newChunk(base unsafe.Pointer, offset, limit uintptr) chunk {
	c := chunk{base: base, offset: offset, limit: limit}
	if offset+metaSize > limit {
		panic(fmt.Errorf("linkedalloc: chunk at offset %d exceeds space length %d", offset, limit))
	}
	return c
}

func (c chunk) ptr() unsafe.Pointer { return unsafe.Add(c.base, c.offset) }

func (c chunk) metaPtr() *uint64 { return (*uint64)(c.ptr()) }

func (c chunk) meta() uint64 { return *c.metaPtr() }

func setFlag(word *uint64, mask uint64, set bool) {
	if set {
		*word |= mask
	} else {
		*word &^= mask
	}
}

func (c chunk) inUse() bool { return c.meta()&flagInUse != 0 }

// setInUseBit sets only this chunk's own flag, with no side effects on any
// neighbor. Used where a fresh chunk header is laid out and the neighbors'
// flags are written directly (init, split's remainder, growTopChunk).
func (c chunk) setInUseBit(v bool) { setFlag(c.metaPtr(), flagInUse, v) }

func (c chunk) lowerInUse() bool { return c.meta()&flagLowerInUse != 0 }

func (c chunk) setLowerInUseBit(v bool) { setFlag(c.metaPtr(), flagLowerInUse, v) }

// setInUse sets this chunk's IN_USE bit and propagates it to the higher
// neighbor's LOWER_IN_USE bit, except when this chunk is the top chunk (it
// has no higher neighbor).
func (c chunk) setInUse(v bool) {
	c.setInUseBit(v)
	if !c.isTop() {
		c.higher().setLowerInUseBit(v)
	}
}

func (c chunk) size() uint64 { return c.meta() & sizeMask }

// setSize writes the size into the meta word, preserving the flag bits, and
// writes the matching footer tag. The footer write is harmless for a chunk
// that is in-use or about to become in-use; only free chunks ever have their
// footer read.
func (c chunk) setSize(size uint64) {
	if size%8 != 0 {
		panic(fmt.Errorf("linkedalloc: chunk size %d is not a multiple of 8", size))
	}
	if size < minChunk {
		panic(fmt.Errorf("linkedalloc: chunk size %d is below the minimum %d", size, uint64(minChunk)))
	}
	m := c.meta()
	*c.metaPtr() = (m & ^sizeMask) | size
	*(*uint64)(unsafe.Add(c.ptr(), uintptr(size)-8)) = size
}

func (c chunk) footer() uint64 {
	return *(*uint64)(unsafe.Add(c.ptr(), uintptr(c.size())-8))
}

func (c chunk) prev() uintptr { return *(*uintptr)(unsafe.Add(c.ptr(), 8)) }

func (c chunk) setPrev(p uintptr) { *(*uintptr)(unsafe.Add(c.ptr(), 8)) = p }

func (c chunk) next() uintptr { return *(*uintptr)(unsafe.Add(c.ptr(), 16)) }

func (c chunk) setNext(n uintptr) { *(*uintptr)(unsafe.Add(c.ptr(), 16)) = n }

// isTop reports whether c is the space's top chunk: the chunk reaches
// exactly to the end of the managed region.
func (c chunk) isTop() bool {
	return c.offset+uintptr(c.size()) == c.limit
}

// userDataFor returns the lowest address >= data+8 satisfying align and
// leaving room for size bytes before the end of the chunk, or false if no
// such address exists within this chunk.
func (c chunk) userDataFor(layout Layout) (uintptr, bool) {
	addr := alignUp(c.offset+metaSize, layout.Align)
	if addr+layout.Size > c.offset+uintptr(c.size()) {
		return 0, false
	}
	return addr, true
}

// fromUserData recovers the owning chunk from a previously returned user
// pointer, decoding the padding word written at userOffset-8 when alignment
// forced the user pointer away from data+8.
func fromUserData(base unsafe.Pointer, limit uintptr, userOffset uintptr) chunk {
	metaWordOffset := userOffset - metaSize
	word := *(*uint64)(unsafe.Add(base, metaWordOffset))
	if word&flagInUse != 0 {
		return newChunk(base, metaWordOffset, limit)
	}
	// word is a padding offset: the positive byte distance from the
	// chunk's base to userOffset-8. It is always a multiple of 8, so its
	// IN_USE bit (bit 0) can never be mistaken for a live meta word.
	padding := uintptr(word)
	return newChunk(base, metaWordOffset-padding, limit)
}

// split shrinks c to the smallest multiple-of-8, >= minChunk size that still
// covers layout starting at c's existing user-data placement, and returns
// the freed remainder as a new chunk, if the leftover is at least minChunk
// bytes. Otherwise c is left unchanged and ok is false. split never touches
// c's IN_USE bit or any bin; the remainder is written with LOWER_IN_USE set,
// anticipating that the caller is about to mark c in-use.
func (c chunk) split(layout Layout) (remainder chunk, ok bool) {
	user, fits := c.userDataFor(layout)
	if !fits {
		panic(fmt.Errorf("linkedalloc: split called with a layout that does not fit"))
	}

	newSize := roundUp8(user + layout.Size - c.offset)
	if newSize < minChunk {
		newSize = minChunk
	}

	oldSize := c.size()
	remainderSize := oldSize - newSize
	if remainderSize < minChunk {
		return chunk{}, false
	}

	c.setSize(newSize)

	remainder = newChunk(c.base, c.offset+newSize, c.limit)
	remainder.setInUseBit(false)
	remainder.setLowerInUseBit(true) // c is about to become in-use
	remainder.setSize(remainderSize)

	return remainder, true
}

func roundUp8(n uintptr) uintptr {
	return (n + 7) &^ 7
}

// lowerFree returns the immediate lower neighbor if it is free, using the
// boundary tag (footer) to find it in O(1).
func (c chunk) lowerFree() (chunk, bool) {
	if c.lowerInUse() {
		return chunk{}, false
	}
	lowerSize := *(*uint64)(unsafe.Add(c.ptr(), -metaSize))
	return newChunk(c.base, c.offset-uintptr(lowerSize), c.limit), true
}

// higher returns the immediate higher neighbor. c must not be the top chunk.
func (c chunk) higher() chunk {
	return newChunk(c.base, c.offset+uintptr(c.size()), c.limit)
}

// higherFree returns the immediate higher neighbor if one exists and is
// free. Note the top chunk is always free, so higherFree can return it; a
// caller that must never coalesce into the top chunk (dealloc, realloc)
// checks isTop itself before doing so.
func (c chunk) higherFree() (chunk, bool) {
	if c.isTop() {
		return chunk{}, false
	}
	h := c.higher()
	if h.inUse() {
		return chunk{}, false
	}
	return h, true
}

// coalesce absorbs other, which must be c's immediate higher neighbor, into
// c. It only extends c's size; it never touches bins or any neighbor's
// flags.
func (c chunk) coalesce(other chunk) chunk {
	c.setSize(c.size() + other.size())
	return c
}
