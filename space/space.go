// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package space provides the byte-region providers consumed by
// github.com/fmstephe/linkedalloc. A Space is nothing more than a resizable
// block of bytes: the allocator core never allocates memory of its own, it
// only ever carves up whatever region a Space hands it.
package space

import (
	"fmt"
	"unsafe"
)

// Space is the contract the linkedalloc core requires of its backing byte
// region. Implementations are not required to be safe for concurrent use;
// the allocator serialises all access with its own mutex.
type Space interface {
	// Len returns the current size of the region in bytes.
	Len() uintptr

	// Base returns the address of the first byte of the region. The
	// returned address is only valid until the next successful call to
	// Grow, which may relocate the region.
	Base() uintptr

	// Grow attempts to extend the region to at least minBytes. Previously
	// stored bytes remain valid at the same offsets from the (possibly
	// new) Base. Grow reports whether the region now satisfies minBytes.
	Grow(minBytes uintptr) bool
}

// Fixed is a Space backed by a caller-owned buffer. Its Grow always fails
// unless the region already satisfies the request, matching a scratch heap
// that can never be extended.
type Fixed struct {
	base uintptr
	len  uintptr
	// buf pins the backing slice so the garbage collector never reclaims
	// it while base still points inside it.
	buf []byte
}

// NewFixed wraps buf as a fixed-size Space. buf must not be empty.
func NewFixed(buf []byte) *Fixed {
	if len(buf) == 0 {
		panic(fmt.Errorf("linkedalloc/space: NewFixed requires a non-empty buffer"))
	}
	return &Fixed{
		base: uintptr(unsafe.Pointer(&buf[0])),
		len:  uintptr(len(buf)),
		buf:  buf,
	}
}

func (f *Fixed) Len() uintptr { return f.len }

func (f *Fixed) Base() uintptr { return f.base }

func (f *Fixed) Grow(minBytes uintptr) bool {
	return minBytes <= f.len
}
