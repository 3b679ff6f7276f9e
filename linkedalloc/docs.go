// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// # Usage
//
// The linkedalloc package implements a general purpose dynamic memory
// allocator over a single contiguous region of bytes, in the style of a
// conventional malloc/free/realloc. Unlike offheap, which hands out strongly
// typed References to fixed-size slots, linkedalloc hands out raw byte
// offsets for regions of any requested size and alignment.
//
//	var a *linkedalloc.Allocator = linkedalloc.New()
//
//	offset := a.Alloc(128, 8)
//	if offset == 0 {
//		// allocation failed
//	}
//
//	offset = a.Realloc(offset, 128, 8, 256)
//
//	a.Dealloc(offset, 256, 8)
//
// An Allocator backed by New() grows its backing region on demand using
// mmap/mremap, up to whatever the host will give it. An Allocator backed by
// NewFixed() is bounded by the caller-supplied buffer and never grows;
// Alloc and Realloc simply fail once that buffer is exhausted.
//
// Internally the space is organised as a chain of variously sized chunks,
// each carrying an 8 byte header encoding its size and two flag bits, and
// free chunks additionally carrying a footer and links into one of 96
// segregated free lists. This is the same boundary-tag, binned free-list
// design used by dlmalloc and its descendants; see the comment on the chunk
// type in chunk.go for the full layout.
//
// # Concurrency Guarantees
//
// An Allocator serialises all operations behind a single mutex. It is safe
// for multiple goroutines to share one Allocator and call Alloc, Dealloc and
// Realloc concurrently; each call completes atomically with respect to the
// others. It is the caller's responsibility to establish a happens-before
// relationship before one goroutine reads or writes a region allocated by
// another, exactly as with conventionally allocated Go memory.
//
// linkedalloc does not protect against use-after-free or double-free.
// Passing an offset to Dealloc or Realloc that was not returned by a prior
// Alloc/Realloc on the same Allocator, or that has already been freed, is a
// programmer error and will corrupt the arena.
package linkedalloc
