// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/linkedalloc/space"
)

// Allocator is a single manual-memory arena backed by a space.Space. All
// operations except Stats (which reads atomic counters) acquire the
// allocator's mutex; Go does not let us avoid a lock
// here the way a thread-per-core C allocator might, so callers that need
// parallelism should shard across multiple Allocators rather than share one.
type Allocator struct {
	mu sync.Mutex
	sp space.Space

	allocs   atomic.Int64
	deallocs atomic.Int64
	liveSize atomic.Int64
}

// New creates an Allocator whose space is mapped at the smallest size that
// holds the bin table and two minimum chunks (rounded up to a power of two,
// 1 KiB) and grows on demand via mmap/mremap.
func New() *Allocator {
	sp := space.NewMmap()
	return newAllocator(sp)
}

// NewFixed creates an Allocator backed by a pre-allocated, non-growing byte
// slice. Useful for tests and for embedding the arena inside another
// structure's own memory.
func NewFixed(buf []byte) *Allocator {
	sp := space.NewFixed(buf)
	return newAllocator(sp)
}

func newAllocator(sp space.Space) *Allocator {
	a := &Allocator{sp: sp}
	if !sp.Grow(binTableSize + 2*minChunk) {
		panic(fmt.Errorf("linkedalloc: failed to allocate initial space"))
	}
	newOverlay(sp).init()
	return a
}

// Alloc reserves size bytes aligned to align, returning the byte offset of
// the user region within the allocator's space, or 0 if the request could
// not be satisfied (align is invalid, or growth failed). A zero-size request
// always succeeds and returns a sentinel offset that Dealloc accepts as a
// no-op and Realloc treats as an empty allocation.
func (a *Allocator) Alloc(size, align uintptr) uintptr {
	layout, err := NewLayout(size, align)
	if err != nil {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocLocked(layout)
}

func (a *Allocator) allocLocked(layout Layout) uintptr {
	user := newOverlay(a.sp).alloc(a.sp, layout)
	if user == 0 {
		return 0
	}
	if user != zeroSizeSentinel {
		a.allocs.Add(1)
		a.liveSize.Add(int64(layout.Size))
	}
	return user
}

// AllocZeroed behaves like Alloc but additionally zeroes the returned
// region before returning it.
func (a *Allocator) AllocZeroed(size, align uintptr) uintptr {
	layout, err := NewLayout(size, align)
	if err != nil {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	user := a.allocLocked(layout)
	if user == 0 || user == zeroSizeSentinel {
		return user
	}
	data := a.bytesAt(user, size)
	for i := range data {
		data[i] = 0
	}
	return user
}

// Dealloc releases a previously allocated region. offset must be a value
// previously returned by Alloc or Realloc on this same Allocator and not
// already deallocated; passing any other value is a programmer error and
// corrupts the arena. size and align must match the values used to obtain
// offset; the chunk header itself tracks the true span being freed.
func (a *Allocator) Dealloc(offset uintptr, size, align uintptr) {
	if offset == zeroSizeSentinel {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	newOverlay(a.sp).dealloc(offset)
	a.deallocs.Add(1)
	a.liveSize.Add(-int64(size))
}

// Realloc resizes a previously allocated region in place when possible,
// otherwise moves it, copying min(oldSize, newSize) bytes. Returns the new
// offset, or 0 if growth was required and failed. Passing a zero-size
// sentinel offset behaves as a fresh Alloc of newSize.
func (a *Allocator) Realloc(offset uintptr, oldSize, align, newSize uintptr) uintptr {
	if offset == zeroSizeSentinel {
		return a.Alloc(newSize, align)
	}
	if newSize == 0 {
		a.Dealloc(offset, oldSize, align)
		return zeroSizeSentinel
	}

	oldLayout, err := NewLayout(oldSize, align)
	if err != nil {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	newOffset := newOverlay(a.sp).realloc(a.sp, offset, oldLayout, newSize)
	if newOffset == 0 {
		return 0
	}
	a.liveSize.Add(int64(newSize) - int64(oldSize))
	return newOffset
}

// Contains reports whether offset falls within the allocator's current
// space, without validating that it is a live allocation.
func (a *Allocator) Contains(offset uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return offset < a.sp.Len()
}

// Stats returns running counters of allocations, deallocations and the
// approximate number of live user bytes outstanding.
func (a *Allocator) Stats() (allocs, deallocs int64, liveSize int64) {
	return a.allocs.Load(), a.deallocs.Load(), a.liveSize.Load()
}

func (a *Allocator) bytesAt(offset, size uintptr) []byte {
	base := newOverlay(a.sp).base
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// CheckInvariants walks the entire arena and returns an error describing the
// first structural inconsistency found; a space missing its init sentinel
// byte panics instead. It is intended for tests and fuzzing,
// not for use on a hot path.
func (a *Allocator) CheckInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return newOverlay(a.sp).checkInvariants()
}

// Close releases the allocator's backing region if its Space supports it
// (an Mmap-backed Allocator from New). It is a no-op for a NewFixed
// allocator. After Close returns the Allocator must not be used again.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if closer, ok := a.sp.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
