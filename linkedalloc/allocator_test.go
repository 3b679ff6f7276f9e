// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, size uintptr) *Allocator {
	t.Helper()
	buf := make([]byte, size)
	return NewFixed(buf)
}

func TestAllocator_AllocReturnsAlignedNonOverlappingRegions(t *testing.T) {
	a := newTestAllocator(t, 1<<16)

	o1 := a.Alloc(40, 8)
	require.NotEqual(t, uintptr(0), o1)
	o2 := a.Alloc(40, 8)
	require.NotEqual(t, uintptr(0), o2)

	assert.NotEqual(t, o1, o2)
	assert.Equal(t, uintptr(0), o1%8)
	assert.Equal(t, uintptr(0), o2%8)
	assert.True(t, o2 >= o1+40 || o1 >= o2+40, "regions [%d,+40) and [%d,+40) overlap", o1, o2)
	assert.NoError(t, a.CheckInvariants())
}

func TestAllocator_AllocZeroSizeReturnsSentinel(t *testing.T) {
	a := newTestAllocator(t, 1<<12)
	o := a.Alloc(0, 8)
	assert.Equal(t, zeroSizeSentinel, o)
	a.Dealloc(o, 0, 8) // must be a harmless no-op
}

func TestAllocator_AllocRespectsAlignment(t *testing.T) {
	a := newTestAllocator(t, 1<<16)
	o := a.Alloc(16, 64)
	require.NotEqual(t, uintptr(0), o)
	assert.Equal(t, uintptr(0), o%64)
}

func TestAllocator_DeallocThenAllocReusesSpace(t *testing.T) {
	a := newTestAllocator(t, 1<<12)

	o1 := a.Alloc(64, 8)
	require.NotEqual(t, uintptr(0), o1)
	a.Dealloc(o1, 64, 8)

	o2 := a.Alloc(64, 8)
	require.NotEqual(t, uintptr(0), o2)
	assert.Equal(t, o1, o2)
	assert.NoError(t, a.CheckInvariants())
}

func TestAllocator_AllocFailsWhenSpaceExhausted(t *testing.T) {
	a := newTestAllocator(t, binTableSize+64)
	o1 := a.Alloc(16, 8)
	require.NotEqual(t, uintptr(0), o1)

	o2 := a.Alloc(1<<20, 8)
	assert.Equal(t, uintptr(0), o2)
}

func TestAllocator_ReallocGrowInPlaceWhenRoomAvailable(t *testing.T) {
	a := newTestAllocator(t, 1<<12)

	o := a.Alloc(16, 8)
	require.NotEqual(t, uintptr(0), o)

	grown := a.Realloc(o, 16, 8, 24)
	require.NotEqual(t, uintptr(0), grown)
	assert.Equal(t, o, grown, "grow in place should keep the same offset when the existing chunk already has room")
	assert.NoError(t, a.CheckInvariants())
}

func TestAllocator_ReallocPreservesContents(t *testing.T) {
	a := newTestAllocator(t, 1<<16)

	o := a.Alloc(16, 8)
	require.NotEqual(t, uintptr(0), o)

	data := a.bytesAt(o, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}

	// Force a move by allocating a filler first, then growing past what
	// can fit in place.
	filler := a.Alloc(8, 8)
	require.NotEqual(t, uintptr(0), filler)

	moved := a.Realloc(o, 16, 8, 4096)
	require.NotEqual(t, uintptr(0), moved)

	got := a.bytesAt(moved, 16)
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(i+1), got[i])
	}
	assert.NoError(t, a.CheckInvariants())
}

func TestAllocator_ReallocToZeroFreesAndReturnsSentinel(t *testing.T) {
	a := newTestAllocator(t, 1<<12)
	o := a.Alloc(32, 8)
	require.NotEqual(t, uintptr(0), o)

	got := a.Realloc(o, 32, 8, 0)
	assert.Equal(t, zeroSizeSentinel, got)
}

func TestAllocator_ReallocFromZeroSentinelAllocates(t *testing.T) {
	a := newTestAllocator(t, 1<<12)
	got := a.Realloc(zeroSizeSentinel, 0, 8, 32)
	require.NotEqual(t, uintptr(0), got)
}

func TestAllocator_StatsTrackLiveBytes(t *testing.T) {
	a := newTestAllocator(t, 1<<12)

	o1 := a.Alloc(64, 8)
	require.NotEqual(t, uintptr(0), o1)
	allocs, deallocs, live := a.Stats()
	assert.Equal(t, int64(1), allocs)
	assert.Equal(t, int64(0), deallocs)
	assert.Equal(t, int64(64), live)

	a.Dealloc(o1, 64, 8)
	_, deallocs, live = a.Stats()
	assert.Equal(t, int64(1), deallocs)
	assert.Equal(t, int64(0), live)
}

func TestAllocator_GrowingSpaceExtendsCapacity(t *testing.T) {
	a := New()
	defer a.Close()
	var offsets []uintptr
	for i := 0; i < 1000; i++ {
		o := a.Alloc(256, 8)
		require.NotEqual(t, uintptr(0), o, "alloc %d should succeed by growing the space", i)
		offsets = append(offsets, o)
	}
	assert.NoError(t, a.CheckInvariants())
	for _, o := range offsets {
		a.Dealloc(o, 256, 8)
	}
	assert.NoError(t, a.CheckInvariants())
}
