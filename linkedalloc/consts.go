// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

const (
	// metaSize is the width of a chunk's header word.
	metaSize = 8

	// minChunk is the smallest legal chunk size, header included.
	minChunk = 32

	// minUser is the smallest user size a bin is ever indexed by; smaller
	// requests are promoted to this floor before indexing.
	minUser = 24

	// exactBins is the number of bins serving one-per-8-byte-step exact
	// size classes.
	exactBins = 32

	// sortedBins is the number of bins serving logarithmic size ranges.
	sortedBins = 64

	// numBins is the total width of the bin table.
	numBins = exactBins + sortedBins

	// binTableSize is the number of bytes the bin table occupies at the
	// start of the space.
	binTableSize = 8 * numBins

	// sentinelByte marks byte 0 of an initialised space.
	sentinelByte = 0x82

	flagInUse      = uint64(1) << 0
	flagLowerInUse = uint64(1) << 1
	sizeMask       = ^uint64(0x7)
)

// zeroSizeSentinel is returned by Alloc for a zero-size request and accepted
// by Dealloc/Realloc as a no-op allocation. It is chosen so it can never
// collide with a real offset into the space (offsets are always strictly
// less than the space length).
const zeroSizeSentinel = ^uintptr(0)
