// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package space

import (
	"unsafe"

	"github.com/fmstephe/flib/fmath"
	"golang.org/x/sys/unix"
)

// Mmap is a Space backed by an anonymous virtual-memory mapping. Grow maps
// the region on first use and re-maps it (via mremap, which may relocate the
// mapping) on every subsequent growth.
//
// The zero value is a valid, empty Mmap.
type Mmap struct {
	base uintptr
	len  uintptr
	data []byte
}

// NewMmap returns an empty Mmap. The first Grow call performs the initial
// mapping.
func NewMmap() *Mmap {
	return &Mmap{}
}

func (m *Mmap) Len() uintptr { return m.len }

func (m *Mmap) Base() uintptr { return m.base }

// Grow rounds minBytes up to the next power of two (matching the growth
// policy of the allocator this Space was designed for) and maps or re-maps
// the region to that size.
func (m *Mmap) Grow(minBytes uintptr) bool {
	if minBytes <= m.len {
		return true
	}

	target := uintptr(fmath.NxtPowerOfTwo(int64(minBytes)))

	if m.base == 0 {
		data, err := unix.Mmap(-1, 0, int(target), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return false
		}
		m.data = data
		m.base = uintptr(unsafe.Pointer(&data[0]))
		m.len = target
		return true
	}

	newData, err := unix.Mremap(m.data, int(target), unix.MREMAP_MAYMOVE)
	if err != nil {
		return false
	}
	m.data = newData
	m.base = uintptr(unsafe.Pointer(&newData[0]))
	m.len = target
	return true
}

// Close unmaps the region. After Close returns, m is an empty Mmap again and
// must not be used by a live Allocator.
func (m *Mmap) Close() error {
	if m.base == 0 {
		return nil
	}
	err := unix.Munmap(m.data)
	m.base, m.len, m.data = 0, 0, nil
	return err
}
