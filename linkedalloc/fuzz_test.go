// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package linkedalloc

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/fmstephe/linkedalloc/testpkg/fuzzutil"
)

// The single fuzzer test for linkedalloc
func FuzzAllocator(f *testing.F) {
	testCases := fuzzutil.MakeRandomTestCases()
	for _, tc := range testCases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, bytes []byte) {
		tr := NewTestRun(bytes)
		tr.Run()
	})
}

func NewTestRun(bytes []byte) *fuzzutil.TestRun {
	allocations := NewAllocations()

	stepMaker := func(byteConsumer *fuzzutil.ByteConsumer) fuzzutil.Step {
		chooser := byteConsumer.Byte()
		switch chooser % 3 {
		case 0:
			return NewFuzzAllocStep(allocations, byteConsumer)
		case 1:
			return NewFuzzFreeStep(allocations, byteConsumer)
		case 2:
			return NewFuzzReallocStep(allocations, byteConsumer)
		}
		panic("Unreachable")
	}

	cleanup := func() {
		allocations.Cleanup()
	}

	return fuzzutil.NewTestRun(bytes, stepMaker, cleanup)
}

// sizeCap bounds how large a single fuzz-driven allocation is allowed to
// grow, so a handful of multi-megabyte requests don't dominate the run.
const sizeCap = 1 << 14

type liveAllocation struct {
	offset uintptr
	size   uintptr
	align  uintptr
	value  byte
}

// Allocations tracks every live (offset, size, align, value) tuple this fuzz
// run has produced against a single Allocator, so each step can check that
// the allocator's bytes still match what was last written.
type Allocations struct {
	a    *Allocator
	live []liveAllocation
}

func NewAllocations() *Allocations {
	return &Allocations{
		a:    New(),
		live: make([]liveAllocation, 0),
	}
}

func (as *Allocations) Alloc(size uintptr, value byte) {
	if size == 0 {
		size = 1
	}
	size = size % sizeCap

	offset := as.a.Alloc(size, 8)
	if offset == 0 {
		// growth failed (out of memory from the OS); nothing to track
		return
	}

	data := as.a.bytesAt(offset, size)
	for i := range data {
		data[i] = value
	}

	as.live = append(as.live, liveAllocation{offset: offset, size: size, align: 8, value: value})
	as.CheckAll()
}

func (as *Allocations) Free(index uint32) {
	if len(as.live) == 0 {
		return
	}
	i := int(index % uint32(len(as.live)))
	la := as.live[i]
	as.a.Dealloc(la.offset, la.size, la.align)
	as.live = append(as.live[:i], as.live[i+1:]...)
	as.CheckAll()
}

func (as *Allocations) Realloc(index uint32, newSize uintptr) {
	if len(as.live) == 0 {
		return
	}
	if newSize == 0 {
		newSize = 1
	}
	newSize = newSize % sizeCap

	i := int(index % uint32(len(as.live)))
	la := as.live[i]

	newOffset := as.a.Realloc(la.offset, la.size, la.align, newSize)
	if newOffset == 0 {
		return
	}

	data := as.a.bytesAt(newOffset, newSize)
	for j := range data {
		data[j] = la.value
	}

	as.live[i] = liveAllocation{offset: newOffset, size: newSize, align: la.align, value: la.value}
	as.CheckAll()
}

func (as *Allocations) CheckAll() {
	for _, la := range as.live {
		data := as.a.bytesAt(la.offset, la.size)
		expected := make([]byte, la.size)
		for i := range expected {
			expected[i] = la.value
		}
		if !reflect.DeepEqual(data, expected) {
			panic(fmt.Sprintf("allocation at offset %d has corrupted contents", la.offset))
		}
	}
	if err := as.a.CheckInvariants(); err != nil {
		panic(err)
	}
}

func (as *Allocations) Cleanup() {
	for _, la := range as.live {
		as.a.Dealloc(la.offset, la.size, la.align)
	}
	if err := as.a.Close(); err != nil {
		panic(err)
	}
}

type FuzzAllocStep struct {
	allocations *Allocations
	size        uintptr
	value       byte
}

func NewFuzzAllocStep(allocations *Allocations, byteConsumer *fuzzutil.ByteConsumer) *FuzzAllocStep {
	return &FuzzAllocStep{
		allocations: allocations,
		size:        uintptr(byteConsumer.Uint32()),
		value:       byteConsumer.Byte(),
	}
}

func (s *FuzzAllocStep) DoStep() {
	s.allocations.Alloc(s.size, s.value)
}

type FuzzFreeStep struct {
	allocations *Allocations
	index       uint32
}

func NewFuzzFreeStep(allocations *Allocations, byteConsumer *fuzzutil.ByteConsumer) *FuzzFreeStep {
	return &FuzzFreeStep{
		allocations: allocations,
		index:       byteConsumer.Uint32(),
	}
}

func (s *FuzzFreeStep) DoStep() {
	s.allocations.Free(s.index)
}

type FuzzReallocStep struct {
	allocations *Allocations
	index       uint32
	newSize     uintptr
}

func NewFuzzReallocStep(allocations *Allocations, byteConsumer *fuzzutil.ByteConsumer) *FuzzReallocStep {
	return &FuzzReallocStep{
		allocations: allocations,
		index:       byteConsumer.Uint32(),
		newSize:     uintptr(byteConsumer.Uint32()),
	}
}

func (s *FuzzReallocStep) DoStep() {
	s.allocations.Realloc(s.index, s.newSize)
}
