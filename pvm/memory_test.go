// Copyright 2024 The PVM Authors
// This file is part of the PVM core.
//
// The PVM core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The PVM core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the PVM core. If not, see <http://www.gnu.org/licenses/>.

package pvm

import (
	"errors"
	"testing"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	p := &Program{
		ROData:     []byte{1, 2, 3, 4},
		RWData:     []byte{0, 0, 0, 0},
		StackBytes: PageSize,
	}
	m, err := newMemory(p, []byte("hello"))
	if err != nil {
		t.Fatalf("newMemory: %v", err)
	}
	return m
}

func TestMemoryForbiddenZone(t *testing.T) {
	m := newTestMemory(t)
	if _, err := m.ReadByte(0); !errors.Is(err, ErrForbiddenZone) {
		t.Errorf("ReadByte(0): got %v; want ErrForbiddenZone", err)
	}
	if err := m.WriteByte(ForbiddenZone-1, 1); !errors.Is(err, ErrForbiddenZone) {
		t.Errorf("WriteByte(ForbiddenZone-1): got %v; want ErrForbiddenZone", err)
	}
}

func TestMemoryROIsNotWritable(t *testing.T) {
	m := newTestMemory(t)
	if err := m.WriteByte(m.roBase, 0xFF); !errors.Is(err, ErrPageFault) {
		t.Errorf("write to RO page: got %v; want ErrPageFault", err)
	}
}

func TestMemoryStoreLoadRoundTrip(t *testing.T) {
	m := newTestMemory(t)
	addr := m.rwBase
	if err := m.WriteN(addr, 8, 0xDEADBEEFCAFEBABE); err != nil {
		t.Fatalf("WriteN: %v", err)
	}
	got, err := m.ReadN(addr, 8)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if got != 0xDEADBEEFCAFEBABE {
		t.Errorf("round trip: got 0x%x", got)
	}
}

func TestMemoryUnmappedPageFaults(t *testing.T) {
	m := newTestMemory(t)
	// An address well past every seeded region, inside the forbidden zone's
	// complement but never mapped.
	addr := uint32(0x20000000)
	if _, err := m.ReadByte(addr); !errors.Is(err, ErrPageFault) {
		t.Errorf("ReadByte(unmapped): got %v; want ErrPageFault", err)
	}
}

func TestSbrkQueryReturnsCurrentPointer(t *testing.T) {
	m := newTestMemory(t)
	p1, err := m.Sbrk(0)
	if err != nil {
		t.Fatalf("Sbrk(0): %v", err)
	}
	p2, err := m.Sbrk(0)
	if err != nil {
		t.Fatalf("Sbrk(0): %v", err)
	}
	if p1 != p2 {
		t.Errorf("Sbrk(0) not idempotent: %d != %d", p1, p2)
	}
	if p1 != m.heapBase {
		t.Errorf("Sbrk(0) = %d; want heapBase %d", p1, m.heapBase)
	}
}

func TestSbrkGrowthMapsPagesReadWrite(t *testing.T) {
	m := newTestMemory(t)
	old, err := m.Sbrk(int64(PageSize) + 1)
	if err != nil {
		t.Fatalf("Sbrk: %v", err)
	}
	// The byte at the very start of the new region must now be writable.
	if err := m.WriteByte(uint32(old), 42); err != nil {
		t.Errorf("write into newly grown heap: %v", err)
	}
	newPtr, _ := m.Sbrk(0)
	if newPtr != old+uint64(PageSize)+1 {
		t.Errorf("heap pointer after growth: got %d; want %d", newPtr, old+uint64(PageSize)+1)
	}
}

func TestSbrkRefusesGrowthPast2To31(t *testing.T) {
	m := newTestMemory(t)
	_, err := m.Sbrk(int64(uint64(1)<<31) + 1)
	if !errors.Is(err, ErrHeapOverflow) {
		t.Errorf("Sbrk huge growth: got %v; want ErrHeapOverflow", err)
	}
}

func TestWriteAcrossPermissionBoundaryIsPartial(t *testing.T) {
	m := newTestMemory(t)
	base := uint32(0x40000000)
	require := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	require(m.SetPageRights(base/PageSize, 1, ReadWrite, false))
	// The page after base stays unmapped; a 4-byte write straddling the
	// boundary lands its first two bytes and faults on the third.
	addr := base + PageSize - 2
	err := m.WriteN(addr, 4, 0x04030201)
	if !errors.Is(err, ErrPageFault) {
		t.Fatalf("straddling write: got %v; want ErrPageFault", err)
	}
	b0, err0 := m.ReadByte(addr)
	b1, err1 := m.ReadByte(addr + 1)
	if err0 != nil || err1 != nil {
		t.Fatalf("readback: %v, %v", err0, err1)
	}
	if b0 != 0x01 || b1 != 0x02 {
		t.Errorf("partial write left %#x %#x; want 0x01 0x02", b0, b1)
	}
}

func TestSetPageRightsKeepRequiresExistingPage(t *testing.T) {
	m := newTestMemory(t)
	err := m.SetPageRights(0x20000000/PageSize, 1, Read, true)
	if !errors.Is(err, ErrPageFault) {
		t.Errorf("keep-dial on unmapped page: got %v; want ErrPageFault", err)
	}
}

func TestSetPageRightsGrantZeroesPage(t *testing.T) {
	m := newTestMemory(t)
	addr := m.rwBase
	if err := m.WriteByte(addr, 0xFF); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if err := m.SetPageRights(addr/PageSize, 1, ReadWrite, false); err != nil {
		t.Fatalf("SetPageRights: %v", err)
	}
	b, err := m.ReadByte(addr)
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if b != 0 {
		t.Errorf("page not zeroed on grant: got %d", b)
	}
}
