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
	"fmt"
)

// PageSize is the fixed page granularity of the address space.
const PageSize = 4096

// ForbiddenZone is the first unmapped address; every access below it
// panics, per §8 invariant 1.
const ForbiddenZone uint32 = 0x10000

// zoneAlign is the alignment applied to the RO/RW fast-region sizes.
const zoneAlign = 0x10000

// Permission is a page's access right.
type Permission uint8

const (
	None Permission = iota
	Read
	ReadWrite
)

// ErrForbiddenZone is returned for any access below ForbiddenZone; the
// interpreter and host-call layer both treat it as Panic.
var ErrForbiddenZone = errors.New("pvm: access to forbidden zone")

// ErrPageFault is returned when a page exists with insufficient permission,
// or does not exist at all, for the requested access. The interpreter maps
// this to Status Fault; the host-call layer always escalates it to Panic,
// since a host call's memory arguments are a guest contract the guest must
// honor (§4.E, §7).
var ErrPageFault = errors.New("pvm: page permission fault")

// ErrHeapOverflow is returned by Sbrk when growth would exceed the address
// space budget or collide with the stack region.
var ErrHeapOverflow = errors.New("pvm: sbrk exceeds address space or stack region")

// page is one 4096-byte sparse page. The three "fast regions" of §4.B are a
// caching structure over this same permission-and-page model; this
// implementation uses only the sparse map, which §9 permits as long as the
// observable results are identical.
type page struct {
	perm Permission
	data [PageSize]byte
}

// Memory is the page-permissioned address space of one PVM invocation.
type Memory struct {
	pages map[uint32]*page

	roBase, roSize   uint32
	rwBase, rwSize   uint32
	stackBase, stack uint32 // stack base address, stack size in bytes
	heapBase         uint64
	heapPtr          uint64
}

// alignUp32 rounds n up to the next multiple of align (align a power of two).
func alignUp32(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// newMemory lays out the fast regions and input buffer for program p and
// pre-materializes their backing pages.
func newMemory(p *Program, input []byte) (*Memory, error) {
	roSize := alignUp32(uint32(len(p.ROData)), zoneAlign)
	roBase := uint32(0x10000)
	rwBase := 2*uint32(0x10000) + roSize
	rwSize := alignUp32(uint32(len(p.RWData)), zoneAlign)
	stackBase := StackTop - p.StackBytes
	if p.StackBytes > StackTop {
		return nil, fmt.Errorf("pvm: stack size %d exceeds stack top", p.StackBytes)
	}

	m := &Memory{
		pages:     make(map[uint32]*page),
		roBase:    roBase,
		roSize:    roSize,
		rwBase:    rwBase,
		rwSize:    rwSize,
		stackBase: stackBase,
		stack:     p.StackBytes,
		heapBase:  uint64(rwBase) + uint64(len(p.RWData)),
	}
	m.heapPtr = m.heapBase

	if err := m.seedRegion(roBase, p.ROData, Read); err != nil {
		return nil, err
	}
	if err := m.seedRegion(rwBase, p.RWData, ReadWrite); err != nil {
		return nil, err
	}
	// The stack region is always fully mapped ReadWrite, zero-initialized,
	// for the lifetime of the invocation (it is not lazily materialized).
	if err := m.seedRegion(stackBase, make([]byte, p.StackBytes), ReadWrite); err != nil {
		return nil, err
	}
	if err := m.seedRegion(InputBase, input, Read); err != nil {
		return nil, err
	}
	return m, nil
}

// seedRegion marks the pages spanning [base, base+len(data)) with perm and
// copies data into them.
func (m *Memory) seedRegion(base uint32, data []byte, perm Permission) error {
	if len(data) == 0 {
		return nil
	}
	end := uint64(base) + uint64(len(data))
	if end > uint64(1)<<32 {
		return fmt.Errorf("pvm: region base=0x%x len=%d overflows address space", base, len(data))
	}
	firstPage := base / PageSize
	lastPage := uint32((end - 1) / PageSize)
	for pi := firstPage; pi <= lastPage; pi++ {
		m.ensurePage(pi, perm)
	}
	for i, b := range data {
		addr := base + uint32(i)
		pg := m.pages[addr/PageSize]
		pg.data[addr%PageSize] = b
	}
	return nil
}

func (m *Memory) ensurePage(index uint32, perm Permission) *page {
	pg, ok := m.pages[index]
	if !ok {
		pg = &page{}
		m.pages[index] = pg
	}
	pg.perm = perm
	return pg
}

// ReadByte reads one byte. It returns ErrForbiddenZone for addr <
// ForbiddenZone, ErrPageFault if the page is None, or the byte.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	if addr < ForbiddenZone {
		return 0, ErrForbiddenZone
	}
	pg, ok := m.pages[addr/PageSize]
	if !ok || pg.perm == None {
		return 0, ErrPageFault
	}
	return pg.data[addr%PageSize], nil
}

// WriteByte writes one byte. It returns ErrForbiddenZone for addr <
// ForbiddenZone, ErrPageFault if the page is not ReadWrite.
func (m *Memory) WriteByte(addr uint32, b byte) error {
	if addr < ForbiddenZone {
		return ErrForbiddenZone
	}
	pg, ok := m.pages[addr/PageSize]
	if !ok || pg.perm != ReadWrite {
		return ErrPageFault
	}
	pg.data[addr%PageSize] = b
	return nil
}

// ReadN reads n (1, 2, 4, or 8) little-endian bytes starting at addr. Per
// §4.B, a multi-byte read succeeds iff every one of its bytes succeeds.
func (m *Memory) ReadN(addr uint32, n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := m.ReadByte(addr + uint32(i))
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << uint(8*i)
	}
	return v, nil
}

// WriteN writes the low n bytes of v little-endian starting at addr. Per
// §4.B, a partial write is permitted up to the first failing byte; bytes at
// and after the failure are left unwritten.
func (m *Memory) WriteN(addr uint32, n int, v uint64) error {
	for i := 0; i < n; i++ {
		if err := m.WriteByte(addr+uint32(i), byte(v>>uint(8*i))); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytes reads a slice of length n into a freshly allocated []byte,
// failing as soon as any byte is inaccessible.
func (m *Memory) ReadBytes(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := m.ReadByte(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// WriteBytes copies data into memory starting at addr, stopping (and
// returning an error) at the first inaccessible byte; prior bytes remain
// written.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.WriteByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// HeapPointer returns the current monotone heap pointer without modifying
// it, equivalent to Sbrk(0).
func (m *Memory) HeapPointer() uint64 { return m.heapPtr }

// Sbrk implements §4.B's heap-growth primitive. delta == 0 is a pure query:
// it returns the current pointer unchanged. Otherwise the pointer grows by delta, any
// newly crossed pages are allocated ReadWrite, and the old pointer is
// returned. ErrHeapOverflow is returned (the interpreter treats it as
// Panic) if delta is negative or the new pointer would exceed 2^31 or
// collide with the stack region.
func (m *Memory) Sbrk(delta int64) (uint64, error) {
	old := m.heapPtr
	if delta == 0 {
		return old, nil
	}
	// A negative delta is a register value of 2^63 or more reinterpreted as
	// int64: an unsigned request far past 2^31, not a shrink.
	if delta < 0 {
		return 0, ErrHeapOverflow
	}
	newPtr := int64(m.heapPtr) + delta
	if newPtr < 0 {
		return 0, ErrHeapOverflow
	}
	if uint64(newPtr) > uint64(1)<<31 {
		return 0, ErrHeapOverflow
	}
	stackBottom := uint64(m.stackBase)
	if stackBottom == 0 || uint64(newPtr) > stackBottom-PageSize {
		return 0, ErrHeapOverflow
	}
	if delta > 0 {
		startPage := old / PageSize
		endPage := (uint64(newPtr) - 1) / PageSize
		for pi := startPage; pi <= endPage; pi++ {
			m.ensurePage(uint32(pi), ReadWrite)
		}
	}
	m.heapPtr = uint64(newPtr)
	return old, nil
}

// SetPageRights assigns perm to the count pages starting at startPage. When
// perm is Read or ReadWrite (the "grant" dials), the pages are zeroed; when
// it is one of the "keep" dials the pages must already exist, otherwise
// ErrPageFault is returned (the `pages` host call surfaces this as HUH per
// §4.F's five-valued dial).
func (m *Memory) SetPageRights(startPage, count uint32, perm Permission, requireExisting bool) error {
	for pi := startPage; pi < startPage+count; pi++ {
		pg, ok := m.pages[pi]
		if requireExisting {
			if !ok {
				return ErrPageFault
			}
			pg.perm = perm
			continue
		}
		pg = m.ensurePage(pi, perm)
		for i := range pg.data {
			pg.data[i] = 0
		}
	}
	return nil
}

// PermissionAt reports the permission of the page covering addr.
func (m *Memory) PermissionAt(addr uint32) Permission {
	pg, ok := m.pages[addr/PageSize]
	if !ok {
		return None
	}
	return pg.perm
}
