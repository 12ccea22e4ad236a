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

// InnerMachine is a nested PVM created by the `machine` host call (§4.F),
// which is valid in the Refine and IsAuthorized contexts. It carries its own program, registers, memory, and gas
// counter; the only channels between it and its parent are peek/poke
// (memory copies), pages (permission grants on its address space), and
// invoke (running it for a caller-chosen gas budget and register set).
// Nesting is exactly one level: an inner machine's own Context is Refine,
// but its Inner map is deliberately left nil, so `machine` called from
// inside one always fails WHAT.
type InnerMachine struct {
	state *State
}

// dialToPerm maps the pages host call's five-valued rights dial to a
// Memory permission and whether the target pages must already exist.
// Values 0-2 grant (and, if unmapped, allocate) None/Read/ReadWrite; values
// 3-4 only adjust pages that are already mapped, preserving their content,
// which is the "keep" half of the dial (§4.F).
func dialToPerm(dial uint64) (perm Permission, requireExisting bool, ok bool) {
	switch dial {
	case 0:
		return None, false, true
	case 1:
		return Read, false, true
	case 2:
		return ReadWrite, false, true
	case 3:
		return Read, true, true
	case 4:
		return ReadWrite, true, true
	default:
		return None, false, false
	}
}

func putRegisters(dst []byte, regs [NumRegisters]uint64) {
	for i, r := range regs {
		for b := 0; b < 8; b++ {
			dst[i*8+b] = byte(r >> uint(8*b))
		}
	}
}

func getRegisters(src []byte) [NumRegisters]uint64 {
	var regs [NumRegisters]uint64
	for i := range regs {
		regs[i] = zeroExtendN(src[i*8:i*8+8], 8)
	}
	return regs
}

func hcDoMachine(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	if s.Inner == nil {
		// One level of nesting only: an inner machine has no Inner table.
		s.Registers[7] = SentinelWhat
		return
	}
	codeAddr, codeLen := uint32(s.Registers[7]), int(s.Registers[8])
	entry := uint32(s.Registers[9])
	blob, ok := readMemArg(s, codeAddr, codeLen)
	if !ok {
		return
	}
	prog, err := Decode(blob)
	if err != nil {
		s.Registers[7] = SentinelHuh
		return
	}
	child, err := NewState(prog, EntryPoint(entry), ContextRefine, 0, nil)
	if err != nil {
		s.Registers[7] = SentinelHuh
		return
	}
	child.Inner = nil
	id := s.nextInnerID
	s.nextInnerID++
	s.Inner[id] = &InnerMachine{state: child}
	s.Registers[7] = uint64(id)
}

func hcDoExpunge(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	id := uint32(s.Registers[7])
	im, ok := s.Inner[id]
	if !ok {
		s.Registers[7] = SentinelWho
		return
	}
	delete(s.Inner, id)
	s.Registers[7] = uint64(im.state.Gas)
}

// hcDoPeek follows §4.E's "peek machine_id, dst, src, len" argument order:
// r8 is the destination address in the caller's own memory, r9 the source
// address inside the child machine's address space.
func hcDoPeek(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	id := uint32(s.Registers[7])
	im, ok := s.Inner[id]
	if !ok {
		s.Registers[7] = SentinelWho
		return
	}
	dstAddr, srcAddr, n := uint32(s.Registers[8]), uint32(s.Registers[9]), int(s.Registers[10])
	data, err := im.state.Memory.ReadBytes(srcAddr, n)
	if err != nil {
		s.Status = Panic
		return
	}
	if !writeMemArg(s, dstAddr, data) {
		return
	}
	s.Registers[7] = SentinelOK
}

// hcDoPoke follows §4.E's "poke machine_id, src, dst, len" argument order:
// r8 is the source address in the caller's own memory, r9 the destination
// address inside the child machine's address space.
func hcDoPoke(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	id := uint32(s.Registers[7])
	im, ok := s.Inner[id]
	if !ok {
		s.Registers[7] = SentinelWho
		return
	}
	srcAddr, dstAddr, n := uint32(s.Registers[8]), uint32(s.Registers[9]), int(s.Registers[10])
	data, ok2 := readMemArg(s, srcAddr, n)
	if !ok2 {
		return
	}
	if err := im.state.Memory.WriteBytes(dstAddr, data); err != nil {
		s.Status = Panic
		return
	}
	s.Registers[7] = SentinelOK
}

func hcDoPages(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	id := uint32(s.Registers[7])
	im, ok := s.Inner[id]
	if !ok {
		s.Registers[7] = SentinelWho
		return
	}
	pageIndex, count, dial := uint32(s.Registers[8]), uint32(s.Registers[9]), s.Registers[10]
	perm, requireExisting, ok := dialToPerm(dial)
	if !ok {
		s.Registers[7] = SentinelHuh
		return
	}
	if err := im.state.Memory.SetPageRights(pageIndex, count, perm, requireExisting); err != nil {
		s.Registers[7] = SentinelHuh
		return
	}
	s.Registers[7] = SentinelOK
}

// ioBlockSize is the 112-byte gas/register block `invoke` reads and writes
// at io_addr (§4.E): an 8-byte signed gas counter followed by the 13
// 8-byte registers.
const ioBlockSize = 8 + NumRegisters*8

func hcDoInvoke(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		return
	}
	id := uint32(s.Registers[7])
	im, ok := s.Inner[id]
	if !ok {
		s.Registers[7] = SentinelWho
		return
	}
	ioAddr := uint32(s.Registers[8])
	raw, ok2 := readMemArg(s, ioAddr, ioBlockSize)
	if !ok2 {
		return
	}
	im.state.Gas = int64(zeroExtendN(raw[0:8], 8))
	im.state.Registers = getRegisters(raw[8:])
	if im.state.Status == Halt || im.state.Status == Panic {
		// A machine that already terminated stays terminated; invoke just
		// reports its frozen state rather than resuming dead code.
	} else {
		im.state.Status = Continue
		Run(im.state, 0, nil)
	}
	out := make([]byte, ioBlockSize)
	for b := 0; b < 8; b++ {
		out[b] = byte(im.state.Gas >> uint(8*b))
	}
	putRegisters(out[8:], im.state.Registers)
	if !writeMemArg(s, ioAddr, out) {
		return
	}
	s.Registers[7] = uint64(im.state.Status)
}
