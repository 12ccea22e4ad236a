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

import "errors"

// ErrInvalidRegister names the condition of an instruction referencing a
// register index outside 0..NumRegisters-1. The interpreter does not return
// this value: validReg sets Status to Panic directly. The encoding packs one
// register index per nibble, so indices 13-15 are simply unused, not
// reachable from a well-formed assembler, but a malicious or corrupt blob can
// still produce them.
var ErrInvalidRegister = errors.New("pvm: invalid register index")

// Step executes exactly one instruction and returns the resulting Status.
// Continue means the PC now points at the next instruction to execute;
// anything else is terminal for this call.
func Step(s *State, trace Trace) Status {
	if s.Status != Continue {
		return s.Status
	}
	p := s.program
	pc := s.PC
	if pc >= uint32(len(p.Mask)) || !p.Mask[pc] {
		s.Status = Panic
		return s.Status
	}

	skip := int(p.Skip[pc]) + 1
	if pc+uint32(skip) > uint32(len(p.Code)) {
		s.Status = Panic
		return s.Status
	}
	body := p.Code[pc+1 : pc+uint32(skip)]
	op := Opcode(p.Code[pc])
	if int(op) >= len(opTable) {
		s.Status = Panic
		return s.Status
	}
	info := opTable[op]

	if !chargeGas(s, 1) {
		return s.Status
	}

	next := pc + uint32(skip)
	switch info.class {
	case classControl:
		execControl(s, op, body)
	case classLoadImm:
		execLoadImm(s, body, false)
	case classLoadImm64:
		execLoadImm(s, body, true)
	case classLoadStoreDirect:
		execLoadStoreDirect(s, op, info, body)
	case classLoadStoreIndirect:
		execLoadStoreIndirect(s, op, info, body)
	case classStoreImm:
		execStoreImm(s, info, body)
	case classStoreImmInd:
		execStoreImmInd(s, info, body)
	case classALURR3:
		execALURR3(s, op, body)
	case classALURR2:
		execALURR2(s, op, body)
	case classALURI:
		execALURI(s, op, info, body)
	case classBranchRR:
		next = execBranchRR(s, op, body, pc, next)
	case classBranchRI:
		next = execBranchRI(s, op, info, body, pc, next)
	case classJump:
		next = execJump(s, body, pc)
	case classLoadImmJump:
		next = execLoadImmJump(s, body, pc)
	case classJumpInd:
		next = execJumpInd(s, body)
	case classLoadImmJumpInd:
		next = execLoadImmJumpInd(s, body)
	case classSbrk:
		execSbrk(s, body)
	case classReserved:
		s.Status = Panic
	default:
		s.Status = Panic
	}

	if s.Status == Continue {
		s.PC = next
		if trace != nil {
			trace(s, pc, op)
		}
	}
	return s.Status
}

// Run steps the machine until it leaves Continue, or maxSteps instructions
// have executed (0 means unbounded). It returns the terminal Status.
func Run(s *State, maxSteps uint64, trace Trace) Status {
	for i := uint64(0); maxSteps == 0 || i < maxSteps; i++ {
		if st := Step(s, trace); st != Continue {
			return st
		}
	}
	return s.Status
}

// chargeGas deducts cost from the gas counter. A post-deduction negative
// balance is OutOfGas (§4.D); it reports whether execution may continue.
func chargeGas(s *State, cost int64) bool {
	s.Gas -= cost
	if s.Gas < 0 {
		s.Status = OutOfGas
		return false
	}
	return true
}

func regPair(b byte) (hi, lo int) { return int(b >> 4), int(b & 0xF) }

func validReg(s *State, r int) bool {
	if r < 0 || r >= NumRegisters {
		s.Status = Panic
		return false
	}
	return true
}

// signExtendN interprets the first n little-endian bytes of buf (0<=n<=8,
// zero-padded if buf is short) as a signed integer and returns it
// sign-extended to 64 bits.
func signExtendN(buf []byte, n int) int64 {
	if n == 0 {
		return 0
	}
	var v uint64
	for i := 0; i < n && i < len(buf); i++ {
		v |= uint64(buf[i]) << uint(8*i)
	}
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift
}

func zeroExtendN(buf []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n && i < len(buf); i++ {
		v |= uint64(buf[i]) << uint(8*i)
	}
	return v
}

func execControl(s *State, op Opcode, body []byte) {
	switch op {
	case OpTrap:
		s.Status = Panic
	case OpFallthrough:
		// no-op; PC advances normally.
	case OpEcalli:
		// Host calls are serviced synchronously against s.Host rather than
		// parking the machine in HostYield for an external handler to
		// resume; Run therefore never returns HostYield.
		id := zeroExtendN(body, len(body))
		dispatchHostCall(s, uint32(id))
	}
}

func execLoadImm(s *State, body []byte, wide bool) {
	if len(body) == 0 {
		s.Status = Panic
		return
	}
	rd := int(body[0] & 0xF)
	if !validReg(s, rd) {
		return
	}
	rest := body[1:]
	if wide {
		s.Registers[rd] = zeroExtendN(rest, 8)
		return
	}
	// The immediate sign-extends from its encoded width to 32 bits, then
	// from 32 to 64; encodings wider than 4 bytes contribute nothing past
	// bit 31 (§4.D).
	n := len(rest)
	if n > 4 {
		n = 4
	}
	s.Registers[rd] = uint64(signExtendN(rest, n))
}

func execLoadStoreDirect(s *State, op Opcode, info opInfo, body []byte) {
	if len(body) < 5 {
		s.Status = Panic
		return
	}
	reg := int(body[0] & 0xF)
	if !validReg(s, reg) {
		return
	}
	addr := uint32(zeroExtendN(body[1:5], 4))
	isStore := op == OpStoreU8 || op == OpStoreU16 || op == OpStoreU32 || op == OpStoreU64
	accessMem(s, addr, info.n, reg, isStore, signedLoad(op))
}

func execLoadStoreIndirect(s *State, op Opcode, info opInfo, body []byte) {
	if len(body) < 1 {
		s.Status = Panic
		return
	}
	hi, lo := regPair(body[0])
	if !validReg(s, hi) || !validReg(s, lo) {
		return
	}
	off := signExtendN(body[1:], len(body)-1)
	addr := uint32(int64(s.Registers[lo]) + off)
	isStore := op == OpStoreIndU8 || op == OpStoreIndU16 || op == OpStoreIndU32 || op == OpStoreIndU64
	accessMem(s, addr, info.n, hi, isStore, signedLoad(op))
}

func signedLoad(op Opcode) bool {
	switch op {
	case OpLoadI8, OpLoadI16, OpLoadI32, OpLoadI64,
		OpLoadIndI8, OpLoadIndI16, OpLoadIndI32, OpLoadIndI64:
		return true
	}
	return false
}

// accessMem performs one direct/indirect load or store. reg is the
// data-carrying register (destination for a load, source for a store).
func accessMem(s *State, addr uint32, n int, reg int, isStore, signed bool) {
	if isStore {
		if err := s.Memory.WriteN(addr, n, s.Registers[reg]); err != nil {
			s.Status = memErrStatus(err)
		}
		return
	}
	v, err := s.Memory.ReadN(addr, n)
	if err != nil {
		s.Status = memErrStatus(err)
		return
	}
	if signed {
		s.Registers[reg] = uint64(signExtendN(leBytes(v, n), n))
	} else {
		s.Registers[reg] = v
	}
}

func leBytes(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> uint(8*i))
	}
	return b
}

// memErrStatus maps a Memory error to the interpreter Status it produces for
// ordinary (non-host-call) guest memory access: the forbidden zone is always
// Panic, any other permission fault is the recoverable Fault status (§8).
func memErrStatus(err error) Status {
	if errors.Is(err, ErrForbiddenZone) {
		return Panic
	}
	return Fault
}

func execStoreImm(s *State, info opInfo, body []byte) {
	if len(body) < 4+info.n {
		s.Status = Panic
		return
	}
	addr := uint32(zeroExtendN(body[0:4], 4))
	val := zeroExtendN(body[4:4+info.n], info.n)
	if err := s.Memory.WriteN(addr, info.n, val); err != nil {
		s.Status = memErrStatus(err)
	}
}

func execStoreImmInd(s *State, info opInfo, body []byte) {
	if len(body) < 1+4+info.n {
		s.Status = Panic
		return
	}
	_, rb := regPair(body[0])
	if !validReg(s, rb) {
		return
	}
	off := int64(int32(zeroExtendN(body[1:5], 4)))
	val := zeroExtendN(body[5:5+info.n], info.n)
	addr := uint32(int64(s.Registers[rb]) + off)
	if err := s.Memory.WriteN(addr, info.n, val); err != nil {
		s.Status = memErrStatus(err)
	}
}

func execALURR3(s *State, op Opcode, body []byte) {
	if len(body) < 2 {
		s.Status = Panic
		return
	}
	rd, rb := regPair(body[0])
	rc := int(body[1] & 0xF)
	if !validReg(s, rd) || !validReg(s, rb) || !validReg(s, rc) {
		return
	}
	switch op {
	case OpCmovIz:
		if s.Registers[rc] == 0 {
			s.Registers[rd] = s.Registers[rb]
		}
	case OpCmovNz:
		if s.Registers[rc] != 0 {
			s.Registers[rd] = s.Registers[rb]
		}
	default:
		s.Registers[rd] = evalALUBinary(op, s.Registers[rb], s.Registers[rc])
	}
}

func execALURR2(s *State, op Opcode, body []byte) {
	if len(body) < 1 {
		s.Status = Panic
		return
	}
	rd, rb := regPair(body[0])
	if !validReg(s, rd) || !validReg(s, rb) {
		return
	}
	s.Registers[rd] = evalALUUnary(op, s.Registers[rb])
}

func execALURI(s *State, op Opcode, info opInfo, body []byte) {
	if len(body) < 1 {
		s.Status = Panic
		return
	}
	rd, rb := regPair(body[0])
	if !validReg(s, rd) || !validReg(s, rb) {
		return
	}
	imm := uint64(signExtendN(body[1:], len(body)-1))
	reg := s.Registers[rb]
	a, b := reg, imm
	if info.reversed {
		a, b = imm, reg
	}
	switch info.base {
	case OpCmovIz:
		if b == 0 {
			s.Registers[rd] = a
		}
		return
	case OpCmovNz:
		if b != 0 {
			s.Registers[rd] = a
		}
		return
	}
	s.Registers[rd] = evalALUBinary(info.base, a, b)
}

func execBranchRR(s *State, op Opcode, body []byte, pc, fallthroughPC uint32) uint32 {
	if len(body) < 1 {
		s.Status = Panic
		return fallthroughPC
	}
	ra, rb := regPair(body[0])
	if !validReg(s, ra) || !validReg(s, rb) {
		return fallthroughPC
	}
	off := signExtendN(body[1:], len(body)-1)
	if evalBranch(op, s.Registers[ra], s.Registers[rb]) {
		return branchTarget(s, pc, off)
	}
	return fallthroughPC
}

func execBranchRI(s *State, op Opcode, info opInfo, body []byte, pc, fallthroughPC uint32) uint32 {
	if len(body) < 5 {
		s.Status = Panic
		return fallthroughPC
	}
	ra, _ := regPair(body[0])
	if !validReg(s, ra) {
		return fallthroughPC
	}
	imm := zeroExtendN(body[1:5], 4)
	off := signExtendN(body[5:], len(body)-5)
	if evalBranch(info.base, s.Registers[ra], imm) {
		return branchTarget(s, pc, off)
	}
	return fallthroughPC
}

// branchTarget resolves a relative branch/jump target and validates it
// lands on an instruction boundary, per §8's "branch/jump targets are always
// mask-true" invariant; an invalid target Panics.
func branchTarget(s *State, pc uint32, off int64) uint32 {
	t := int64(pc) + off
	if t < 0 || t >= int64(len(s.program.Mask)) || !s.program.Mask[t] {
		s.Status = Panic
		return pc
	}
	return uint32(t)
}

func execJump(s *State, body []byte, pc uint32) uint32 {
	off := signExtendN(body, len(body))
	return branchTarget(s, pc, off)
}

func execLoadImmJump(s *State, body []byte, pc uint32) uint32 {
	if len(body) < 5 {
		s.Status = Panic
		return pc
	}
	rd := int(body[0] & 0xF)
	if !validReg(s, rd) {
		return pc
	}
	s.Registers[rd] = zeroExtendN(body[1:5], 4)
	off := signExtendN(body[5:], len(body)-5)
	return branchTarget(s, pc, off)
}

// resolveDynamicTarget turns a computed address into a code offset via the
// jump table, per §4.D's indirect-jump rule: the address space's
// HaltSentinel value is reserved for normal termination; any other address
// must be even (the table is addressed two bytes per slot, independent of
// JTWidth, which is only the on-wire byte width of each stored entry) and
// name a valid table slot at (addr/2)-1, else the jump Panics.
func resolveDynamicTarget(s *State, addr uint32) (uint32, bool) {
	if addr == HaltSentinel {
		s.Status = Halt
		return 0, false
	}
	if addr == 0 || addr%2 != 0 {
		s.Status = Panic
		return 0, false
	}
	idx := addr/2 - 1
	if idx >= uint32(len(s.program.JumpTable)) {
		s.Status = Panic
		return 0, false
	}
	return s.program.JumpTable[idx], true
}

func execJumpInd(s *State, body []byte) uint32 {
	if len(body) < 1 {
		s.Status = Panic
		return 0
	}
	_, rb := regPair(body[0])
	if !validReg(s, rb) {
		return 0
	}
	off := signExtendN(body[1:], len(body)-1)
	addr := uint32(int64(s.Registers[rb]) + off)
	t, ok := resolveDynamicTarget(s, addr)
	if !ok {
		return 0
	}
	return t
}

func execLoadImmJumpInd(s *State, body []byte) uint32 {
	if len(body) < 5 {
		s.Status = Panic
		return 0
	}
	ra, rb := regPair(body[0])
	if !validReg(s, ra) || !validReg(s, rb) {
		return 0
	}
	base := s.Registers[rb]
	value := zeroExtendN(body[1:5], 4)
	off := signExtendN(body[5:], len(body)-5)
	addr := uint32(int64(base) + off)
	t, ok := resolveDynamicTarget(s, addr)
	if !ok {
		return 0
	}
	s.Registers[ra] = value
	return t
}

func execSbrk(s *State, body []byte) {
	if len(body) < 1 {
		s.Status = Panic
		return
	}
	rd, rb := regPair(body[0])
	if !validReg(s, rd) || !validReg(s, rb) {
		return
	}
	old, err := s.Memory.Sbrk(int64(s.Registers[rb]))
	if err != nil {
		s.Status = Panic
		return
	}
	s.Registers[rd] = old
}
