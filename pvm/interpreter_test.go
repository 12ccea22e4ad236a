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

import "testing"

// haltInstr is jump_ind r0, +0: r0 holds HaltSentinel from invocation setup,
// so this always terminates normally.
func haltInstr() []byte { return ins(OpJumpInd, reg(0, 0)) }

func TestImmediateHalt(t *testing.T) {
	p := mustDecode(t, nil, nil, PageSize, [][]byte{haltInstr()})
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
}

func TestAddition(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm, 2, 10),
		ins(OpLoadImm, 3, 32),
		ins(OpAdd64, reg(4, 2), 3),
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[4] != 42 {
		t.Errorf("R4 = %d; want 42", s.Registers[4])
	}
}

func TestForbiddenZoneAccessPanics(t *testing.T) {
	instrs := [][]byte{
		ins(OpStoreImmU8, bytesCat(leTrim(0, 4), leTrim(1, 1))...),
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Panic {
		t.Errorf("status = %v; want Panic", s.Status)
	}
}

func TestOutOfGas(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm, 2, 1),
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 0)
	if s.Status != OutOfGas {
		t.Errorf("status = %v; want OutOfGas", s.Status)
	}
}

func TestHostGasCall(t *testing.T) {
	instrs := [][]byte{
		ins(OpEcalli, 0), // host call 0 = gas query
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	// The gas call observes 1000 - 1 (ecalli instruction) - 10 (host call
	// base) = 989; the jump_ind afterwards doesn't change r7.
	if s.Registers[7] != 989 {
		t.Errorf("R7 = %d; want 989", s.Registers[7])
	}
	if s.Gas != 988 {
		t.Errorf("final gas = %d; want 988", s.Gas)
	}
}

func TestUnalignedIndirectJumpPanics(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm, 1, 3), // R1 = 3, an odd address: indirect jumps require addr % 2 == 0
		ins(OpJumpInd, reg(0, 1)),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Panic {
		t.Errorf("status = %v; want Panic", s.Status)
	}
}

func TestDivisionByZeroConventions(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm, 2, 10),
		ins(OpLoadImm, 3, 0),
		ins(OpDivU64, reg(4, 2), 3),
		ins(OpRemU64, reg(5, 2), 3),
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[4] != ^uint64(0) {
		t.Errorf("div_u_64 by zero = %#x; want all-ones", s.Registers[4])
	}
	if s.Registers[5] != 10 {
		t.Errorf("rem_u_64 by zero = %d; want dividend 10", s.Registers[5])
	}
}

func TestSignedDivisionConventions(t *testing.T) {
	// div_s by zero produces all-ones; rem_s by zero the dividend;
	// INT_MIN / -1 wraps to INT_MIN with remainder 0.
	instrs := [][]byte{
		ins(OpLoadImm, bytesCat([]byte{2}, leTrim(uint64(0xFFFFFFF6), 4))...), // r2 = -10
		ins(OpLoadImm, 3, 0),                                          // r3 = 0
		ins(OpDivS64, reg(4, 2), 3),
		ins(OpRemS64, reg(5, 2), 3),
		ins(OpLoadImm64, bytesCat([]byte{6}, leTrim(1<<63, 8))...), // r6 = INT64_MIN
		ins(OpLoadImm, bytesCat([]byte{7}, leTrim(0xFFFFFFFF, 4))...),      // r7 = -1
		ins(OpDivS64, reg(8, 6), 7),
		ins(OpRemS64, reg(9, 6), 7),
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[4] != ^uint64(0) {
		t.Errorf("div_s_64 by zero = %#x; want all-ones", s.Registers[4])
	}
	if got := int64(s.Registers[5]); got != -10 {
		t.Errorf("rem_s_64 by zero = %d; want dividend -10", got)
	}
	if s.Registers[8] != 1<<63 {
		t.Errorf("INT_MIN / -1 = %#x; want INT_MIN", s.Registers[8])
	}
	if s.Registers[9] != 0 {
		t.Errorf("INT_MIN rem -1 = %d; want 0", s.Registers[9])
	}
}

func TestMulUpperVariants(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm64, bytesCat([]byte{2}, leTrim(1<<62, 8))...), // r2 = 2^62
		ins(OpLoadImm, 3, 8),                                       // r3 = 8
		ins(OpMulUpperUU, reg(4, 2), 3),                            // hi(2^62 * 8) = 2
		ins(OpLoadImm, bytesCat([]byte{5}, leTrim(0xFFFFFFFF, 4))...),      // r5 = -1
		ins(OpMulUpperSS, reg(6, 5), 5),                            // hi((-1)*(-1)) = 0
		ins(OpMulUpperSU, reg(8, 5), 3),                            // hi(-1 * 8u) = all-ones
		ins(OpMulUpperUUImm, reg(9, 2), 8),                         // immediate form of the first
		ins(OpMulUpperSSImm, reg(10, 2), 0xFF), // 2^62 * -1 (imm sign-extends)
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[4] != 2 {
		t.Errorf("mul_upper_uu = %d; want 2", s.Registers[4])
	}
	if s.Registers[6] != 0 {
		t.Errorf("mul_upper_ss(-1,-1) = %#x; want 0", s.Registers[6])
	}
	if s.Registers[8] != ^uint64(0) {
		t.Errorf("mul_upper_su(-1,8) = %#x; want all-ones", s.Registers[8])
	}
	if s.Registers[9] != 2 {
		t.Errorf("mul_upper_uu_imm = %d; want 2", s.Registers[9])
	}
	if s.Registers[10] != ^uint64(0) {
		t.Errorf("mul_upper_ss_imm(2^62,-1) = %#x; want all-ones", s.Registers[10])
	}
}

func TestSignExtend32(t *testing.T) {
	instrs := [][]byte{
		ins(OpLoadImm, 2, 0xFF, 0xFF, 0xFF, 0xFF), // R2 = -1 sign-extended to 64 bits already
		ins(OpAdd32, reg(3, 2), 2),                 // add_32(R2, R2) wraps to 0xFFFFFFFE, sign-extends
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	wrapped := uint32(0xFFFFFFFE)
	want := uint64(int64(int32(wrapped)))
	if s.Registers[3] != want {
		t.Errorf("R3 = %#x; want %#x", s.Registers[3], want)
	}
}

func TestBranchSkipsOnFalse(t *testing.T) {
	// branch_eq r1,r2 with unequal operands must fall through into the
	// load_imm r6=1 it would otherwise hop over.
	branch := ins(OpBranchEq, reg(1, 2), 6) // offset past the fallthrough instruction
	fall := ins(OpLoadImm, 6, 1)
	land := ins(OpLoadImm, 5, 1)
	instrs := [][]byte{
		ins(OpLoadImm, 1, 1),
		ins(OpLoadImm, 2, 2),
		branch,
		fall,
		land,
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[6] != 1 {
		t.Errorf("R6 = %d; want 1 (branch not taken, fell through)", s.Registers[6])
	}
	if s.Registers[5] != 1 {
		t.Errorf("R5 = %d; want 1", s.Registers[5])
	}
}

func TestBranchTakenOnTrue(t *testing.T) {
	// branch_eq r1,r2 with equal operands hops over load_imm r6=1.
	branch := ins(OpBranchEq, reg(1, 2), 6)
	fall := ins(OpLoadImm, 6, 1)
	land := ins(OpLoadImm, 5, 1)
	instrs := [][]byte{
		ins(OpLoadImm, 1, 7),
		ins(OpLoadImm, 2, 7),
		branch,
		fall,
		land,
		haltInstr(),
	}
	p := mustDecode(t, nil, nil, PageSize, instrs)
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[6] != 0 {
		t.Errorf("R6 = %d; want 0 (branch taken, fallthrough skipped)", s.Registers[6])
	}
	if s.Registers[5] != 1 {
		t.Errorf("R5 = %d; want 1", s.Registers[5])
	}
}
