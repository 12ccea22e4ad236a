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

func TestDecodeRoundTrip(t *testing.T) {
	instrs := asm(
		ins(OpLoadImm, 2, 7),
		haltInstr(),
	)
	p := mustDecode(t, []byte("ro"), []byte("rw!!"), 4096, instrs)
	if got, want := string(p.ROData), "ro"; got != want {
		t.Errorf("ROData = %q; want %q", got, want)
	}
	if got, want := string(p.RWData), "rw!!"; got != want {
		t.Errorf("RWData = %q; want %q", got, want)
	}
	if p.StackBytes != 4096 {
		t.Errorf("StackBytes = %d; want 4096", p.StackBytes)
	}
	if len(p.Code) != 5 {
		t.Errorf("len(Code) = %d; want 5", len(p.Code))
	}
	if !p.Mask[0] || p.Mask[1] || p.Mask[2] || !p.Mask[3] || p.Mask[4] {
		t.Errorf("mask = %v; want boundaries at 0 and 3", p.Mask)
	}
}

func TestDecodeTruncatedBlob(t *testing.T) {
	if _, err := Decode([]byte{0x01}); !errors.Is(err, ErrDeclaredLengthOverflow) && !errors.Is(err, ErrTruncatedBlob) {
		t.Errorf("truncated header: got %v", err)
	}
}

func TestDecodeDeclaredLengthOverflow(t *testing.T) {
	// Header declares |o| = 100 but supplies no data bytes at all.
	blob := append(putUintN(100, 3), putUintN(0, 3)...)
	blob = append(blob, putUintN(0, 2)...)
	blob = append(blob, putUintN(0, 3)...)
	if _, err := Decode(blob); !errors.Is(err, ErrDeclaredLengthOverflow) {
		t.Errorf("oversized |o|: got %v; want ErrDeclaredLengthOverflow", err)
	}
}

func TestDecodeRejectsJumpTableEntryOffMask(t *testing.T) {
	// jt[0] = 1 points into the middle of the load_imm instruction at 0.
	blob := buildBlobJT(nil, nil, 64, []uint32{1}, asm(
		ins(OpLoadImm, 2, 7),
		haltInstr(),
	))
	if _, err := Decode(blob); !errors.Is(err, ErrBadJumpTableEntry) {
		t.Errorf("jt entry off mask: got %v; want ErrBadJumpTableEntry", err)
	}
}

func TestSkipDistanceCappedAt24(t *testing.T) {
	// One opcode followed by 40 non-boundary bytes: the skip distance must
	// cap at 24 (stored as 23, instruction length minus one).
	mask := make([]bool, 41)
	mask[0] = true
	skip := computeSkip(mask)
	if skip[0] != maxSkip-1 {
		t.Errorf("skip[0] = %d; want %d", skip[0], maxSkip-1)
	}
}

func TestSkipDistanceToNextBoundary(t *testing.T) {
	mask := []bool{true, false, false, true, true}
	skip := computeSkip(mask)
	if skip[0] != 2 {
		t.Errorf("skip[0] = %d; want 2", skip[0])
	}
	if skip[3] != 0 {
		t.Errorf("skip[3] = %d; want 0", skip[3])
	}
	if skip[4] != 0 {
		t.Errorf("skip[4] = %d; want 0", skip[4])
	}
}

func TestJumpTableDispatch(t *testing.T) {
	// jump_ind through jt[0]: address 2 resolves to index (2/2)-1 = 0.
	instrs := asm(
		ins(OpLoadImm, 2, 2),  // bytes 0-2
		ins(OpJumpInd, reg(0, 2)), // bytes 3-4
		ins(OpLoadImm, 5, 9),  // bytes 5-7, the jump-table target
		haltInstr(),           // byte 8
	)
	blob := buildBlobJT(nil, nil, 64, []uint32{5}, instrs)
	p, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := runToTerminal(t, p, 1000)
	if s.Status != Halt {
		t.Fatalf("status = %v; want Halt", s.Status)
	}
	if s.Registers[5] != 9 {
		t.Errorf("R5 = %d; want 9 (jump-table target executed)", s.Registers[5])
	}
}

func TestJumpTableIndexOutOfRangePanics(t *testing.T) {
	instrs := asm(
		ins(OpLoadImm, 2, 4), // address 4 resolves to index 1, past the table
		ins(OpJumpInd, reg(0, 2)),
		ins(OpLoadImm, 5, 9),
		haltInstr(),
	)
	blob := buildBlobJT(nil, nil, 64, []uint32{5}, instrs)
	p, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	s := runToTerminal(t, p, 1000)
	if s.Status != Panic {
		t.Errorf("status = %v; want Panic", s.Status)
	}
}

func TestExecutingNonBoundaryBytePanics(t *testing.T) {
	p := mustDecode(t, nil, nil, 64, asm(ins(OpLoadImm, 2, 7), haltInstr()))
	s, err := NewState(p, EntryPoint(1), ContextRefine, 1000, nil)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if st := Run(s, 0, nil); st != Panic {
		t.Errorf("status = %v; want Panic for mask-false pc", st)
	}
}
