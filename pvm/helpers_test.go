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

// ---- Bytecode builder helpers ----------------------------------------------

// reg packs two 4-bit register indices into one byte, hi in the top nibble.
func reg(hi, lo int) byte { return byte(hi<<4) | byte(lo&0xF) }

// leTrim returns the low n bytes of v in little-endian order, the form
// signExtendN/zeroExtendN read back at byte width n.
func leTrim(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> uint(8*i))
	}
	return b
}

// ins assembles one instruction: opcode byte followed by body bytes.
func ins(op Opcode, body ...byte) []byte {
	return append([]byte{byte(op)}, body...)
}

func asm(instrs ...[]byte) [][]byte { return instrs }

// bytesCat concatenates byte slices, for assembling multi-field instruction
// bodies (e.g. a fixed address followed by a fixed immediate).
func bytesCat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// buildBlob encodes a full program blob from already-assembled instructions,
// computing the opcode-boundary mask from each instruction's length, with an
// empty jump table; jtWidth is fixed at 4.
func buildBlob(roData, rwData []byte, stackBytes uint32, instrs [][]byte) []byte {
	return buildBlobJT(roData, rwData, stackBytes, nil, instrs)
}

// buildBlobJT is buildBlob with an explicit jump table, for tests that
// exercise dynamic jumps.
func buildBlobJT(roData, rwData []byte, stackBytes uint32, jt []uint32, instrs [][]byte) []byte {
	var code []byte
	mask := []bool{}
	for _, i := range instrs {
		mask = append(mask, true)
		for range i[1:] {
			mask = append(mask, false)
		}
		code = append(code, i...)
	}

	maskBytes := make([]byte, (len(mask)+7)/8)
	for i, b := range mask {
		if b {
			maskBytes[i/8] |= 1 << uint(i%8)
		}
	}

	var c []byte
	c = putVarint(c, uint64(len(jt)))
	c = append(c, 4) // jtWidth
	c = putVarint(c, uint64(len(code)))
	for _, entry := range jt {
		c = append(c, putUintN(int(entry), 4)...)
	}
	c = append(c, code...)
	c = append(c, maskBytes...)

	var blob []byte
	blob = append(blob, putUintN(len(roData), 3)...)
	blob = append(blob, putUintN(len(rwData), 3)...)
	blob = append(blob, putUintN(0, 2)...) // z, unused by this implementation's Memory layout
	blob = append(blob, putUintN(int(stackBytes), 3)...)
	blob = append(blob, roData...)
	blob = append(blob, rwData...)
	blob = append(blob, putUintN(len(c), 4)...)
	blob = append(blob, c...)
	return blob
}

func putUintN(v int, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> uint(8*i))
	}
	return b
}

// mustDecode builds and decodes a blob, failing the test on error.
func mustDecode(t *testing.T, roData, rwData []byte, stackBytes uint32, instrs [][]byte) *Program {
	t.Helper()
	p, err := Decode(buildBlob(roData, rwData, stackBytes, instrs))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return p
}

// runToTerminal runs a fresh invocation of p to completion and returns the
// resulting State.
func runToTerminal(t *testing.T, p *Program, gas int64) *State {
	t.Helper()
	s, err := NewState(p, EntryIsAuthorized, ContextAccumulate, gas, nil)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	Run(s, 0, nil)
	return s
}
