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

import "fmt"

// Instruction is one disassembled instruction: its code offset, mnemonic,
// and raw operand bytes (interpretation of the operand bytes depends on the
// instruction's class; Disassemble does not re-derive register/immediate
// values, leaving that to a caller that wants a pretty-printer).
type Instruction struct {
	Offset uint32
	Op     Opcode
	Body   []byte
}

// Disassemble walks p's mask to recover the instruction stream as a flat
// list, skipping any non-boundary bytes. It never fails: a truncated final
// instruction (skip running past the end of Code, which Decode already
// rejects) cannot occur for a successfully decoded Program.
func Disassemble(p *Program) []Instruction {
	var out []Instruction
	for pc := uint32(0); pc < uint32(len(p.Mask)); {
		if !p.Mask[pc] {
			pc++
			continue
		}
		skip := int(p.Skip[pc]) + 1
		end := pc + uint32(skip)
		if end > uint32(len(p.Code)) {
			break
		}
		out = append(out, Instruction{
			Offset: pc,
			Op:     Opcode(p.Code[pc]),
			Body:   p.Code[pc+1 : end],
		})
		pc = end
	}
	return out
}

// String renders one disassembled instruction for debugging/log output.
func (ins Instruction) String() string {
	return fmt.Sprintf("%08x: %-20s %x", ins.Offset, ins.Op, ins.Body)
}
