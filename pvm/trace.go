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

// Trace, if non-nil, is invoked by Step after every successfully executed
// instruction (i.e. the instruction that left Status == Continue). It is a
// debugging/conformance aid — the Go-idiomatic analogue of an EVM Tracer —
// never consulted for consensus-critical decisions. Step only dereferences
// Trace once per call, so a nil Trace costs nothing beyond that one check;
// it is never wired into the per-opcode dispatch switch itself.
type Trace func(s *State, pc uint32, op Opcode)

// TraceEvent is a snapshot a Trace callback can retain past the call (the
// *State it's handed is reused across steps, so anything it wants to keep
// must be copied out — this is the copy helper).
type TraceEvent struct {
	PC        uint32
	Op        Opcode
	Registers [NumRegisters]uint64
	Gas       int64
}

// Snapshot captures the fields of s a Trace callback typically wants to log
// or diff, decoupled from s's lifetime.
func Snapshot(s *State, pc uint32, op Opcode) TraceEvent {
	return TraceEvent{PC: pc, Op: op, Registers: s.Registers, Gas: s.Gas}
}
