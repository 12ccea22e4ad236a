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

// Package pvm implements the Polka Virtual Machine: a sandboxed, gas-metered
// register machine used as the execution substrate of a JAM-style
// blockchain. It covers blob decoding, page-permissioned memory, the
// register/state machine, the instruction interpreter, the host-call
// dispatch layer, and the nested "inner machine" facility used by Refine.
package pvm

import "fmt"

// NumRegisters is the number of general-purpose registers a PVM exposes.
const NumRegisters = 13

// HaltSentinel is the address an indirect jump to which terminates execution
// normally. r0 is initialized to this value so that "jump_ind r0, 0" at
// program entry is a valid, deterministic halt.
const HaltSentinel uint32 = 0xFFFF0000

// StackTop is the fixed top-of-stack address; the stack region grows down
// from here.
const StackTop uint32 = 0xFEFE0000

// InputBase is the fixed base address of the host-supplied input buffer.
const InputBase uint32 = 0xFEFF0000

// MaxInputLen is the largest input byte vector the host may supply.
const MaxInputLen = 16 * 1024 * 1024

// Status is the terminal (or continuing) state of a PVM invocation.
type Status uint8

const (
	// Continue means the interpreter should keep fetching instructions.
	Continue Status = iota
	// Halt is normal termination via an indirect jump to HaltSentinel.
	Halt
	// Panic is a contract violation by the guest program.
	Panic
	// Fault is a recoverable page-permission violation on user-space memory.
	Fault
	// OutOfGas means the gas counter went negative.
	OutOfGas
	// HostYield names a cooperative suspension for a host call. Step and Run
	// never set it: ecalli services the host call synchronously through Host
	// and execution continues in the same Step. The value is kept so status
	// names such as "host-yield" can be rendered and compared.
	HostYield
)

// String renders the status for logging and test failure messages.
func (s Status) String() string {
	switch s {
	case Continue:
		return "continue"
	case Halt:
		return "halt"
	case Panic:
		return "panic"
	case Fault:
		return "fault"
	case OutOfGas:
		return "out-of-gas"
	case HostYield:
		return "host-yield"
	default:
		return "unknown-status"
	}
}

// EntryPoint identifies one of the four hardcoded invocation contexts by its
// fixed code offset within a decoded program.
type EntryPoint uint32

const (
	EntryIsAuthorized EntryPoint = 0
	EntryAccumulate   EntryPoint = 5
	EntryRefine       EntryPoint = 10
	EntryOnTransfer   EntryPoint = 15
)

// Context names the invocation context a host call was dispatched under; it
// gates which host calls are valid (§4.E).
type Context uint8

const (
	ContextIsAuthorized Context = iota
	ContextRefine
	ContextAccumulate
)

// State is the full execution state of one PVM invocation: registers,
// program counter, gas, status, host-call id, exports, and the table of
// live inner machines. It is created fresh per invocation and torn down on
// return; nothing here is shared across invocations.
type State struct {
	Registers [NumRegisters]uint64
	PC        uint32
	Gas       int64
	Status    Status

	// HostCallID records the identifier of the most recent host call
	// dispatched by an ecalli instruction.
	HostCallID uint32

	Memory *Memory

	// Context gates which host calls are valid for this invocation (§4.E).
	Context Context

	// Host is the surrounding service environment host calls other than the
	// pure register-machine facilities (machine/peek/poke/pages/invoke/
	// expunge) are dispatched against. Nil is valid for a standalone
	// interpreter run (e.g. conformance-vector replay) that never executes
	// ecalli with a Host-backed call number.
	Host HostEnvironment

	// Self is the service id this invocation runs as; the `transfer`,
	// `upgrade`, and `eject` host calls use it as the implicit source/
	// target service since their register layouts never pass it
	// explicitly. Zero for invocations that don't represent a service
	// (e.g. a standalone conformance-vector replay).
	Self uint64

	// CheckpointGas is the gas counter value recorded by the most recent
	// `checkpoint` host call (§4.E, Accumulate-only); zero until the guest
	// calls it at least once.
	CheckpointGas int64

	// Exports is appended to only by the `export` host call (Refine and
	// IsAuthorized contexts).
	Exports [][]byte

	// Inner holds nested PVMs created by the `machine` host call, keyed by
	// the identifier returned to the guest. Only usable in the Refine and
	// IsAuthorized contexts; one level of nesting.
	Inner map[uint32]*InnerMachine
	// nextInnerID is the next identifier `machine` will hand out.
	nextInnerID uint32

	program *Program
}

// NewState builds the initial execution state for invoking program p at
// entry, with the given gas budget and host-supplied input.
func NewState(p *Program, entry EntryPoint, ctx Context, gasLimit int64, input []byte) (*State, error) {
	if len(input) > MaxInputLen {
		return nil, fmt.Errorf("pvm: input length %d exceeds MaxInputLen", len(input))
	}
	mem, err := newMemory(p, input)
	if err != nil {
		return nil, err
	}
	s := &State{
		PC:      uint32(entry),
		Gas:     gasLimit,
		Status:  Continue,
		Memory:  mem,
		Context: ctx,
		Inner:   make(map[uint32]*InnerMachine),
		program: p,
	}
	s.Registers[0] = uint64(HaltSentinel)
	s.Registers[1] = uint64(StackTop)
	s.Registers[7] = uint64(InputBase)
	s.Registers[8] = uint64(len(input))
	return s, nil
}

// Program returns the decoded program backing this invocation.
func (s *State) Program() *Program { return s.program }
