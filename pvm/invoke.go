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

// InvocationResult is what the host receives back from one complete
// invocation (§6): the terminal status, the gas actually consumed (budget
// minus final gas, clamped to zero), the output bytes, and the exports
// accumulated by the `export` host call. Output and Exports are empty on
// any non-Halt status (§7).
type InvocationResult struct {
	Status  Status
	GasUsed int64
	Output  []byte
	Exports [][]byte
}

// Invoke decodes blob and runs it from entry to a terminal status,
// dispatching host calls against host (which may be nil for programs that
// never need one). A blob that fails to decode reports Panic with zero gas
// consumed (§7). On Halt the output is read from memory at [r7, r7+r8); if
// r8 exceeds MaxInputLen or any byte of the range is inaccessible, the
// output is empty rather than an error (§6).
func Invoke(blob []byte, entry EntryPoint, ctx Context, gasLimit int64, input []byte, host HostEnvironment) (InvocationResult, *State) {
	prog, err := Decode(blob)
	if err != nil {
		return InvocationResult{Status: Panic}, nil
	}
	s, err := NewState(prog, entry, ctx, gasLimit, input)
	if err != nil {
		return InvocationResult{Status: Panic}, nil
	}
	s.Host = host
	Run(s, 0, nil)
	return Finalize(s, gasLimit), s
}

// Finalize folds a terminal State into the result the host sees. Callers
// that drive Step/Run themselves (e.g. to attach a Trace) use it in place
// of Invoke.
func Finalize(s *State, gasLimit int64) InvocationResult {
	res := InvocationResult{Status: s.Status}
	res.GasUsed = gasLimit - s.Gas
	if res.GasUsed < 0 {
		res.GasUsed = 0
	}
	// Running out of gas leaves the counter negative; the guest never
	// consumes more than it was granted.
	if res.GasUsed > gasLimit {
		res.GasUsed = gasLimit
	}
	if s.Status != Halt {
		return res
	}
	res.Exports = s.Exports
	addr := uint32(s.Registers[7])
	n := s.Registers[8]
	if n == 0 || n > MaxInputLen {
		return res
	}
	out, err := s.Memory.ReadBytes(addr, int(n))
	if err != nil {
		return res
	}
	res.Output = out
	return res
}
