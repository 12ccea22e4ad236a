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

// Package fixtures runs the JSON conformance vectors shared across
// independent PVM implementations against this core's interpreter, the
// Go-native analogue of the state-test harness go-ethereum uses to check
// its EVM against the other Ethereum clients.
package fixtures

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/probechain/pvm/pvm"
)

// MemoryChunk is one expected post-execution memory region in a fixture.
type MemoryChunk struct {
	Address  uint32 `json:"address"`
	Contents string `json:"contents"`
}

// Vector is a single conformance fixture: a program blob plus an initial
// and expected machine state.
type Vector struct {
	Name string `json:"name"`

	Program     string   `json:"program"`
	InitialRegs []uint64 `json:"initial-regs"`
	InitialPC   uint32   `json:"initial-pc"`
	InitialGas  int64    `json:"initial-gas"`

	ExpectedStatus string        `json:"expected-status"`
	ExpectedRegs   []uint64      `json:"expected-regs"`
	ExpectedPC     uint32        `json:"expected-pc"`
	ExpectedGas    int64         `json:"expected-gas"`
	ExpectedMemory []MemoryChunk `json:"expected-memory"`
}

// Result is the outcome of replaying one Vector.
type Result struct {
	Name   string
	Passed bool
	// Mismatches describes every field that disagreed with the fixture;
	// empty when Passed is true.
	Mismatches []string
}

// Load parses a JSON array of Vector from r.
func Load(r io.Reader) ([]Vector, error) {
	var vecs []Vector
	if err := json.NewDecoder(r).Decode(&vecs); err != nil {
		return nil, fmt.Errorf("fixtures: decode: %w", err)
	}
	return vecs, nil
}

// statusNames maps a fixture's expected-status string to pvm.Status, the
// inverse of pvm.Status.String so fixtures stay human-authorable JSON.
var statusNames = map[string]pvm.Status{
	"continue":   pvm.Continue,
	"halt":       pvm.Halt,
	"panic":      pvm.Panic,
	"fault":      pvm.Fault,
	"out-of-gas": pvm.OutOfGas,
	"host-yield": pvm.HostYield,
}

// Run decodes v's program and replays it with maxSteps as the step
// ceiling (0 means unlimited, matching pvm.Run), comparing the resulting
// state against v's expectations field by field.
func Run(v Vector, maxSteps uint64) Result {
	res := Result{Name: v.Name}

	blob, err := hex.DecodeString(v.Program)
	if err != nil {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("program hex: %v", err))
		return res
	}
	prog, err := pvm.Decode(blob)
	if err != nil {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("decode: %v", err))
		return res
	}

	// Conformance vectors set pc directly rather than through one of the
	// four named entry points, so NewState is built at EntryIsAuthorized
	// and immediately overridden below.
	s, err := pvm.NewState(prog, pvm.EntryIsAuthorized, pvm.ContextRefine, v.InitialGas, nil)
	if err != nil {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("new state: %v", err))
		return res
	}
	s.PC = v.InitialPC
	for i, r := range v.InitialRegs {
		if i >= pvm.NumRegisters {
			break
		}
		s.Registers[i] = r
	}

	got := pvm.Run(s, maxSteps, nil)

	want, ok := statusNames[v.ExpectedStatus]
	if !ok {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("unknown expected-status %q", v.ExpectedStatus))
	} else if got != want {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("status: got %s, want %s", got, want))
	}

	if s.PC != v.ExpectedPC {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("pc: got %#x, want %#x", s.PC, v.ExpectedPC))
	}
	if s.Gas != v.ExpectedGas {
		res.Mismatches = append(res.Mismatches, fmt.Sprintf("gas: got %d, want %d", s.Gas, v.ExpectedGas))
	}
	for i, want := range v.ExpectedRegs {
		if i >= pvm.NumRegisters {
			break
		}
		if s.Registers[i] != want {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("reg[%d]: got %#x, want %#x", i, s.Registers[i], want))
		}
	}
	for _, chunk := range v.ExpectedMemory {
		want, err := hex.DecodeString(chunk.Contents)
		if err != nil {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("memory[%#x] contents hex: %v", chunk.Address, err))
			continue
		}
		got, err := s.Memory.ReadBytes(chunk.Address, len(want))
		if err != nil {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("memory[%#x]: %v", chunk.Address, err))
			continue
		}
		if !bytesEqual(got, want) {
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("memory[%#x]: got %x, want %x", chunk.Address, got, want))
		}
	}

	res.Passed = len(res.Mismatches) == 0
	return res
}

// RunAll replays every vector in vecs and returns one Result per vector, in
// order.
func RunAll(vecs []Vector, maxSteps uint64) []Result {
	results := make([]Result, len(vecs))
	for i, v := range vecs {
		results[i] = Run(v, maxSteps)
	}
	return results
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
