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
	"fmt"
)

// Decode failure sentinels. A decode failure is reported to the host as a
// Panic with zero gas consumed (§7); callers should wrap these with context
// via fmt.Errorf("%w: ...", ErrTruncatedBlob) rather than constructing new
// sentinel values.
var (
	// ErrTruncatedBlob means the blob ended before a declared length was
	// satisfied.
	ErrTruncatedBlob = errors.New("pvm: truncated program blob")
	// ErrDeclaredLengthOverflow means a length field claims more bytes than
	// remain in the blob.
	ErrDeclaredLengthOverflow = errors.New("pvm: declared length exceeds remaining bytes")
	// ErrBadJumpTableEntry means a jump-table entry references a code offset
	// whose opcode-boundary mask bit is false.
	ErrBadJumpTableEntry = errors.New("pvm: jump-table entry targets a non-instruction byte")
)

// maxSkip bounds the skip-distance scan per §4.A: no instruction is ever
// treated as longer than 24 bytes including its opcode.
const maxSkip = 24

// Program is the decoded, immutable form of a program blob (§4.A). Once
// decoded it is never mutated; the interpreter treats Code, Mask, Skip, and
// JumpTable as shared read-only views for the invocation's lifetime.
type Program struct {
	ROData []byte
	RWData []byte

	// StackPages is z, the stack page count from the blob header.
	StackPages uint16
	// StackBytes is s, the stack region size in bytes.
	StackBytes uint32

	Code []byte
	// Mask has one entry per code byte; true marks the start of an
	// instruction.
	Mask []bool
	// Skip[i], valid only where Mask[i] is true, is the precomputed
	// instruction length minus one (capped at maxSkip-1).
	Skip []uint8

	// JumpTable holds the ordered absolute code offsets used by indirect
	// jumps, each originally encoded in JTWidth bytes.
	JumpTable []uint32
	JTWidth   uint8
}

// Decode parses a program blob per §4.A. On any structural violation it
// returns a wrapped ErrTruncatedBlob / ErrDeclaredLengthOverflow /
// ErrBadJumpTableEntry; Invoke treats any decode error as an immediate Panic
// (NewState takes an already decoded Program).
func Decode(blob []byte) (*Program, error) {
	r := &reader{buf: blob}

	oLen, err := r.uintN(3)
	if err != nil {
		return nil, err
	}
	wLen, err := r.uintN(3)
	if err != nil {
		return nil, err
	}
	z, err := r.uintN(2)
	if err != nil {
		return nil, err
	}
	s, err := r.uintN(3)
	if err != nil {
		return nil, err
	}
	roData, err := r.bytes(int(oLen))
	if err != nil {
		return nil, err
	}
	rwData, err := r.bytes(int(wLen))
	if err != nil {
		return nil, err
	}
	cLen, err := r.uintN(4)
	if err != nil {
		return nil, err
	}
	codeBlob, err := r.bytes(int(cLen))
	if err != nil {
		return nil, err
	}

	p := &Program{
		ROData:     roData,
		RWData:     rwData,
		StackPages: uint16(z),
		StackBytes: uint32(s),
	}
	if err := decodeCodeBlob(p, codeBlob); err != nil {
		return nil, err
	}
	return p, nil
}

// decodeCodeBlob parses the `c` sub-blob: jump table, code, and mask.
func decodeCodeBlob(p *Program, blob []byte) error {
	cr := &reader{buf: blob}

	jtLen, n, err := readVarint(cr.buf[cr.pos:])
	if err != nil {
		return err
	}
	cr.pos += n

	jtWidth, err := cr.byte()
	if err != nil {
		return err
	}

	codeLen, n, err := readVarint(cr.buf[cr.pos:])
	if err != nil {
		return err
	}
	cr.pos += n

	jt := make([]uint32, jtLen)
	for i := range jt {
		entry, err := cr.uintN(int(jtWidth))
		if err != nil {
			return err
		}
		jt[i] = uint32(entry)
	}

	code, err := cr.bytes(int(codeLen))
	if err != nil {
		return err
	}

	maskLen := (int(codeLen) + 7) / 8
	maskBytes, err := cr.bytes(maskLen)
	if err != nil {
		return err
	}
	mask := make([]bool, codeLen)
	for i := range mask {
		mask[i] = maskBytes[i/8]&(1<<uint(i%8)) != 0
	}

	for _, off := range jt {
		if int(off) >= len(mask) || !mask[off] {
			return fmt.Errorf("%w: offset %d", ErrBadJumpTableEntry, off)
		}
	}

	p.Code = code
	p.Mask = mask
	p.Skip = computeSkip(mask)
	p.JumpTable = jt
	p.JTWidth = jtWidth
	return nil
}

// computeSkip fills skip[i] = min(nextTrue(i) - i, maxSkip) - 1 for every i
// with mask[i] true, where nextTrue(i) is the next set mask index (or
// len(mask)), per §4.A. This gives each opcode's instruction length (skip+1
// bytes including the opcode) in O(1) during interpretation.
func computeSkip(mask []bool) []uint8 {
	skip := make([]uint8, len(mask))
	next := len(mask)
	for i := len(mask) - 1; i >= 0; i-- {
		if !mask[i] {
			continue
		}
		d := next - i
		if d > maxSkip {
			d = maxSkip
		}
		skip[i] = uint8(d - 1)
		next = i
	}
	return skip
}

// reader is a small cursor over a byte slice used while decoding. All
// multi-byte integers are little-endian per §9.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncatedBlob
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length", ErrDeclaredLengthOverflow)
	}
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrDeclaredLengthOverflow, n, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// uintN reads a fixed-width n-byte little-endian unsigned integer (n in
// 0..8).
func (r *reader) uintN(n int) (uint64, error) {
	b, err := r.bytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i, by := range b {
		v |= uint64(by) << uint(8*i)
	}
	return v, nil
}
