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

import "math/bits"

// signExtend32 sign-extends the low 32 bits of v to 64 bits, the rule every
// 32-bit ALU result is subject to before it is written back to a register
// (§4.D).
func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

// evalALUBinary computes the result of the register-register operation named
// by op against operands a and b. Immediate forms (classALURI) resolve their
// operands (selecting register vs. sign-extended-immediate, and swapping
// order for the "alt" variants) before calling this with op set to the
// opInfo.base RR opcode, so every arithmetic rule is written exactly once
// regardless of operand source.
//
// cmov_iz/cmov_nz are not handled here: a conditional move's result depends
// on the destination register's prior value, not just two operands, so the
// interpreter dispatches them directly.
func evalALUBinary(op Opcode, a, b uint64) uint64 {
	switch op {
	case OpAdd32:
		return signExtend32(uint32(a) + uint32(b))
	case OpAdd64:
		return a + b
	case OpSub32:
		return signExtend32(uint32(a) - uint32(b))
	case OpSub64:
		return a - b
	case OpMul32:
		return signExtend32(uint32(a) * uint32(b))
	case OpMul64:
		return a * b

	case OpDivU32:
		ua, ub := uint32(a), uint32(b)
		if ub == 0 {
			return 0xFFFFFFFFFFFFFFFF
		}
		return signExtend32(ua / ub)
	case OpDivU64:
		if b == 0 {
			return 0xFFFFFFFFFFFFFFFF
		}
		return a / b
	case OpDivS32:
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return 0xFFFFFFFFFFFFFFFF
		}
		if sa == -0x80000000 && sb == -1 {
			return signExtend32(uint32(sa))
		}
		return signExtend32(uint32(sa / sb))
	case OpDivS64:
		sa, sb := int64(a), int64(b)
		if sb == 0 {
			return 0xFFFFFFFFFFFFFFFF
		}
		if sa == -0x8000000000000000 && sb == -1 {
			return uint64(sa)
		}
		return uint64(sa / sb)

	case OpRemU32:
		ua, ub := uint32(a), uint32(b)
		if ub == 0 {
			return signExtend32(ua)
		}
		return signExtend32(ua % ub)
	case OpRemU64:
		if b == 0 {
			return a
		}
		return a % b
	case OpRemS32:
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return uint64(sa)
		}
		if sa == -0x80000000 && sb == -1 {
			return 0
		}
		return signExtend32(uint32(sa % sb))
	case OpRemS64:
		sa, sb := int64(a), int64(b)
		if sb == 0 {
			return uint64(sa)
		}
		if sa == -0x8000000000000000 && sb == -1 {
			return 0
		}
		return uint64(sa % sb)

	case OpAnd:
		return a & b
	case OpOr:
		return a | b
	case OpXor:
		return a ^ b
	case OpAndInv:
		return a &^ b
	case OpOrInv:
		return a | ^b
	case OpXnor:
		return ^(a ^ b)

	case OpSetLtU:
		return boolU64(a < b)
	case OpSetLtS:
		return boolU64(int64(a) < int64(b))
	case OpSetGtU:
		return boolU64(a > b)
	case OpSetGtS:
		return boolU64(int64(a) > int64(b))

	case OpShloL32:
		return signExtend32(uint32(a) << (uint32(b) & 31))
	case OpShloL64:
		return a << (b & 63)
	case OpShloR32:
		return signExtend32(uint32(a) >> (uint32(b) & 31))
	case OpShloR64:
		return a >> (b & 63)
	case OpSharR32:
		return signExtend32(uint32(int32(a) >> (uint32(b) & 31)))
	case OpSharR64:
		return uint64(int64(a) >> (b & 63))

	case OpRotL32:
		return signExtend32(bits.RotateLeft32(uint32(a), int(b&31)))
	case OpRotL64:
		return bits.RotateLeft64(a, int(b&63))
	case OpRotR32:
		return signExtend32(bits.RotateLeft32(uint32(a), -int(b&31)))
	case OpRotR64:
		return bits.RotateLeft64(a, -int(b&63))

	case OpMulUpperSS:
		hi, _ := bits.Mul64(uint64(int64(a)), uint64(int64(b)))
		// bits.Mul64 is unsigned; correct the high word for signed operands.
		hi -= uint64(a>>63) * b
		hi -= uint64(b>>63) * a
		return hi
	case OpMulUpperUU:
		hi, _ := bits.Mul64(a, b)
		return hi
	case OpMulUpperSU:
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		return hi

	case OpMinU:
		if a < b {
			return a
		}
		return b
	case OpMinS:
		if int64(a) < int64(b) {
			return a
		}
		return b
	case OpMaxU:
		if a > b {
			return a
		}
		return b
	case OpMaxS:
		if int64(a) > int64(b) {
			return a
		}
		return b
	}
	return 0
}

func boolU64(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// evalALUUnary computes the result of a 2-address ALU opcode against a.
func evalALUUnary(op Opcode, a uint64) uint64 {
	switch op {
	case OpCountSetBits32:
		return uint64(bits.OnesCount32(uint32(a)))
	case OpCountSetBits64:
		return uint64(bits.OnesCount64(a))
	case OpLeadingZeroBits32:
		return uint64(bits.LeadingZeros32(uint32(a)))
	case OpLeadingZeroBits64:
		return uint64(bits.LeadingZeros64(a))
	case OpTrailingZeroBits32:
		return uint64(bits.TrailingZeros32(uint32(a)))
	case OpTrailingZeroBits64:
		return uint64(bits.TrailingZeros64(a))
	case OpSignExtend8:
		return uint64(int64(int8(a)))
	case OpSignExtend16:
		return uint64(int64(int16(a)))
	case OpZeroExtend16:
		return uint64(uint16(a))
	case OpReverseBytes:
		return bits.ReverseBytes64(a)
	}
	return 0
}

// evalBranch evaluates the comparison named by an RR branch opcode (or, for
// an RI opcode, its opInfo.base RR opcode) against a and b.
func evalBranch(op Opcode, a, b uint64) bool {
	switch op {
	case OpBranchEq:
		return a == b
	case OpBranchNe:
		return a != b
	case OpBranchLtU:
		return a < b
	case OpBranchLeU:
		return a <= b
	case OpBranchGeU:
		return a >= b
	case OpBranchGtU:
		return a > b
	case OpBranchLtS:
		return int64(a) < int64(b)
	case OpBranchLeS:
		return int64(a) <= int64(b)
	case OpBranchGeS:
		return int64(a) >= int64(b)
	case OpBranchGtS:
		return int64(a) > int64(b)
	}
	return false
}
