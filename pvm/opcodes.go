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

// Opcode is an 8-bit instruction code. §4.D fixes the semantics of each
// class but leaves the numeric encodings to the blob format; what matters
// here is that every class is dispatchable and that the encoding is
// internally consistent between the assembler, decoder, and disassembler.
type Opcode uint8

// instrClass groups opcodes that share an operand-decoding shape. The
// interpreter's fetch loop switches on class first, then on Opcode, which
// keeps the 185-entry semantic surface from requiring 185 hand-written
// operand-decode blocks (only a dozen or so decoding shapes exist).
type instrClass uint8

const (
	classControl instrClass = iota
	classLoadImm
	classLoadImm64
	classLoadStoreDirect  // [reg][addr:4]
	classLoadStoreIndirect // [rd|rb][imm: skip-1]
	classStoreImm          // [addr:4][imm_val: n/8]
	classStoreImmInd       // [rb][imm_addr:4][imm_val: n/8]
	classALURR3            // [rd|rb][_|rc]
	classALURR2            // [rd|rb]
	classALURI             // [rd|rb][imm: skip-1]
	classBranchRR          // [ra|rb][offset: skip-1]
	classBranchRI          // [ra|_][cmp imm:4][offset: skip-5]
	classJump              // [offset: skip]
	classLoadImmJump        // [rd][value:4][offset: skip-5]
	classJumpInd            // [rb][offset: skip-1]
	classLoadImmJumpInd     // [ra|rb][value:4][offset: skip-5]
	classSbrk               // [rd|rb]
	classReserved           // memset: no defined execution
)

const (
	// ---- Control -------------------------------------------------------
	OpTrap Opcode = iota
	OpFallthrough
	OpEcalli

	// ---- Immediate load --------------------------------------------------
	OpLoadImm
	OpLoadImm64

	// ---- Direct loads/stores ---------------------------------------------
	OpLoadU8
	OpLoadU16
	OpLoadU32
	OpLoadU64
	OpLoadI8
	OpLoadI16
	OpLoadI32
	OpLoadI64
	OpStoreU8
	OpStoreU16
	OpStoreU32
	OpStoreU64

	// ---- Indirect loads/stores ---------------------------------------------
	OpLoadIndU8
	OpLoadIndU16
	OpLoadIndU32
	OpLoadIndU64
	OpLoadIndI8
	OpLoadIndI16
	OpLoadIndI32
	OpLoadIndI64
	OpStoreIndU8
	OpStoreIndU16
	OpStoreIndU32
	OpStoreIndU64

	// ---- Immediate stores ---------------------------------------------
	OpStoreImmU8
	OpStoreImmU16
	OpStoreImmU32
	OpStoreImmU64
	OpStoreImmIndU8
	OpStoreImmIndU16
	OpStoreImmIndU32
	OpStoreImmIndU64

	// ---- ALU register-register (3-address) ---------------------------
	OpAdd32
	OpAdd64
	OpSub32
	OpSub64
	OpMul32
	OpMul64
	OpDivU32
	OpDivU64
	OpDivS32
	OpDivS64
	OpRemU32
	OpRemU64
	OpRemS32
	OpRemS64
	OpAnd
	OpOr
	OpXor
	OpAndInv
	OpOrInv
	OpXnor
	OpSetLtU
	OpSetLtS
	OpSetGtU
	OpSetGtS
	OpShloL32
	OpShloL64
	OpShloR32
	OpShloR64
	OpSharR32
	OpSharR64
	OpRotL32
	OpRotL64
	OpRotR32
	OpRotR64
	OpCmovIz
	OpCmovNz
	OpMulUpperSS
	OpMulUpperUU
	OpMulUpperSU
	OpMinU
	OpMinS
	OpMaxU
	OpMaxS

	// ---- ALU register-register (2-address, unary) ----------------------
	OpCountSetBits32
	OpCountSetBits64
	OpLeadingZeroBits32
	OpLeadingZeroBits64
	OpTrailingZeroBits32
	OpTrailingZeroBits64
	OpSignExtend8
	OpSignExtend16
	OpZeroExtend16
	OpReverseBytes

	// ---- ALU register-immediate (every 3-address op above, plus the two extras) ---
	OpAdd32Imm
	OpAdd64Imm
	OpSub32Imm
	OpSub64Imm
	OpNegAddImm32
	OpNegAddImm64
	OpMul32Imm
	OpMul64Imm
	OpMulUpperSSImm
	OpMulUpperUUImm
	OpMulUpperSUImm
	OpDivU32Imm
	OpDivU64Imm
	OpDivU32ImmAlt
	OpDivU64ImmAlt
	OpDivS32Imm
	OpDivS64Imm
	OpDivS32ImmAlt
	OpDivS64ImmAlt
	OpRemU32Imm
	OpRemU64Imm
	OpRemU32ImmAlt
	OpRemU64ImmAlt
	OpRemS32Imm
	OpRemS64Imm
	OpRemS32ImmAlt
	OpRemS64ImmAlt
	OpAndImm
	OpOrImm
	OpXorImm
	OpAndInvImm
	OpAndInvImmAlt
	OpOrInvImm
	OpOrInvImmAlt
	OpXnorImm
	OpSetLtUImm
	OpSetLtUImmAlt
	OpSetLtSImm
	OpSetLtSImmAlt
	OpSetGtUImm
	OpSetGtUImmAlt
	OpSetGtSImm
	OpSetGtSImmAlt
	OpShloL32Imm
	OpShloL64Imm
	OpShloL32ImmAlt
	OpShloL64ImmAlt
	OpShloR32Imm
	OpShloR64Imm
	OpShloR32ImmAlt
	OpShloR64ImmAlt
	OpSharR32Imm
	OpSharR64Imm
	OpSharR32ImmAlt
	OpSharR64ImmAlt
	OpRotL32Imm
	OpRotL64Imm
	OpRotL32ImmAlt
	OpRotL64ImmAlt
	OpRotR32Imm
	OpRotR64Imm
	OpRotR32ImmAlt
	OpRotR64ImmAlt
	OpCmovIzImm
	OpCmovNzImm
	OpMinUImm
	OpMinSImm
	OpMaxUImm
	OpMaxSImm

	// ---- Branches (register-register) ---------------------------------
	OpBranchEq
	OpBranchNe
	OpBranchLtU
	OpBranchLeU
	OpBranchGeU
	OpBranchGtU
	OpBranchLtS
	OpBranchLeS
	OpBranchGeS
	OpBranchGtS

	// ---- Branches (register-immediate) ---------------------------------
	OpBranchEqImm
	OpBranchNeImm
	OpBranchLtUImm
	OpBranchLeUImm
	OpBranchGeUImm
	OpBranchGtUImm
	OpBranchLtSImm
	OpBranchLeSImm
	OpBranchGeSImm
	OpBranchGtSImm

	// ---- Jumps -----------------------------------------------------------
	OpJump
	OpLoadImmJump
	OpJumpInd
	OpLoadImmJumpInd

	// ---- Special -----------------------------------------------------
	OpSbrk
	OpMemset // reserved, not required (§4.D)

	opcodeCount
)

// opInfo describes how to decode and, for ALU/branch immediate variants,
// which register-register operation to evaluate.
type opInfo struct {
	name  string
	class instrClass
	n     int // byte width for load/store classes (1,2,4,8)
	base  Opcode  // for *Imm/*ImmAlt and *BranchImm opcodes: the RR opcode
	        // that carries the actual arithmetic/comparison semantics
	reversed bool // true if the immediate supplies the first operand
}

var opTable = buildOpTable()

func buildOpTable() [opcodeCount]opInfo {
	var t [opcodeCount]opInfo
	set := func(op Opcode, name string, class instrClass) {
		t[op] = opInfo{name: name, class: class}
	}
	setN := func(op Opcode, name string, class instrClass, n int) {
		t[op] = opInfo{name: name, class: class, n: n}
	}
	setImm := func(op Opcode, name string, base Opcode, reversed bool) {
		t[op] = opInfo{name: name, class: classALURI, base: base, reversed: reversed}
	}
	setBranchImm := func(op Opcode, name string, base Opcode) {
		t[op] = opInfo{name: name, class: classBranchRI, base: base}
	}

	set(OpTrap, "trap", classControl)
	set(OpFallthrough, "fallthrough", classControl)
	set(OpEcalli, "ecalli", classControl)

	set(OpLoadImm, "load_imm", classLoadImm)
	set(OpLoadImm64, "load_imm_64", classLoadImm64)

	setN(OpLoadU8, "load_u8", classLoadStoreDirect, 1)
	setN(OpLoadU16, "load_u16", classLoadStoreDirect, 2)
	setN(OpLoadU32, "load_u32", classLoadStoreDirect, 4)
	setN(OpLoadU64, "load_u64", classLoadStoreDirect, 8)
	setN(OpLoadI8, "load_i8", classLoadStoreDirect, 1)
	setN(OpLoadI16, "load_i16", classLoadStoreDirect, 2)
	setN(OpLoadI32, "load_i32", classLoadStoreDirect, 4)
	setN(OpLoadI64, "load_i64", classLoadStoreDirect, 8)
	setN(OpStoreU8, "store_u8", classLoadStoreDirect, 1)
	setN(OpStoreU16, "store_u16", classLoadStoreDirect, 2)
	setN(OpStoreU32, "store_u32", classLoadStoreDirect, 4)
	setN(OpStoreU64, "store_u64", classLoadStoreDirect, 8)

	setN(OpLoadIndU8, "load_ind_u8", classLoadStoreIndirect, 1)
	setN(OpLoadIndU16, "load_ind_u16", classLoadStoreIndirect, 2)
	setN(OpLoadIndU32, "load_ind_u32", classLoadStoreIndirect, 4)
	setN(OpLoadIndU64, "load_ind_u64", classLoadStoreIndirect, 8)
	setN(OpLoadIndI8, "load_ind_i8", classLoadStoreIndirect, 1)
	setN(OpLoadIndI16, "load_ind_i16", classLoadStoreIndirect, 2)
	setN(OpLoadIndI32, "load_ind_i32", classLoadStoreIndirect, 4)
	setN(OpLoadIndI64, "load_ind_i64", classLoadStoreIndirect, 8)
	setN(OpStoreIndU8, "store_ind_u8", classLoadStoreIndirect, 1)
	setN(OpStoreIndU16, "store_ind_u16", classLoadStoreIndirect, 2)
	setN(OpStoreIndU32, "store_ind_u32", classLoadStoreIndirect, 4)
	setN(OpStoreIndU64, "store_ind_u64", classLoadStoreIndirect, 8)

	setN(OpStoreImmU8, "store_imm_u8", classStoreImm, 1)
	setN(OpStoreImmU16, "store_imm_u16", classStoreImm, 2)
	setN(OpStoreImmU32, "store_imm_u32", classStoreImm, 4)
	setN(OpStoreImmU64, "store_imm_u64", classStoreImm, 8)
	setN(OpStoreImmIndU8, "store_imm_ind_u8", classStoreImmInd, 1)
	setN(OpStoreImmIndU16, "store_imm_ind_u16", classStoreImmInd, 2)
	setN(OpStoreImmIndU32, "store_imm_ind_u32", classStoreImmInd, 4)
	setN(OpStoreImmIndU64, "store_imm_ind_u64", classStoreImmInd, 8)

	for _, o := range []struct {
		op   Opcode
		name string
	}{
		{OpAdd32, "add_32"}, {OpAdd64, "add_64"}, {OpSub32, "sub_32"}, {OpSub64, "sub_64"},
		{OpMul32, "mul_32"}, {OpMul64, "mul_64"},
		{OpDivU32, "div_u_32"}, {OpDivU64, "div_u_64"}, {OpDivS32, "div_s_32"}, {OpDivS64, "div_s_64"},
		{OpRemU32, "rem_u_32"}, {OpRemU64, "rem_u_64"}, {OpRemS32, "rem_s_32"}, {OpRemS64, "rem_s_64"},
		{OpAnd, "and"}, {OpOr, "or"}, {OpXor, "xor"}, {OpAndInv, "and_inv"}, {OpOrInv, "or_inv"}, {OpXnor, "xnor"},
		{OpSetLtU, "set_lt_u"}, {OpSetLtS, "set_lt_s"}, {OpSetGtU, "set_gt_u"}, {OpSetGtS, "set_gt_s"},
		{OpShloL32, "shlo_l_32"}, {OpShloL64, "shlo_l_64"}, {OpShloR32, "shlo_r_32"}, {OpShloR64, "shlo_r_64"},
		{OpSharR32, "shar_r_32"}, {OpSharR64, "shar_r_64"},
		{OpRotL32, "rot_l_32"}, {OpRotL64, "rot_l_64"}, {OpRotR32, "rot_r_32"}, {OpRotR64, "rot_r_64"},
		{OpCmovIz, "cmov_iz"}, {OpCmovNz, "cmov_nz"},
		{OpMulUpperSS, "mul_upper_ss"}, {OpMulUpperUU, "mul_upper_uu"}, {OpMulUpperSU, "mul_upper_su"},
		{OpMinU, "min_u"}, {OpMinS, "min_s"}, {OpMaxU, "max_u"}, {OpMaxS, "max_s"},
	} {
		set(o.op, o.name, classALURR3)
	}

	for _, o := range []struct {
		op   Opcode
		name string
	}{
		{OpCountSetBits32, "count_set_bits_32"}, {OpCountSetBits64, "count_set_bits_64"},
		{OpLeadingZeroBits32, "leading_zero_bits_32"}, {OpLeadingZeroBits64, "leading_zero_bits_64"},
		{OpTrailingZeroBits32, "trailing_zero_bits_32"}, {OpTrailingZeroBits64, "trailing_zero_bits_64"},
		{OpSignExtend8, "sign_extend_8"}, {OpSignExtend16, "sign_extend_16"},
		{OpZeroExtend16, "zero_extend_16"}, {OpReverseBytes, "reverse_bytes"},
	} {
		set(o.op, o.name, classALURR2)
	}

	setImm(OpAdd32Imm, "add_32_imm", OpAdd32, false)
	setImm(OpAdd64Imm, "add_64_imm", OpAdd64, false)
	setImm(OpSub32Imm, "sub_32_imm", OpSub32, false)
	setImm(OpSub64Imm, "sub_64_imm", OpSub64, false)
	setImm(OpNegAddImm32, "neg_add_imm_32", OpSub32, true)
	setImm(OpNegAddImm64, "neg_add_imm_64", OpSub64, true)
	setImm(OpMul32Imm, "mul_32_imm", OpMul32, false)
	setImm(OpMul64Imm, "mul_64_imm", OpMul64, false)
	// mul_upper has no _imm_alt forms: ss/uu are commutative, and su fixes
	// the signed operand in the register.
	setImm(OpMulUpperSSImm, "mul_upper_ss_imm", OpMulUpperSS, false)
	setImm(OpMulUpperUUImm, "mul_upper_uu_imm", OpMulUpperUU, false)
	setImm(OpMulUpperSUImm, "mul_upper_su_imm", OpMulUpperSU, false)
	setImm(OpDivU32Imm, "div_u_32_imm", OpDivU32, false)
	setImm(OpDivU64Imm, "div_u_64_imm", OpDivU64, false)
	setImm(OpDivU32ImmAlt, "div_u_32_imm_alt", OpDivU32, true)
	setImm(OpDivU64ImmAlt, "div_u_64_imm_alt", OpDivU64, true)
	setImm(OpDivS32Imm, "div_s_32_imm", OpDivS32, false)
	setImm(OpDivS64Imm, "div_s_64_imm", OpDivS64, false)
	setImm(OpDivS32ImmAlt, "div_s_32_imm_alt", OpDivS32, true)
	setImm(OpDivS64ImmAlt, "div_s_64_imm_alt", OpDivS64, true)
	setImm(OpRemU32Imm, "rem_u_32_imm", OpRemU32, false)
	setImm(OpRemU64Imm, "rem_u_64_imm", OpRemU64, false)
	setImm(OpRemU32ImmAlt, "rem_u_32_imm_alt", OpRemU32, true)
	setImm(OpRemU64ImmAlt, "rem_u_64_imm_alt", OpRemU64, true)
	setImm(OpRemS32Imm, "rem_s_32_imm", OpRemS32, false)
	setImm(OpRemS64Imm, "rem_s_64_imm", OpRemS64, false)
	setImm(OpRemS32ImmAlt, "rem_s_32_imm_alt", OpRemS32, true)
	setImm(OpRemS64ImmAlt, "rem_s_64_imm_alt", OpRemS64, true)
	setImm(OpAndImm, "and_imm", OpAnd, false)
	setImm(OpOrImm, "or_imm", OpOr, false)
	setImm(OpXorImm, "xor_imm", OpXor, false)
	setImm(OpAndInvImm, "and_inv_imm", OpAndInv, false)
	setImm(OpAndInvImmAlt, "and_inv_imm_alt", OpAndInv, true)
	setImm(OpOrInvImm, "or_inv_imm", OpOrInv, false)
	setImm(OpOrInvImmAlt, "or_inv_imm_alt", OpOrInv, true)
	setImm(OpXnorImm, "xnor_imm", OpXnor, false)
	setImm(OpSetLtUImm, "set_lt_u_imm", OpSetLtU, false)
	setImm(OpSetLtUImmAlt, "set_lt_u_imm_alt", OpSetLtU, true)
	setImm(OpSetLtSImm, "set_lt_s_imm", OpSetLtS, false)
	setImm(OpSetLtSImmAlt, "set_lt_s_imm_alt", OpSetLtS, true)
	setImm(OpSetGtUImm, "set_gt_u_imm", OpSetGtU, false)
	setImm(OpSetGtUImmAlt, "set_gt_u_imm_alt", OpSetGtU, true)
	setImm(OpSetGtSImm, "set_gt_s_imm", OpSetGtS, false)
	setImm(OpSetGtSImmAlt, "set_gt_s_imm_alt", OpSetGtS, true)
	setImm(OpShloL32Imm, "shlo_l_32_imm", OpShloL32, false)
	setImm(OpShloL64Imm, "shlo_l_64_imm", OpShloL64, false)
	setImm(OpShloL32ImmAlt, "shlo_l_32_imm_alt", OpShloL32, true)
	setImm(OpShloL64ImmAlt, "shlo_l_64_imm_alt", OpShloL64, true)
	setImm(OpShloR32Imm, "shlo_r_32_imm", OpShloR32, false)
	setImm(OpShloR64Imm, "shlo_r_64_imm", OpShloR64, false)
	setImm(OpShloR32ImmAlt, "shlo_r_32_imm_alt", OpShloR32, true)
	setImm(OpShloR64ImmAlt, "shlo_r_64_imm_alt", OpShloR64, true)
	setImm(OpSharR32Imm, "shar_r_32_imm", OpSharR32, false)
	setImm(OpSharR64Imm, "shar_r_64_imm", OpSharR64, false)
	setImm(OpSharR32ImmAlt, "shar_r_32_imm_alt", OpSharR32, true)
	setImm(OpSharR64ImmAlt, "shar_r_64_imm_alt", OpSharR64, true)
	setImm(OpRotL32Imm, "rot_l_32_imm", OpRotL32, false)
	setImm(OpRotL64Imm, "rot_l_64_imm", OpRotL64, false)
	setImm(OpRotL32ImmAlt, "rot_l_32_imm_alt", OpRotL32, true)
	setImm(OpRotL64ImmAlt, "rot_l_64_imm_alt", OpRotL64, true)
	setImm(OpRotR32Imm, "rot_r_32_imm", OpRotR32, false)
	setImm(OpRotR64Imm, "rot_r_64_imm", OpRotR64, false)
	setImm(OpRotR32ImmAlt, "rot_r_32_imm_alt", OpRotR32, true)
	setImm(OpRotR64ImmAlt, "rot_r_64_imm_alt", OpRotR64, true)
	setImm(OpCmovIzImm, "cmov_iz_imm", OpCmovIz, false)
	setImm(OpCmovNzImm, "cmov_nz_imm", OpCmovNz, false)
	setImm(OpMinUImm, "min_u_imm", OpMinU, false)
	setImm(OpMinSImm, "min_s_imm", OpMinS, false)
	setImm(OpMaxUImm, "max_u_imm", OpMaxU, false)
	setImm(OpMaxSImm, "max_s_imm", OpMaxS, false)

	for _, o := range []struct {
		op   Opcode
		name string
	}{
		{OpBranchEq, "branch_eq"}, {OpBranchNe, "branch_ne"},
		{OpBranchLtU, "branch_lt_u"}, {OpBranchLeU, "branch_le_u"},
		{OpBranchGeU, "branch_ge_u"}, {OpBranchGtU, "branch_gt_u"},
		{OpBranchLtS, "branch_lt_s"}, {OpBranchLeS, "branch_le_s"},
		{OpBranchGeS, "branch_ge_s"}, {OpBranchGtS, "branch_gt_s"},
	} {
		set(o.op, o.name, classBranchRR)
	}

	setBranchImm(OpBranchEqImm, "branch_eq_imm", OpBranchEq)
	setBranchImm(OpBranchNeImm, "branch_ne_imm", OpBranchNe)
	setBranchImm(OpBranchLtUImm, "branch_lt_u_imm", OpBranchLtU)
	setBranchImm(OpBranchLeUImm, "branch_le_u_imm", OpBranchLeU)
	setBranchImm(OpBranchGeUImm, "branch_ge_u_imm", OpBranchGeU)
	setBranchImm(OpBranchGtUImm, "branch_gt_u_imm", OpBranchGtU)
	setBranchImm(OpBranchLtSImm, "branch_lt_s_imm", OpBranchLtS)
	setBranchImm(OpBranchLeSImm, "branch_le_s_imm", OpBranchLeS)
	setBranchImm(OpBranchGeSImm, "branch_ge_s_imm", OpBranchGeS)
	setBranchImm(OpBranchGtSImm, "branch_gt_s_imm", OpBranchGtS)

	set(OpJump, "jump", classJump)
	set(OpLoadImmJump, "load_imm_jump", classLoadImmJump)
	set(OpJumpInd, "jump_ind", classJumpInd)
	set(OpLoadImmJumpInd, "load_imm_jump_ind", classLoadImmJumpInd)

	set(OpSbrk, "sbrk", classSbrk)
	set(OpMemset, "memset", classReserved)

	return t
}

// String returns the opcode's mnemonic, or "unknown" if op is out of range.
func (op Opcode) String() string {
	if int(op) >= len(opTable) || opTable[op].name == "" {
		return "unknown"
	}
	return opTable[op].name
}
