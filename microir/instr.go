package microir

import (
	"fmt"

	"github.com/tetrazero/codegen/register"
)

// Kind tags a micro-instruction variant. Each Kind has a fixed declared
// arity, checked by Builder.append.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNop
	KindRet
	KindPush
	KindPop
	KindLoadRegImm
	KindLoadRegReg
	KindLoadRegMem
	KindLoadMemReg
	KindLoadMemImm
	KindLeaRegMem
	KindLeaRegMemIndexed
	KindLoadRegMemIndexed
	KindLoadMemIndexedReg
	KindLoadMemIndexedImm
	KindMovSX
	KindMovZX
	KindOpUnaryReg
	KindOpUnaryMem
	KindOpBinaryRegReg
	KindOpBinaryRegMem
	KindOpBinaryMemReg
	KindOpBinaryRegImm
	KindOpBinaryMemImm
	KindOpTernaryRegRegReg
	KindCmpRegReg
	KindCmpRegImm
	KindCmpRegMem
	KindCmpMemReg
	KindCmpMemImm
	KindSetCC
	KindCmovCC
	KindShiftRegImm
	KindShiftRegCL
	KindImul2
	KindImul3
	KindPopCount
	KindBitScanForward
	KindBitScanReverse
	KindByteSwap
	KindFloatBinaryRegReg
	KindFloatCmpRegReg
	KindFloatConvert
	KindCallReg
	KindCallRel
	KindCallExtern
	KindJump
	KindPatchJump
	KindJumpReg
	KindJumpTable
	KindTrampolineLoadAndCall
)

// declaredArity maps each Kind to its fixed operand count. Builders must
// supply exactly this many operand slots.
var declaredArity = map[Kind]int{
	KindNop:                   0,
	KindRet:                   0,
	KindPush:                  1,
	KindPop:                   1,
	KindLoadRegImm:            3, // dst, imm, width
	KindLoadRegReg:            3, // dst, src, width
	KindLoadRegMem:            4, // dst, base, disp, width
	KindLoadMemReg:            4, // base, disp, src, width
	KindLoadMemImm:            4, // base, disp, imm, width
	KindLeaRegMem:             4, // dst, base, disp, width (base register.InstructionPointer selects rip-relative)
	KindLeaRegMemIndexed:      6, // dst, base, index, scale, disp, width
	KindLoadRegMemIndexed:     6, // dst, base, index, scale, disp, width
	KindLoadMemIndexedReg:     6, // base, index, scale, disp, src, width
	KindLoadMemIndexedImm:     6, // base, index, scale, disp, imm, width
	KindMovSX:                 4, // dst, src, fromWidth, toWidth
	KindMovZX:                 4, // dst, src, fromWidth, toWidth
	KindOpUnaryReg:            3, // dst, arith, width
	KindOpUnaryMem:            4, // base, disp, arith, width
	KindOpBinaryRegReg:        4, // dst, src, arith, width
	KindOpBinaryRegMem:        5, // dst, base, disp, arith, width
	KindOpBinaryMemReg:        5, // base, disp, src, arith, width
	KindOpBinaryRegImm:        4, // dst, imm, arith, width
	KindOpBinaryMemImm:        5, // base, disp, imm, arith, width
	KindOpTernaryRegRegReg:    5, // a, b, c, arith, width
	KindCmpRegReg:             3, // a, b, width
	KindCmpRegImm:             3, // a, imm, width
	KindCmpRegMem:             4, // reg, base, disp, width
	KindCmpMemReg:             4, // base, disp, reg, width
	KindCmpMemImm:             4, // base, disp, imm, width
	KindSetCC:                 2, // dst, cond
	KindCmovCC:                3, // dst, src, cond
	KindShiftRegImm:           4, // dst, imm, arith, width
	KindShiftRegCL:            3, // dst, arith, width
	KindImul2:                 3, // dst, src, width
	KindImul3:                 4, // dst, src, imm, width
	KindPopCount:              3, // dst, src, width
	KindBitScanForward:        3, // dst, src, width
	KindBitScanReverse:        3, // dst, src, width
	KindByteSwap:              2, // dst, width
	KindFloatBinaryRegReg:     4, // dst, src, arith, width
	KindFloatCmpRegReg:        3, // a, b, width
	KindFloatConvert:          3, // dst, src, (int<->float & width encoded by reg class + width)
	KindCallReg:               1, // target reg
	KindCallRel:               1, // symbol name
	KindCallExtern:            1, // symbol name
	KindJump:                  3, // jump-kind, cond, width
	KindPatchJump:             2, // token, destination (ImmU64; FlagB64 marks an explicit destination, else patch to tail)
	KindJumpReg:               1, // target reg holding an absolute code address
	KindJumpTable:             4, // table base reg, offset reg, table byte offset, entry count
	KindTrampolineLoadAndCall: 1, // target reg holding absolute function pointer
}

// EmitFlags is a small bitset of per-instruction emission modifiers.
type EmitFlags uint8

const (
	FlagNone      EmitFlags = 0
	FlagOverflow  EmitFlags = 1 << 0
	FlagLock      EmitFlags = 1 << 1
	FlagB64       EmitFlags = 1 << 2 // force 64-bit absolute immediate form
	FlagCanEncode EmitFlags = 1 << 3 // permit synthesizing a multi-instruction sequence
	FlagZero      EmitFlags = 1 << 4 // on a LoadRegImm of 0, selects the encoder's XOR zero idiom
)

func (f EmitFlags) Has(bit EmitFlags) bool { return f&bit != 0 }

// JumpToken is an opaque identifier for a forward branch whose displacement
// is written later by PatchJump.
type JumpToken struct {
	id uint32
}

// jumpTokenRecord is the builder-side side-table entry addressed by a
// JumpToken: the index of the Jump instruction that produced
// it, plus the declared width (B8 short form vs B32 near form).
type jumpTokenRecord struct {
	instrIndex int
	width      register.Width
}

// Instr is one micro-op record: a Kind, emission flags, and a reference into
// the builder's paged operand store (start, count) rather than an inline
// slice, avoiding a per-instruction heap allocation.
type Instr struct {
	Kind          Kind
	Flags         EmitFlags
	operandsStart uint32
	operandsCount uint8
}

func (i Instr) String() string {
	return fmt.Sprintf("%s flags=%d operands=[%d..%d)", kindName(i.Kind), i.Flags, i.operandsStart, i.operandsStart+uint32(i.operandsCount))
}

func kindName(k Kind) string {
	names := map[Kind]string{
		KindInvalid: "invalid", KindNop: "nop", KindRet: "ret", KindPush: "push", KindPop: "pop",
		KindLoadRegImm: "load_reg_imm", KindLoadRegReg: "load_reg_reg", KindLoadRegMem: "load_reg_mem",
		KindLoadMemReg: "load_mem_reg", KindLoadMemImm: "load_mem_imm", KindLeaRegMem: "lea_reg_mem",
		KindLeaRegMemIndexed: "lea_reg_mem_indexed", KindLoadRegMemIndexed: "load_reg_mem_indexed",
		KindLoadMemIndexedReg: "load_mem_indexed_reg", KindLoadMemIndexedImm: "load_mem_indexed_imm",
		KindMovSX: "movsx", KindMovZX: "movzx",
		KindOpUnaryReg: "op_unary_reg", KindOpUnaryMem: "op_unary_mem",
		KindOpBinaryRegReg: "op_binary_reg_reg", KindOpBinaryRegMem: "op_binary_reg_mem",
		KindOpBinaryMemReg: "op_binary_mem_reg", KindOpBinaryRegImm: "op_binary_reg_imm",
		KindOpBinaryMemImm: "op_binary_mem_imm", KindOpTernaryRegRegReg: "op_ternary_reg_reg_reg",
		KindCmpRegReg: "cmp_reg_reg", KindCmpRegImm: "cmp_reg_imm", KindCmpRegMem: "cmp_reg_mem",
		KindCmpMemReg: "cmp_mem_reg", KindCmpMemImm: "cmp_mem_imm",
		KindSetCC: "setcc", KindCmovCC: "cmovcc", KindShiftRegImm: "shift_reg_imm", KindShiftRegCL: "shift_reg_cl",
		KindImul2: "imul2", KindImul3: "imul3", KindPopCount: "popcnt",
		KindBitScanForward: "bsf", KindBitScanReverse: "bsr", KindByteSwap: "bswap",
		KindFloatBinaryRegReg: "float_binary_reg_reg", KindFloatCmpRegReg: "float_cmp_reg_reg",
		KindFloatConvert: "float_convert", KindCallReg: "call_reg", KindCallRel: "call_rel",
		KindCallExtern: "call_extern", KindJump: "jump", KindPatchJump: "patch_jump",
		KindJumpReg: "jump_reg", KindJumpTable: "jump_table",
		KindTrampolineLoadAndCall: "trampoline_load_and_call",
	}
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}
