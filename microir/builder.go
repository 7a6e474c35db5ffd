package microir

import "github.com/tetrazero/codegen/register"

// Builder is an append-only micro-instruction recorder, one per function.
// Its methods are total: no validity checking
// is performed here — width compatibility, register class, and addressing
// legality are deferred to legalization and encoding.
type Builder struct {
	instrs     []Instr
	operands   operandStore
	jumpTokens []jumpTokenRecord

	nextVirtualInt   uint16
	nextVirtualFloat uint16
}

// NewBuilder constructs an empty builder for one function.
func NewBuilder() *Builder { return &Builder{} }

// NewVirtualInt allocates a fresh virtual integer register, unique within
// this builder.
func (b *Builder) NewVirtualInt() register.Reg {
	if b.nextVirtualInt > 255 {
		panic("BUG: exhausted virtual integer register ids for this function")
	}
	r := register.VirtualInt(uint8(b.nextVirtualInt))
	b.nextVirtualInt++
	return r
}

// NewVirtualFloat allocates a fresh virtual float register, unique within
// this builder.
func (b *Builder) NewVirtualFloat() register.Reg {
	if b.nextVirtualFloat > 255 {
		panic("BUG: exhausted virtual float register ids for this function")
	}
	r := register.VirtualFloat(uint8(b.nextVirtualFloat))
	b.nextVirtualFloat++
	return r
}

// Len returns the number of instructions recorded so far.
func (b *Builder) Len() int { return len(b.instrs) }

// InstrAt returns the instruction at position i.
func (b *Builder) InstrAt(i int) Instr { return b.instrs[i] }

// Operands returns the operand span belonging to instruction i.
func (b *Builder) Operands(i int) []Operand {
	ins := b.instrs[i]
	return b.operands.span(ins.operandsStart, ins.operandsCount)
}

// SetOperand overwrites operand slot j of instruction i in place. Used by
// legalization and register allocation, which rewrite operands without
// changing instruction count.
func (b *Builder) SetOperand(i, j int, op Operand) {
	ins := b.instrs[i]
	if j < 0 || j >= int(ins.operandsCount) {
		panic("BUG: operand index out of range for instruction arity")
	}
	b.operands.slots[ins.operandsStart+uint32(j)] = op
}

// SetFlags overwrites the emit-flags bitset of instruction i.
func (b *Builder) SetFlags(i int, f EmitFlags) { b.instrs[i].Flags = f }

// InsertBefore splices extra instructions before position i, preserving
// program order (used by legalization to expand an issue into a rewritten
// sequence without removing the original site — the caller typically then
// overwrites or removes the original via Kind rewrite). Returns the new
// index of the instruction that was at i.
func (b *Builder) InsertBefore(i int, extra []Instr, extraOperands [][]Operand) int {
	if len(extra) != len(extraOperands) {
		panic("BUG: InsertBefore instruction/operand count mismatch")
	}
	inserted := make([]Instr, len(extra))
	for k, ins := range extra {
		start, count := b.operands.append(extraOperands[k]...)
		ins.operandsStart, ins.operandsCount = start, count
		inserted[k] = ins
	}
	tail := make([]Instr, len(b.instrs)-i)
	copy(tail, b.instrs[i:])
	b.instrs = append(b.instrs[:i], append(inserted, tail...)...)

	// Jump tokens address instructions by position; keep them pointing at
	// the same Jump after the splice.
	for k := range b.jumpTokens {
		if b.jumpTokens[k].instrIndex >= i {
			b.jumpTokens[k].instrIndex += len(extra)
		}
	}
	return i + len(extra)
}

// Replace overwrites instruction i in place with a new kind/operand set,
// preserving its position in program order. Used by legalization to turn,
// e.g., an OpBinaryRegImm whose immediate does not fit the target slot into
// an OpBinaryRegReg referencing a scratch register loaded just before it.
func (b *Builder) Replace(i int, kind Kind, flags EmitFlags, ops ...Operand) {
	arity, ok := declaredArity[kind]
	if !ok {
		panic("BUG: unknown micro-op kind")
	}
	if arity != len(ops) {
		panic("BUG: operand count does not match declared arity for kind")
	}
	start, count := b.operands.append(ops...)
	b.instrs[i] = Instr{Kind: kind, Flags: flags, operandsStart: start, operandsCount: count}
}

func (b *Builder) append(kind Kind, flags EmitFlags, ops ...Operand) int {
	arity, ok := declaredArity[kind]
	if !ok {
		panic("BUG: unknown micro-op kind")
	}
	if arity != len(ops) {
		panic("BUG: operand count does not match declared arity for kind")
	}
	start, count := b.operands.append(ops...)
	idx := len(b.instrs)
	b.instrs = append(b.instrs, Instr{Kind: kind, Flags: flags, operandsStart: start, operandsCount: count})
	return idx
}

// --- control / stack ---

func (b *Builder) Nop() int { return b.append(KindNop, FlagNone) }
func (b *Builder) Ret() int { return b.append(KindRet, FlagNone) }
func (b *Builder) Push(r register.Reg) int { return b.append(KindPush, FlagNone, regOperand(r)) }
func (b *Builder) Pop(r register.Reg) int  { return b.append(KindPop, FlagNone, regOperand(r)) }

// --- loads / stores / lea ---

func (b *Builder) LoadRegImm(dst register.Reg, imm uint64, width register.Width, flags EmitFlags) int {
	return b.append(KindLoadRegImm, flags, regOperand(dst), immU64Operand(imm), widthOperand(width))
}

func (b *Builder) LoadRegReg(dst, src register.Reg, width register.Width) int {
	return b.append(KindLoadRegReg, FlagNone, regOperand(dst), regOperand(src), widthOperand(width))
}

func (b *Builder) LoadRegMem(dst, base register.Reg, disp int32, width register.Width) int {
	return b.append(KindLoadRegMem, FlagNone, regOperand(dst), regOperand(base), immI32Operand(disp), widthOperand(width))
}

func (b *Builder) LoadMemReg(base register.Reg, disp int32, src register.Reg, width register.Width, flags EmitFlags) int {
	return b.append(KindLoadMemReg, flags, regOperand(base), immI32Operand(disp), regOperand(src), widthOperand(width))
}

func (b *Builder) LoadMemImm(base register.Reg, disp int32, imm uint64, width register.Width) int {
	return b.append(KindLoadMemImm, FlagNone, regOperand(base), immI32Operand(disp), immU64Operand(imm), widthOperand(width))
}

func (b *Builder) LeaRegMem(dst, base register.Reg, disp int32, width register.Width) int {
	return b.append(KindLeaRegMem, FlagNone, regOperand(dst), regOperand(base), immI32Operand(disp), widthOperand(width))
}

// LeaRegMemIndexed computes dst = base + index*scale + disp without
// dereferencing. scale must be 1, 2, 4, or 8; the
// encoder refuses any other value (legalizer must split first).
func (b *Builder) LeaRegMemIndexed(dst, base, index register.Reg, scale uint32, disp int32, width register.Width) int {
	return b.append(KindLeaRegMemIndexed, FlagNone, regOperand(dst), regOperand(base), regOperand(index), immU32Operand(scale), immI32Operand(disp), widthOperand(width))
}

// LoadRegMemIndexed loads dst = *(base + index*scale + disp).
func (b *Builder) LoadRegMemIndexed(dst, base, index register.Reg, scale uint32, disp int32, width register.Width) int {
	return b.append(KindLoadRegMemIndexed, FlagNone, regOperand(dst), regOperand(base), regOperand(index), immU32Operand(scale), immI32Operand(disp), widthOperand(width))
}

// LoadMemIndexedReg stores *(base + index*scale + disp) = src.
func (b *Builder) LoadMemIndexedReg(base, index register.Reg, scale uint32, disp int32, src register.Reg, width register.Width) int {
	return b.append(KindLoadMemIndexedReg, FlagNone, regOperand(base), regOperand(index), immU32Operand(scale), immI32Operand(disp), regOperand(src), widthOperand(width))
}

// LoadMemIndexedImm stores *(base + index*scale + disp) = imm.
func (b *Builder) LoadMemIndexedImm(base, index register.Reg, scale uint32, disp int32, imm uint64, width register.Width) int {
	return b.append(KindLoadMemIndexedImm, FlagNone, regOperand(base), regOperand(index), immU32Operand(scale), immI32Operand(disp), immU64Operand(imm), widthOperand(width))
}

func (b *Builder) MovSX(dst, src register.Reg, from, to register.Width) int {
	return b.append(KindMovSX, FlagNone, regOperand(dst), regOperand(src), widthOperand(from), widthOperand(to))
}

func (b *Builder) MovZX(dst, src register.Reg, from, to register.Width) int {
	return b.append(KindMovZX, FlagNone, regOperand(dst), regOperand(src), widthOperand(from), widthOperand(to))
}

// --- arithmetic ---

// OpUnaryReg applies an in-place unary op (ArithNeg, ArithNot) to dst.
func (b *Builder) OpUnaryReg(dst register.Reg, op ArithOp, width register.Width) int {
	return b.append(KindOpUnaryReg, FlagNone, regOperand(dst), arithOperand(op), widthOperand(width))
}

// OpUnaryMem applies an in-place unary op to *(base + disp).
func (b *Builder) OpUnaryMem(base register.Reg, disp int32, op ArithOp, width register.Width) int {
	return b.append(KindOpUnaryMem, FlagNone, regOperand(base), immI32Operand(disp), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpBinaryRegReg(dst, src register.Reg, op ArithOp, width register.Width) int {
	return b.append(KindOpBinaryRegReg, FlagNone, regOperand(dst), regOperand(src), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpBinaryRegMem(dst, base register.Reg, disp int32, op ArithOp, width register.Width) int {
	return b.append(KindOpBinaryRegMem, FlagNone, regOperand(dst), regOperand(base), immI32Operand(disp), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpBinaryMemReg(base register.Reg, disp int32, src register.Reg, op ArithOp, width register.Width, flags EmitFlags) int {
	return b.append(KindOpBinaryMemReg, flags, regOperand(base), immI32Operand(disp), regOperand(src), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpBinaryRegImm(dst register.Reg, imm uint64, op ArithOp, width register.Width) int {
	return b.append(KindOpBinaryRegImm, FlagNone, regOperand(dst), immU64Operand(imm), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpBinaryMemImm(base register.Reg, disp int32, imm uint64, op ArithOp, width register.Width) int {
	return b.append(KindOpBinaryMemImm, FlagNone, regOperand(base), immI32Operand(disp), immU64Operand(imm), arithOperand(op), widthOperand(width))
}

func (b *Builder) OpTernaryRegRegReg(a, c, d register.Reg, op ArithOp, width register.Width, flags EmitFlags) int {
	return b.append(KindOpTernaryRegRegReg, flags, regOperand(a), regOperand(c), regOperand(d), arithOperand(op), widthOperand(width))
}

// --- compare ---

func (b *Builder) CmpRegReg(a, c register.Reg, width register.Width) int {
	return b.append(KindCmpRegReg, FlagNone, regOperand(a), regOperand(c), widthOperand(width))
}

func (b *Builder) CmpRegImm(r register.Reg, imm uint64, width register.Width) int {
	return b.append(KindCmpRegImm, FlagNone, regOperand(r), immU64Operand(imm), widthOperand(width))
}

func (b *Builder) CmpRegMem(r, base register.Reg, disp int32, width register.Width) int {
	return b.append(KindCmpRegMem, FlagNone, regOperand(r), regOperand(base), immI32Operand(disp), widthOperand(width))
}

func (b *Builder) CmpMemReg(base register.Reg, disp int32, r register.Reg, width register.Width) int {
	return b.append(KindCmpMemReg, FlagNone, regOperand(base), immI32Operand(disp), regOperand(r), widthOperand(width))
}

func (b *Builder) CmpMemImm(base register.Reg, disp int32, imm uint64, width register.Width) int {
	return b.append(KindCmpMemImm, FlagNone, regOperand(base), immI32Operand(disp), immU64Operand(imm), widthOperand(width))
}

// --- conditional synthesis ---

func (b *Builder) SetCC(dst register.Reg, cond register.Cond, flags EmitFlags) int {
	return b.append(KindSetCC, flags, regOperand(dst), condOperand(cond))
}

func (b *Builder) CmovCC(dst, src register.Reg, cond register.Cond) int {
	return b.append(KindCmovCC, FlagNone, regOperand(dst), regOperand(src), condOperand(cond))
}

// --- shifts / multiply / bit ops ---

func (b *Builder) ShiftRegImm(dst register.Reg, imm uint64, op ArithOp, width register.Width) int {
	return b.append(KindShiftRegImm, FlagNone, regOperand(dst), immU64Operand(imm), arithOperand(op), widthOperand(width))
}

func (b *Builder) ShiftRegCL(dst register.Reg, op ArithOp, width register.Width) int {
	return b.append(KindShiftRegCL, FlagNone, regOperand(dst), arithOperand(op), widthOperand(width))
}

func (b *Builder) Imul2(dst, src register.Reg, width register.Width) int {
	return b.append(KindImul2, FlagNone, regOperand(dst), regOperand(src), widthOperand(width))
}

func (b *Builder) Imul3(dst, src register.Reg, imm uint64, width register.Width) int {
	return b.append(KindImul3, FlagNone, regOperand(dst), regOperand(src), immU64Operand(imm), widthOperand(width))
}

func (b *Builder) PopCount(dst, src register.Reg, width register.Width) int {
	return b.append(KindPopCount, FlagNone, regOperand(dst), regOperand(src), widthOperand(width))
}

func (b *Builder) BitScanForward(dst, src register.Reg, width register.Width) int {
	return b.append(KindBitScanForward, FlagNone, regOperand(dst), regOperand(src), widthOperand(width))
}

func (b *Builder) BitScanReverse(dst, src register.Reg, width register.Width) int {
	return b.append(KindBitScanReverse, FlagNone, regOperand(dst), regOperand(src), widthOperand(width))
}

func (b *Builder) ByteSwap(dst register.Reg, width register.Width, flags EmitFlags) int {
	return b.append(KindByteSwap, flags, regOperand(dst), widthOperand(width))
}

// --- float ---

func (b *Builder) FloatBinaryRegReg(dst, src register.Reg, op ArithOp, width register.Width) int {
	return b.append(KindFloatBinaryRegReg, FlagNone, regOperand(dst), regOperand(src), arithOperand(op), widthOperand(width))
}

func (b *Builder) FloatCmpRegReg(a, c register.Reg, width register.Width) int {
	return b.append(KindFloatCmpRegReg, FlagNone, regOperand(a), regOperand(c), widthOperand(width))
}

// FloatConvert covers int<->float conversion, and float<->float precision
// conversion when both registers are float-class (width selects the
// destination precision). Direction is inferred from dst/src register
// classes by the encoder. flags may carry CanEncode for a u64 source, but
// the amd64 encoder emits the same signed CVTSI2SD/SS form either way: a
// u64 source with its top bit set converts as a negative value.
func (b *Builder) FloatConvert(dst, src register.Reg, width register.Width, flags EmitFlags) int {
	return b.append(KindFloatConvert, flags, regOperand(dst), regOperand(src), widthOperand(width))
}

// --- calls ---

func (b *Builder) CallReg(target register.Reg) int {
	return b.append(KindCallReg, FlagNone, regOperand(target))
}

func (b *Builder) CallRel(name string) int {
	return b.append(KindCallRel, FlagNone, nameOperand(SymbolRef{Name: name, Kind: SymbolFunction}))
}

func (b *Builder) CallExtern(name string) int {
	return b.append(KindCallExtern, FlagNone, nameOperand(SymbolRef{Name: name, Kind: SymbolExtern}))
}

// --- jumps ---

// Jump records a conditional or unconditional jump of the given width
// (B8 short / B32 near) and returns a JumpToken consumed by a later
// PatchJump. kind == JumpUnconditional means
// cond is ignored by the encoder.
func (b *Builder) Jump(kind JumpKind, cond register.Cond, width register.Width) (int, JumpToken) {
	idx := b.append(KindJump, FlagNone, jumpKindOperand(kind), condOperand(cond), widthOperand(width))
	token := JumpToken{id: uint32(len(b.jumpTokens))}
	b.jumpTokens = append(b.jumpTokens, jumpTokenRecord{instrIndex: idx, width: width})
	return idx, token
}

// PatchJump without a destination patches to the current tail of the
// buffer; PatchJumpTo patches to a known absolute offset within the
// function's byte image.
func (b *Builder) PatchJump(token JumpToken) int {
	return b.append(KindPatchJump, FlagNone, tokenOperand(token), immU64Operand(0))
}

func (b *Builder) PatchJumpTo(token JumpToken, destination uint64) int {
	return b.append(KindPatchJump, FlagB64, tokenOperand(token), immU64Operand(destination))
}

// JumpReg records an indirect jump through a register holding an absolute
// code address.
func (b *Builder) JumpReg(target register.Reg) int {
	return b.append(KindJumpReg, FlagNone, regOperand(target))
}

// JumpTable records a computed jump through a table of 32-bit entries
// located at tableOffset within this function's byte image: tableReg is
// pointed at the table, the entry selected by offsetReg is sign-extended
// and added to it, and control transfers there. tableReg and offsetReg are
// both clobbered. entries is the table's element count.
func (b *Builder) JumpTable(tableReg, offsetReg register.Reg, tableOffset, entries uint32) int {
	return b.append(KindJumpTable, FlagNone, regOperand(tableReg), regOperand(offsetReg), immU32Operand(tableOffset), immU32Operand(entries))
}

// JumpTokenWidth looks up the declared width of the Jump instruction that
// produced token.
func (b *Builder) JumpTokenWidth(token JumpToken) register.Width {
	return b.jumpTokens[token.id].width
}

// JumpTokenInstrIndex returns the instruction index the token was produced
// at, used by the encoder to recover the jump's own starting offset.
func (b *Builder) JumpTokenInstrIndex(token JumpToken) int {
	return b.jumpTokens[token.id].instrIndex
}

// --- FFI ---

func (b *Builder) TrampolineLoadAndCall(target register.Reg) int {
	return b.append(KindTrampolineLoadAndCall, FlagNone, regOperand(target))
}
