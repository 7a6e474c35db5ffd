package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

func (e *Encoder) emit(b *microir.Builder, i int) error {
	ins := b.InstrAt(i)
	ops := b.Operands(i)

	switch ins.Kind {
	case microir.KindNop:
		e.buf = append(e.buf, 0x90)
	case microir.KindRet:
		e.buf = append(e.buf, 0xC3)
	case microir.KindPush:
		r := idx(ops[0].Reg)
		emitREX(&e.buf, false, false, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0x50+regField(r))
	case microir.KindPop:
		r := idx(ops[0].Reg)
		emitREX(&e.buf, false, false, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0x58+regField(r))

	case microir.KindLoadRegImm:
		return e.emitLoadRegImm(ops, ins.Flags)
	case microir.KindLoadRegReg:
		e.emitMovRegReg(ops[0].Reg, ops[1].Reg, ops[2].Width)
	case microir.KindLoadRegMem:
		e.emitLoadStoreReg(ops[0].Reg, ops[1].Reg, ops[2].ImmI32, ops[3].Width, true, ins.Flags)
	case microir.KindLoadMemReg:
		e.emitLoadStoreReg(ops[2].Reg, ops[0].Reg, ops[1].ImmI32, ops[3].Width, false, ins.Flags)
	case microir.KindLoadMemImm:
		return e.emitStoreMemImm(ops[0].Reg, ops[1].ImmI32, ops[2].ImmU64, ops[3].Width)
	case microir.KindLeaRegMem:
		e.emitLea(ops[0].Reg, ops[1].Reg, ops[2].ImmI32, ops[3].Width)
	case microir.KindLeaRegMemIndexed:
		e.emitLeaIndexed(ops[0].Reg, ops[1].Reg, ops[2].Reg, ops[3].ImmU32, ops[4].ImmI32, ops[5].Width)
	case microir.KindLoadRegMemIndexed:
		e.emitLoadIndexed(ops[0].Reg, ops[1].Reg, ops[2].Reg, ops[3].ImmU32, ops[4].ImmI32, ops[5].Width)
	case microir.KindLoadMemIndexedReg:
		e.emitStoreIndexedReg(ops[0].Reg, ops[1].Reg, ops[2].ImmU32, ops[3].ImmI32, ops[4].Reg, ops[5].Width)
	case microir.KindLoadMemIndexedImm:
		return e.emitStoreIndexedImm(ops[0].Reg, ops[1].Reg, ops[2].ImmU32, ops[3].ImmI32, ops[4].ImmU64, ops[5].Width)
	case microir.KindMovSX:
		e.emitMovExtend(ops[0].Reg, ops[1].Reg, ops[2].Width, ops[3].Width, true)
	case microir.KindMovZX:
		e.emitMovExtend(ops[0].Reg, ops[1].Reg, ops[2].Width, ops[3].Width, false)

	case microir.KindOpUnaryReg:
		return e.emitUnaryReg(ops[0].Reg, ops[1].Arith, ops[2].Width)
	case microir.KindOpUnaryMem:
		return e.emitUnaryMem(ops[0].Reg, ops[1].ImmI32, ops[2].Arith, ops[3].Width)
	case microir.KindOpBinaryRegReg:
		return e.emitBinaryRegReg(ops[0].Reg, ops[1].Reg, ops[2].Arith, ops[3].Width, ins.Flags)
	case microir.KindOpBinaryRegMem:
		e.emitBinaryRegMem(ops[0].Reg, ops[1].Reg, ops[2].ImmI32, ops[3].Arith, ops[4].Width, true)
	case microir.KindOpBinaryMemReg:
		e.emitBinaryMemReg(ops[0].Reg, ops[1].ImmI32, ops[2].Reg, ops[3].Arith, ops[4].Width, ins.Flags)
	case microir.KindOpBinaryRegImm:
		return e.emitBinaryRegImm(ops[0].Reg, ops[1].ImmU64, ops[2].Arith, ops[3].Width)
	case microir.KindOpBinaryMemImm:
		return e.emitBinaryMemImm(ops[0].Reg, ops[1].ImmI32, ops[2].ImmU64, ops[3].Arith, ops[4].Width)
	case microir.KindOpTernaryRegRegReg:
		return e.emitTernary(ops[0].Reg, ops[1].Reg, ops[2].Reg, ops[3].Arith, ops[4].Width, ins.Flags)

	case microir.KindCmpRegReg:
		e.emitCmpRegReg(ops[0].Reg, ops[1].Reg, ops[2].Width)
	case microir.KindCmpRegMem:
		e.emitCmpRegMem(ops[0].Reg, ops[1].Reg, ops[2].ImmI32, ops[3].Width)
	case microir.KindCmpMemReg:
		e.emitCmpMemReg(ops[0].Reg, ops[1].ImmI32, ops[2].Reg, ops[3].Width)
	case microir.KindCmpRegImm:
		e.emitCmpRegImm8Or32(ops[0].Reg, ops[1].ImmU64, ops[2].Width)
	case microir.KindCmpMemImm:
		return e.emitCmpMemImm(ops[0].Reg, ops[1].ImmI32, ops[2].ImmU64, ops[3].Width)

	case microir.KindSetCC:
		return e.emitSetCC(ops[0].Reg, ops[1].Cond, ins.Flags)
	case microir.KindCmovCC:
		return e.emitCmovCC(ops[0].Reg, ops[1].Reg, ops[2].Cond)

	case microir.KindShiftRegImm:
		e.emitShiftImm(ops[0].Reg, ops[1].ImmU64, ops[2].Arith, ops[3].Width)
	case microir.KindShiftRegCL:
		e.emitShiftCL(ops[0].Reg, ops[1].Arith, ops[2].Width)
	case microir.KindImul2:
		e.emitImul2(ops[0].Reg, ops[1].Reg, ops[2].Width)
	case microir.KindImul3:
		return e.emitImul3(ops[0].Reg, ops[1].Reg, ops[2].ImmU64, ops[3].Width)
	case microir.KindPopCount:
		e.emitPopCount(ops[0].Reg, ops[1].Reg, ops[2].Width)
	case microir.KindBitScanForward:
		e.emitBitScan(ops[0].Reg, ops[1].Reg, ops[2].Width, 0xBC)
	case microir.KindBitScanReverse:
		e.emitBitScan(ops[0].Reg, ops[1].Reg, ops[2].Width, 0xBD)
	case microir.KindByteSwap:
		e.emitByteSwap(ops[0].Reg, ops[1].Width)

	case microir.KindFloatBinaryRegReg:
		return e.emitFloatBinary(ops[0].Reg, ops[1].Reg, ops[2].Arith, ops[3].Width)
	case microir.KindFloatCmpRegReg:
		e.emitFloatCmp(ops[0].Reg, ops[1].Reg, ops[2].Width)
	case microir.KindFloatConvert:
		return e.emitFloatConvert(ops[0].Reg, ops[1].Reg, ops[2].Width, ins.Flags)

	case microir.KindCallReg:
		e.emitCallReg(ops[0].Reg)
	case microir.KindCallRel:
		e.emitCallRel(ops[0].Name.Name)
	case microir.KindCallExtern:
		e.emitCallExtern(ops[0].Name.Name)
	case microir.KindTrampolineLoadAndCall:
		e.emitCallReg(ops[0].Reg)

	case microir.KindJump:
		return e.emitJump(i, ops[0].JumpKind, ops[1].Cond, ops[2].Width)
	case microir.KindPatchJump:
		return e.emitPatchJump(b, ops[0].Token, ops[1].ImmU64, ins.Flags)
	case microir.KindJumpReg:
		e.emitJumpReg(ops[0].Reg)
	case microir.KindJumpTable:
		e.emitJumpTable(ops[0].Reg, ops[1].Reg, ops[2].ImmU32)

	default:
		return fmt.Errorf("unhandled instruction kind %v", ins.Kind)
	}
	return nil
}

// --- stack/mov ---

func (e *Encoder) emitLoadRegImm(ops []microir.Operand, flags microir.EmitFlags) error {
	dst, imm, width := ops[0].Reg, ops[1].ImmU64, ops[2].Width
	r := idx(dst)

	// Zero idiom: XOR r32, r32 clears the full 64-bit register in two or
	// three bytes regardless of the requested width.
	if imm == 0 && flags.Has(microir.FlagZero) {
		emitREX(&e.buf, false, rexBit(r) != 0, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0x31)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(r), regField(r)))
		return nil
	}

	if flags.Has(microir.FlagB64) {
		emitREX(&e.buf, true, false, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0xB8+regField(r))
		appendU64LE(&e.buf, imm)
		return nil
	}
	if width == register.B64 {
		switch {
		case imm <= 0xFFFFFFFF:
			// MOV r32, imm32 zero-fills the upper half; the shortest form
			// that still leaves the full 64-bit value in place.
			emitREX(&e.buf, false, false, false, rexBit(r) != 0, false)
			e.buf = append(e.buf, 0xB8+regField(r))
			appendU32LE(&e.buf, uint32(imm))
		case lowDwordSignExtends(imm):
			emitREX(&e.buf, true, false, false, rexBit(r) != 0, false)
			e.buf = append(e.buf, 0xC7)
			e.buf = append(e.buf, modRM(modRegisterDirect, 0, regField(r)))
			appendU32LE(&e.buf, uint32(imm))
		default:
			emitREX(&e.buf, true, false, false, rexBit(r) != 0, false)
			e.buf = append(e.buf, 0xB8+regField(r))
			appendU64LE(&e.buf, imm)
		}
		return nil
	}
	switch width {
	case register.B8:
		emitREX(&e.buf, false, false, false, rexBit(r) != 0, true)
		e.buf = append(e.buf, 0xB0+regField(r))
		e.buf = append(e.buf, byte(imm))
	case register.B16:
		e.buf = append(e.buf, 0x66)
		emitREX(&e.buf, false, false, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0xB8+regField(r))
		appendU16LE(&e.buf, uint16(imm))
	case register.B32:
		emitREX(&e.buf, false, false, false, rexBit(r) != 0, false)
		e.buf = append(e.buf, 0xB8+regField(r))
		appendU32LE(&e.buf, uint32(imm))
	default:
		return fmt.Errorf("load_reg_imm: unsupported width %v", width)
	}
	return nil
}

// emitMovRegReg covers both GPR and XMM register-register moves: MOV for
// int, MOVAPS/MOVAPD-equivalent MOVQ for float.
func (e *Encoder) emitMovRegReg(dst, src register.Reg, width register.Width) {
	if dst.IsFloat() || src.IsFloat() {
		e.emitFloatMove(dst, src, width)
		return
	}
	d, s := idx(dst), idx(src)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(s) != 0, false, rexBit(d) != 0, width == register.B8)
	op := byte(0x89)
	if width == register.B8 {
		op = 0x88
	}
	e.buf = append(e.buf, op)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(s), regField(d)))
}

// emitFloatMove moves between two XMM registers, or stages a GPR value
// into/out of an XMM register bit-for-bit (MOVQ, 66 0F 6E / 66 0F 7E),
// which is how rewriteLoadFloatRegImm's staged integer constant ends up in
// a float register.
func (e *Encoder) emitFloatMove(dst, src register.Reg, width register.Width) {
	d, s := idx(dst), idx(src)
	switch {
	case dst.IsFloat() && src.IsFloat():
		e.buf = append(e.buf, 0xF3)
		emitREX(&e.buf, false, rexBit(d) != 0, false, rexBit(s) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x7E) // MOVQ xmm,xmm
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
	case dst.IsFloat():
		e.buf = append(e.buf, 0x66)
		emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x6E)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
	default:
		e.buf = append(e.buf, 0x66)
		emitREX(&e.buf, width == register.B64, rexBit(s) != 0, false, rexBit(d) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x7E)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(s), regField(d)))
	}
}

func prefixWidth(buf *[]byte, width register.Width) {
	if width == register.B16 {
		*buf = append(*buf, 0x66)
	}
}

// emitLoadStoreReg covers LoadRegMem (isLoad=true) and LoadMemReg
// (isLoad=false): MOV r,m / MOV m,r.
func (e *Encoder) emitLoadStoreReg(reg, base register.Reg, disp int32, width register.Width, isLoad bool, flags microir.EmitFlags) {
	if reg.IsFloat() {
		e.emitFloatLoadStore(reg, base, disp, width, isLoad)
		return
	}
	if flags.Has(microir.FlagLock) {
		e.buf = append(e.buf, 0xF0)
	}
	r := idx(reg)
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(r) != 0, false, rexB, width == register.B8)
	var op byte
	switch {
	case isLoad && width == register.B8:
		op = 0x8A
	case isLoad:
		op = 0x8B
	case !isLoad && width == register.B8:
		op = 0x88
	default:
		op = 0x89
	}
	e.buf = append(e.buf, op)
	emitMemOperand(&e.buf, regField(r), base, disp)
}

func (e *Encoder) emitFloatLoadStore(xmm, base register.Reg, disp int32, width register.Width, isLoad bool) {
	x := idx(xmm)
	if width == register.B64 {
		e.buf = append(e.buf, 0xF2)
	} else {
		e.buf = append(e.buf, 0xF3)
	}
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, false, rexBit(x) != 0, false, rexB, false)
	if isLoad {
		e.buf = append(e.buf, 0x0F, 0x10) // MOVSS/MOVSD xmm, m
	} else {
		e.buf = append(e.buf, 0x0F, 0x11) // MOVSS/MOVSD m, xmm
	}
	emitMemOperand(&e.buf, regField(x), base, disp)
}

// emitStoreMemImm is MOV r/m,imm32 (opcode C7 /0); only reached for widths
// whose immediate already fits the dword slot (legalization splits the
// B64-overflow case ahead of the encoder).
func (e *Encoder) emitStoreMemImm(base register.Reg, disp int32, imm uint64, width register.Width) error {
	if width == register.B64 && !lowDwordSignExtends(imm) {
		return fmt.Errorf("store_mem_imm: 64-bit immediate 0x%x does not fit the dword slot", imm)
	}
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, false, false, rexB, false)
	op := byte(0xC7)
	if width == register.B8 {
		op = 0xC6
	}
	e.buf = append(e.buf, op)
	emitMemOperand(&e.buf, 0, base, disp)
	switch width {
	case register.B8:
		e.buf = append(e.buf, byte(imm))
	case register.B16:
		appendU16LE(&e.buf, uint16(imm))
	default:
		appendU32LE(&e.buf, uint32(imm))
	}
	return nil
}

func (e *Encoder) emitLea(dst, base register.Reg, disp int32, width register.Width) {
	d := idx(dst)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexB, false)
	e.buf = append(e.buf, 0x8D)
	emitMemOperand(&e.buf, regField(d), base, disp)
}

func (e *Encoder) emitLeaIndexed(dst, base, index register.Reg, scale uint32, disp int32, width register.Width) {
	d := idx(dst)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, rexBit(idx(index)) != 0, rexBit(idx(base)) != 0, false)
	e.buf = append(e.buf, 0x8D)
	emitMemOperandIndexed(&e.buf, regField(d), base, index, scale, disp)
}

func (e *Encoder) emitLoadIndexed(dst, base, index register.Reg, scale uint32, disp int32, width register.Width) {
	d := idx(dst)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, rexBit(idx(index)) != 0, rexBit(idx(base)) != 0, width == register.B8)
	op := byte(0x8B)
	if width == register.B8 {
		op = 0x8A
	}
	e.buf = append(e.buf, op)
	emitMemOperandIndexed(&e.buf, regField(d), base, index, scale, disp)
}

func (e *Encoder) emitStoreIndexedReg(base, index register.Reg, scale uint32, disp int32, src register.Reg, width register.Width) {
	s := idx(src)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(s) != 0, rexBit(idx(index)) != 0, rexBit(idx(base)) != 0, width == register.B8)
	op := byte(0x89)
	if width == register.B8 {
		op = 0x88
	}
	e.buf = append(e.buf, op)
	emitMemOperandIndexed(&e.buf, regField(s), base, index, scale, disp)
}

func (e *Encoder) emitStoreIndexedImm(base, index register.Reg, scale uint32, disp int32, imm uint64, width register.Width) error {
	if width == register.B64 && !lowDwordSignExtends(imm) {
		return fmt.Errorf("store_mem_indexed_imm: 64-bit immediate 0x%x does not fit the dword slot", imm)
	}
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, rexBit(idx(index)) != 0, rexBit(idx(base)) != 0, false)
	op := byte(0xC7)
	if width == register.B8 {
		op = 0xC6
	}
	e.buf = append(e.buf, op)
	emitMemOperandIndexed(&e.buf, 0, base, index, scale, disp)
	switch width {
	case register.B8:
		e.buf = append(e.buf, byte(imm))
	case register.B16:
		appendU16LE(&e.buf, uint16(imm))
	default:
		appendU32LE(&e.buf, uint32(imm))
	}
	return nil
}

// emitMovExtend covers MOVSX/MOVZX. `to` is
// always the destination's full width; `from` selects the opcode family.
// Zero-extending B32->B64 has no dedicated opcode: a plain 32-bit MOV
// already zero-fills the upper half of the destination register, so that
// case is encoded as MOV r32,r32 with no REX.W.
func (e *Encoder) emitMovExtend(dst, src register.Reg, from, to register.Width, signed bool) {
	d, s := idx(dst), idx(src)
	if !signed && from == register.B32 {
		emitREX(&e.buf, false, rexBit(s) != 0, false, rexBit(d) != 0, false)
		e.buf = append(e.buf, 0x89)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(s), regField(d)))
		return
	}

	prefixWidth(&e.buf, to)
	emitREX(&e.buf, to == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, from == register.B8)
	switch {
	case signed && from == register.B8:
		e.buf = append(e.buf, 0x0F, 0xBE)
	case signed && from == register.B16:
		e.buf = append(e.buf, 0x0F, 0xBF)
	case signed && from == register.B32:
		e.buf = append(e.buf, 0x63)
	case !signed && from == register.B8:
		e.buf = append(e.buf, 0x0F, 0xB6)
	default: // !signed && from == register.B16
		e.buf = append(e.buf, 0x0F, 0xB7)
	}
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
}
