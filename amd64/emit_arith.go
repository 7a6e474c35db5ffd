package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// binaryOpcode returns the "op r/m, r" (register-direction) opcode for a
// commutative/simple two-operand arithmetic op, plus whether it is encoded
// at all through this generic path (division, multiplication and the
// composite atomics each need their own sequence).
func binaryOpcode(op microir.ArithOp, width register.Width) (byte, bool) {
	table := map[microir.ArithOp]byte{
		microir.ArithAdd: 0x01,
		microir.ArithOr:  0x09,
		microir.ArithAnd: 0x21,
		microir.ArithSub: 0x29,
		microir.ArithXor: 0x31,
	}
	op8 := map[microir.ArithOp]byte{
		microir.ArithAdd: 0x00,
		microir.ArithOr:  0x08,
		microir.ArithAnd: 0x20,
		microir.ArithSub: 0x28,
		microir.ArithXor: 0x30,
	}
	if width == register.B8 {
		b, ok := op8[op]
		return b, ok
	}
	b, ok := table[op]
	return b, ok
}

// unaryExt is the ModRM.reg opcode-group extension for the 0xF6/0xF7
// unary family.
func unaryExt(op microir.ArithOp) (byte, error) {
	switch op {
	case microir.ArithNot:
		return 2, nil
	case microir.ArithNeg:
		return 3, nil
	default:
		return 0, fmt.Errorf("arith op %v has no unary form", op)
	}
}

func (e *Encoder) emitUnaryReg(dst register.Reg, op microir.ArithOp, width register.Width) error {
	ext, err := unaryExt(op)
	if err != nil {
		return err
	}
	d := idx(dst)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(d) != 0, width == register.B8)
	opc := byte(0xF7)
	if width == register.B8 {
		opc = 0xF6
	}
	e.buf = append(e.buf, opc)
	e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
	return nil
}

func (e *Encoder) emitUnaryMem(base register.Reg, disp int32, op microir.ArithOp, width register.Width) error {
	ext, err := unaryExt(op)
	if err != nil {
		return err
	}
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, false, false, rexB, width == register.B8)
	opc := byte(0xF7)
	if width == register.B8 {
		opc = 0xF6
	}
	e.buf = append(e.buf, opc)
	emitMemOperand(&e.buf, ext, base, disp)
	return nil
}

func (e *Encoder) emitBinaryRegReg(dst, src register.Reg, op microir.ArithOp, width register.Width, flags microir.EmitFlags) error {
	if dst.IsFloat() {
		return fmt.Errorf("op_binary_reg_reg: float operands must use FloatBinaryRegReg")
	}
	if isDivOrMod(op) {
		return e.emitDivMod(src, op, width)
	}
	if op == microir.ArithMulUnsigned {
		e.emitMulRAX(src, width)
		return nil
	}
	opcode, ok := binaryOpcode(op, width)
	if !ok {
		return fmt.Errorf("op_binary_reg_reg: arith op %v has no register-register form", op)
	}
	if flags.Has(microir.FlagLock) {
		e.buf = append(e.buf, 0xF0)
	}
	d, s := idx(dst), idx(src)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(s) != 0, false, rexBit(d) != 0, width == register.B8)
	e.buf = append(e.buf, opcode)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(s), regField(d)))
	return nil
}

func (e *Encoder) emitBinaryRegMem(dst, base register.Reg, disp int32, op microir.ArithOp, width register.Width, isLoad bool) {
	opcode, _ := binaryOpcode(op, width)
	// ADD r, m form uses opcode+2 (the reg<-rm direction bit), e.g. 0x03
	// instead of 0x01.
	opcode += 2
	d := idx(dst)
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexB, width == register.B8)
	e.buf = append(e.buf, opcode)
	emitMemOperand(&e.buf, regField(d), base, disp)
}

func (e *Encoder) emitBinaryMemReg(base register.Reg, disp int32, src register.Reg, op microir.ArithOp, width register.Width, flags microir.EmitFlags) {
	opcode, _ := binaryOpcode(op, width)
	if flags.Has(microir.FlagLock) {
		e.buf = append(e.buf, 0xF0)
	}
	s := idx(src)
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(s) != 0, false, rexB, width == register.B8)
	e.buf = append(e.buf, opcode)
	emitMemOperand(&e.buf, regField(s), base, disp)
}

func isDivOrMod(op microir.ArithOp) bool {
	switch op {
	case microir.ArithDivUnsigned, microir.ArithDivSigned, microir.ArithModUnsigned, microir.ArithModSigned:
		return true
	default:
		return false
	}
}

// emitDivMod expands a divide/modulo into the implicit-RAX:RDX sequence
//: sign/zero-extend RAX into RDX:RAX, divide by
// the explicit divisor register, then (for modulo) move the remainder out
// of RDX back into RAX.
func (e *Encoder) emitDivMod(divisor register.Reg, op microir.ArithOp, width register.Width) error {
	signed := op == microir.ArithDivSigned || op == microir.ArithModSigned
	if signed {
		e.emitCqo(width)
	} else {
		e.emitXorRdxRdx(width)
	}

	dv := idx(divisor)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(dv) != 0, width == register.B8)
	op8 := byte(0xF7)
	if width == register.B8 {
		op8 = 0xF6
	}
	ext := byte(6) // DIV
	if signed {
		ext = 7 // IDIV
	}
	e.buf = append(e.buf, op8)
	e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(dv)))

	if op == microir.ArithModSigned || op == microir.ArithModUnsigned {
		// mov rax, rdx
		emitREX(&e.buf, width == register.B64, false, false, false, false)
		e.buf = append(e.buf, 0x89)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(register.RDX), regField(register.RAX)))
	}
	return nil
}

// emitMulRAX is the one-operand unsigned multiply: RAX × src into RDX:RAX
// (opcode F7 /4). The dst operand is implicitly RAX.
func (e *Encoder) emitMulRAX(src register.Reg, width register.Width) {
	s := idx(src)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(s) != 0, width == register.B8)
	op := byte(0xF7)
	if width == register.B8 {
		op = 0xF6
	}
	e.buf = append(e.buf, op)
	e.buf = append(e.buf, modRM(modRegisterDirect, 4, regField(s)))
}

func (e *Encoder) emitCqo(width register.Width) {
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, false, false)
	e.buf = append(e.buf, 0x99)
}

func (e *Encoder) emitXorRdxRdx(width register.Width) {
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, false, false)
	e.buf = append(e.buf, 0x31)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(register.RDX), regField(register.RDX)))
}

// emitTernary covers CMPXCHG and XCHG against a base-only, disp-0 memory
// operand: a=implicit RAX comparand (CMPXCHG only,
// not separately encoded), c=memory base, d=register operand.
func (e *Encoder) emitTernary(a, c, d register.Reg, op microir.ArithOp, width register.Width, flags microir.EmitFlags) error {
	if flags.Has(microir.FlagLock) {
		e.buf = append(e.buf, 0xF0)
	}
	dd := idx(d)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(dd) != 0, false, rexBit(idx(c)) != 0, width == register.B8)
	switch op {
	case microir.ArithCmpXchg:
		e.buf = append(e.buf, 0x0F, 0xB1)
	case microir.ArithXchg:
		op87 := byte(0x87)
		if width == register.B8 {
			op87 = 0x86
		}
		e.buf = append(e.buf, op87)
	default:
		return fmt.Errorf("op_ternary_reg_reg_reg: unsupported arith op %v", op)
	}
	emitMemOperand(&e.buf, regField(dd), c, 0)
	return nil
}

// --- compare ---

func (e *Encoder) emitCmpRegReg(a, c register.Reg, width register.Width) {
	ac, cc := idx(a), idx(c)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(cc) != 0, false, rexBit(ac) != 0, width == register.B8)
	op := byte(0x39)
	if width == register.B8 {
		op = 0x38
	}
	e.buf = append(e.buf, op)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(cc), regField(ac)))
}

func (e *Encoder) emitCmpRegMem(r, base register.Reg, disp int32, width register.Width) {
	rr := idx(r)
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(rr) != 0, false, rexB, width == register.B8)
	op := byte(0x3B)
	if width == register.B8 {
		op = 0x3A
	}
	e.buf = append(e.buf, op)
	emitMemOperand(&e.buf, regField(rr), base, disp)
}

func (e *Encoder) emitCmpMemReg(base register.Reg, disp int32, r register.Reg, width register.Width) {
	rr := idx(r)
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, rexBit(rr) != 0, false, rexB, width == register.B8)
	op := byte(0x39)
	if width == register.B8 {
		op = 0x38
	}
	e.buf = append(e.buf, op)
	emitMemOperand(&e.buf, regField(rr), base, disp)
}

// emitCmpRegImm8Or32 is used once the immediate is known to fit (legalize
// clamps anything wider into a register first).
func (e *Encoder) emitCmpRegImm8Or32(r register.Reg, imm uint64, width register.Width) {
	rr := idx(r)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(rr) != 0, width == register.B8)
	if width != register.B8 && lowByteSignExtends(imm) {
		e.buf = append(e.buf, 0x83)
		e.buf = append(e.buf, modRM(modRegisterDirect, 7, regField(rr)))
		e.buf = append(e.buf, byte(imm))
		return
	}
	op := byte(0x81)
	if width == register.B8 {
		op = 0x80
	}
	e.buf = append(e.buf, op)
	e.buf = append(e.buf, modRM(modRegisterDirect, 7, regField(rr)))
	switch width {
	case register.B8:
		e.buf = append(e.buf, byte(imm))
	case register.B16:
		appendU16LE(&e.buf, uint16(imm))
	default:
		appendU32LE(&e.buf, uint32(imm))
	}
}
