package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

func shiftExt(op microir.ArithOp) (byte, error) {
	switch op {
	case microir.ArithRol:
		return 0, nil
	case microir.ArithRor:
		return 1, nil
	case microir.ArithShl:
		return 4, nil
	case microir.ArithShr:
		return 5, nil
	case microir.ArithSar:
		return 7, nil
	default:
		return 0, fmt.Errorf("arith op %v is not a shift/rotate", op)
	}
}

func (e *Encoder) emitShiftImm(dst register.Reg, imm uint64, op microir.ArithOp, width register.Width) {
	ext, err := shiftExt(op)
	if err != nil {
		panic("BUG: " + err.Error())
	}
	d := idx(dst)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(d) != 0, width == register.B8)
	if imm == 1 {
		op8 := byte(0xD1)
		if width == register.B8 {
			op8 = 0xD0
		}
		e.buf = append(e.buf, op8)
		e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
		return
	}
	op8 := byte(0xC1)
	if width == register.B8 {
		op8 = 0xC0
	}
	e.buf = append(e.buf, op8)
	e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
	e.buf = append(e.buf, byte(imm))
}

func (e *Encoder) emitShiftCL(dst register.Reg, op microir.ArithOp, width register.Width) {
	ext, err := shiftExt(op)
	if err != nil {
		panic("BUG: " + err.Error())
	}
	d := idx(dst)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(d) != 0, width == register.B8)
	op8 := byte(0xD3)
	if width == register.B8 {
		op8 = 0xD2
	}
	e.buf = append(e.buf, op8)
	e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
}

func (e *Encoder) emitImul2(dst, src register.Reg, width register.Width) {
	d, s := idx(dst), idx(src)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, false)
	e.buf = append(e.buf, 0x0F, 0xAF)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
}

func (e *Encoder) emitPopCount(dst, src register.Reg, width register.Width) {
	d, s := idx(dst), idx(src)
	e.buf = append(e.buf, 0xF3)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, false)
	e.buf = append(e.buf, 0x0F, 0xB8)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
}

func (e *Encoder) emitBitScan(dst, src register.Reg, width register.Width, opcode byte) {
	d, s := idx(dst), idx(src)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, false)
	e.buf = append(e.buf, 0x0F, opcode)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
}

// emitByteSwap covers BSWAP (32/64-bit, opcode 0F C8+reg) and the B16 case,
// which has no BSWAP form and is synthesized as ROL r16, 8.
func (e *Encoder) emitByteSwap(dst register.Reg, width register.Width) {
	d := idx(dst)
	if width == register.B16 {
		e.buf = append(e.buf, 0x66)
		emitREX(&e.buf, false, false, false, rexBit(d) != 0, false)
		e.buf = append(e.buf, 0xC1)
		e.buf = append(e.buf, modRM(modRegisterDirect, 0, regField(d))) // ROL /0
		e.buf = append(e.buf, 8)
		return
	}
	emitREX(&e.buf, width == register.B64, false, false, rexBit(d) != 0, false)
	e.buf = append(e.buf, 0x0F, 0xC8+regField(d))
}

// --- float ---

// floatMandatoryPrefix returns F2 (double) or F3 (single) for the scalar
// arithmetic/convert opcodes, and 66/none for the bitwise AND/XOR forms
// that reuse the packed ANDPD/ANDPS and XORPD/XORPS opcodes.
func floatMandatoryPrefix(op microir.ArithOp, width register.Width) (byte, bool) {
	switch op {
	case microir.ArithFloatAnd, microir.ArithFloatXor:
		if width == register.B64 {
			return 0x66, true
		}
		return 0, false
	default:
		if width == register.B64 {
			return 0xF2, true
		}
		return 0xF3, true
	}
}

func floatOpcode(op microir.ArithOp) (byte, error) {
	switch op {
	case microir.ArithFloatAdd:
		return 0x58, nil
	case microir.ArithFloatMul:
		return 0x59, nil
	case microir.ArithFloatSqrt:
		return 0x51, nil
	case microir.ArithFloatSub:
		return 0x5C, nil
	case microir.ArithFloatMin:
		return 0x5D, nil
	case microir.ArithFloatDiv:
		return 0x5E, nil
	case microir.ArithFloatMax:
		return 0x5F, nil
	case microir.ArithFloatAnd:
		return 0x54, nil
	case microir.ArithFloatXor:
		return 0x57, nil
	default:
		return 0, fmt.Errorf("arith op %v is not a scalar float op", op)
	}
}

func (e *Encoder) emitFloatBinary(dst, src register.Reg, op microir.ArithOp, width register.Width) error {
	opcode, err := floatOpcode(op)
	if err != nil {
		return err
	}
	d, s := idx(dst), idx(src)
	if prefix, ok := floatMandatoryPrefix(op, width); ok {
		e.buf = append(e.buf, prefix)
	}
	emitREX(&e.buf, false, rexBit(d) != 0, false, rexBit(s) != 0, false)
	e.buf = append(e.buf, 0x0F, opcode)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
	return nil
}

func (e *Encoder) emitFloatCmp(a, c register.Reg, width register.Width) {
	if width == register.B64 {
		e.buf = append(e.buf, 0x66)
	}
	ac, cc := idx(a), idx(c)
	emitREX(&e.buf, false, rexBit(ac) != 0, false, rexBit(cc) != 0, false)
	e.buf = append(e.buf, 0x0F, 0x2E) // UCOMISS/UCOMISD
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(ac), regField(cc)))
}

// emitFloatConvert covers CVTSI2SD/SS and CVTTSD/SS2SI; direction is
// inferred from which of dst/src is the float-class register. CanEncode on
// a GPR->float conversion of an unsigned 64-bit source selects the same
// opcode: correctness for values whose top bit is set is outside this
// core's scope; CanEncode documents that the caller has accepted the
// approximation.
func (e *Encoder) emitFloatConvert(dst, src register.Reg, width register.Width, flags microir.EmitFlags) error {
	switch {
	case dst.IsFloat() && !src.IsFloat():
		d, s := idx(dst), idx(src)
		if width == register.B64 {
			e.buf = append(e.buf, 0xF2)
		} else {
			e.buf = append(e.buf, 0xF3)
		}
		emitREX(&e.buf, true, rexBit(d) != 0, false, rexBit(s) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x2A)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
		return nil
	case !dst.IsFloat() && src.IsFloat():
		d, s := idx(dst), idx(src)
		if width == register.B64 {
			e.buf = append(e.buf, 0xF2)
		} else {
			e.buf = append(e.buf, 0xF3)
		}
		emitREX(&e.buf, true, rexBit(d) != 0, false, rexBit(s) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x2C)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
		return nil
	case dst.IsFloat() && src.IsFloat():
		// CVTSS2SD / CVTSD2SS; width is the destination float width.
		d, s := idx(dst), idx(src)
		if width == register.B64 {
			e.buf = append(e.buf, 0xF3)
		} else {
			e.buf = append(e.buf, 0xF2)
		}
		emitREX(&e.buf, false, rexBit(d) != 0, false, rexBit(s) != 0, false)
		e.buf = append(e.buf, 0x0F, 0x5A)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
		return nil
	default:
		return fmt.Errorf("float_convert: at least one of dst and src must be a float register")
	}
}
