package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// group1Ext is the ModRM.reg opcode-group extension for the 0x80/0x81/0x83
// "op r/m, imm" family.
func group1Ext(op microir.ArithOp) (byte, error) {
	switch op {
	case microir.ArithAdd:
		return 0, nil
	case microir.ArithOr:
		return 1, nil
	case microir.ArithAnd:
		return 4, nil
	case microir.ArithSub:
		return 5, nil
	case microir.ArithXor:
		return 6, nil
	default:
		return 0, fmt.Errorf("arith op %v has no group1 immediate form", op)
	}
}

func (e *Encoder) emitBinaryRegImm(dst register.Reg, imm uint64, op microir.ArithOp, width register.Width) error {
	ext, err := group1Ext(op)
	if err != nil {
		return err
	}
	if !lowDwordSignExtends(imm) {
		return fmt.Errorf("op_binary_reg_imm: immediate 0x%x does not fit imm32", imm)
	}
	d := idx(dst)
	prefixWidth(&e.buf, width)
	emitREX(&e.buf, width == register.B64, false, false, rexBit(d) != 0, width == register.B8)
	if width != register.B8 && lowByteSignExtends(imm) {
		e.buf = append(e.buf, 0x83)
		e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
		e.buf = append(e.buf, byte(imm))
		return nil
	}
	op8 := byte(0x81)
	if width == register.B8 {
		op8 = 0x80
	}
	e.buf = append(e.buf, op8)
	e.buf = append(e.buf, modRM(modRegisterDirect, ext, regField(d)))
	appendGroup1Imm(&e.buf, imm, width)
	return nil
}

func (e *Encoder) emitBinaryMemImm(base register.Reg, disp int32, imm uint64, op microir.ArithOp, width register.Width) error {
	ext, err := group1Ext(op)
	if err != nil {
		return err
	}
	if !lowDwordSignExtends(imm) {
		return fmt.Errorf("op_binary_mem_imm: immediate 0x%x does not fit imm32", imm)
	}
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, false, false, rexB, width == register.B8)
	if width != register.B8 && lowByteSignExtends(imm) {
		e.buf = append(e.buf, 0x83)
		emitMemOperand(&e.buf, ext, base, disp)
		e.buf = append(e.buf, byte(imm))
		return nil
	}
	op8 := byte(0x81)
	if width == register.B8 {
		op8 = 0x80
	}
	e.buf = append(e.buf, op8)
	emitMemOperand(&e.buf, ext, base, disp)
	appendGroup1Imm(&e.buf, imm, width)
	return nil
}

func (e *Encoder) emitCmpMemImm(base register.Reg, disp int32, imm uint64, width register.Width) error {
	if !lowDwordSignExtends(imm) {
		return fmt.Errorf("cmp_mem_imm: immediate 0x%x does not fit imm32", imm)
	}
	prefixWidth(&e.buf, width)
	rexB := base != register.InstructionPointer && rexBit(idx(base)) != 0
	emitREX(&e.buf, width == register.B64, false, false, rexB, width == register.B8)
	if width != register.B8 && lowByteSignExtends(imm) {
		e.buf = append(e.buf, 0x83)
		emitMemOperand(&e.buf, 7, base, disp)
		e.buf = append(e.buf, byte(imm))
		return nil
	}
	op8 := byte(0x81)
	if width == register.B8 {
		op8 = 0x80
	}
	e.buf = append(e.buf, op8)
	emitMemOperand(&e.buf, 7, base, disp)
	appendGroup1Imm(&e.buf, imm, width)
	return nil
}

func appendGroup1Imm(buf *[]byte, imm uint64, width register.Width) {
	switch width {
	case register.B8:
		*buf = append(*buf, byte(imm))
	case register.B16:
		appendU16LE(buf, uint16(imm))
	default:
		appendU32LE(buf, uint32(imm))
	}
}

// emitImul3 is IMUL r, r/m, imm (0x6B ib / 0x69 id).
func (e *Encoder) emitImul3(dst, src register.Reg, imm uint64, width register.Width) error {
	if !lowDwordSignExtends(imm) {
		return fmt.Errorf("imul3: immediate 0x%x does not fit imm32", imm)
	}
	d, s := idx(dst), idx(src)
	emitREX(&e.buf, width == register.B64, rexBit(d) != 0, false, rexBit(s) != 0, false)
	if lowByteSignExtends(imm) {
		e.buf = append(e.buf, 0x6B)
		e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
		e.buf = append(e.buf, byte(imm))
		return nil
	}
	e.buf = append(e.buf, 0x69)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
	appendU32LE(&e.buf, uint32(imm))
	return nil
}
