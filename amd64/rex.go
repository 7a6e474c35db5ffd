package amd64

import "github.com/tetrazero/codegen/register"

// regField returns the 3-bit ModRM/SIB/opcode field for a physical register
// index (0..15): the low 3 bits, with bit 3 folded into REX by rexBit.
func regField(index byte) byte { return index & 0x07 }

// rexBit returns the extension bit REX.R/X/B contributes for a physical
// register index.
func rexBit(index byte) byte { return index >> 3 }

func idx(r register.Reg) byte { return r.Index() }

// emitREX appends a REX prefix byte iff any of W/R/X/B is set, or force is
// true (needed to access SPL/BPL/SIL/DIL as byte registers).
func emitREX(buf *[]byte, w, r, x, b, force bool) {
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	if rex != 0x40 || force {
		*buf = append(*buf, rex)
	}
}

func modRM(mod, reg, rm byte) byte { return mod<<6 | reg<<3 | rm }

func sib(scale, index, base byte) byte { return scale<<6 | index<<3 | base }

// scaleEncoding maps an AMC scale factor to its 2-bit SIB encoding. The
// legalizer guarantees scale is already in {1,2,4,8} by the time an
// instruction reaches the encoder.
func scaleEncoding(scale uint32) byte {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		panic("BUG: addressing scale outside {1,2,4,8} reached the encoder")
	}
}

func fitsInt8(disp int32) bool { return disp >= -128 && disp <= 127 }

// lowByteSignExtends reports whether the low 8 bits of imm, sign-extended
// back out to a full 64-bit value, reproduce imm — the legality test for
// using the imm8 form of an otherwise imm32/imm64 instruction.
func lowByteSignExtends(imm uint64) bool {
	b := int8(byte(imm))
	return uint64(int64(b)) == imm
}

// lowDwordSignExtends is the 32-bit analog, used to decide whether a 64-bit
// immediate load can use the narrower dword-immediate forms.
func lowDwordSignExtends(imm uint64) bool {
	d := int32(uint32(imm))
	return uint64(int64(d)) == imm
}

const (
	modNoDisplacement    = 0b00
	modShortDisplacement = 0b01
	modLongDisplacement  = 0b10
	modRegisterDirect    = 0b11

	sibMarker = 0b100 // rm field value that signals "SIB follows" in ModRM.
	ripRM     = 0b101 // rm field value that signals RIP-relative with mod=00.
)

// emitMemOperand appends the ModRM (and SIB/displacement, when present) for
// a base+disp memory operand, with regFieldValue occupying ModRM.reg (either
// a real register operand or an opcode-group extension).
func emitMemOperand(buf *[]byte, regFieldValue byte, base register.Reg, disp int32) {
	if base == register.InstructionPointer {
		*buf = append(*buf, modRM(modNoDisplacement, regFieldValue, ripRM))
		appendU32LE(buf, uint32(disp))
		return
	}

	baseIdx := idx(base)
	baseEnc := regField(baseIdx)
	immZero := disp == 0
	baseRbp := baseIdx == register.RBP
	baseR13 := baseIdx == register.R13
	rspOrR12 := baseIdx == register.RSP || baseIdx == register.R12

	switch {
	case immZero && !baseRbp && !baseR13:
		*buf = append(*buf, modRM(modNoDisplacement, regFieldValue, baseEnc))
		if rspOrR12 {
			*buf = append(*buf, sib(0, sibMarker, baseEnc))
		}
	case fitsInt8(disp):
		*buf = append(*buf, modRM(modShortDisplacement, regFieldValue, baseEnc))
		if rspOrR12 {
			*buf = append(*buf, sib(0, sibMarker, baseEnc))
		}
		*buf = append(*buf, byte(disp))
	default:
		*buf = append(*buf, modRM(modLongDisplacement, regFieldValue, baseEnc))
		if rspOrR12 {
			*buf = append(*buf, sib(0, sibMarker, baseEnc))
		}
		appendU32LE(buf, uint32(disp))
	}
}

// emitMemOperandIndexed is the AMC (base+index*scale+disp) analog of
// emitMemOperand.
func emitMemOperandIndexed(buf *[]byte, regFieldValue byte, base, index register.Reg, scale uint32, disp int32) {
	baseIdx, indexIdx := idx(base), idx(index)
	baseEnc, indexEnc := regField(baseIdx), regField(indexIdx)
	immZero := disp == 0
	baseRbp := baseIdx == register.RBP
	baseR13 := baseIdx == register.R13

	switch {
	case immZero && !baseRbp && !baseR13:
		*buf = append(*buf, modRM(modNoDisplacement, regFieldValue, sibMarker))
		*buf = append(*buf, sib(scaleEncoding(scale), indexEnc, baseEnc))
	case fitsInt8(disp):
		*buf = append(*buf, modRM(modShortDisplacement, regFieldValue, sibMarker))
		*buf = append(*buf, sib(scaleEncoding(scale), indexEnc, baseEnc))
		*buf = append(*buf, byte(disp))
	default:
		*buf = append(*buf, modRM(modLongDisplacement, regFieldValue, sibMarker))
		*buf = append(*buf, sib(scaleEncoding(scale), indexEnc, baseEnc))
		appendU32LE(buf, uint32(disp))
	}
}

func appendU32LE(buf *[]byte, v uint32) {
	*buf = append(*buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64LE(buf *[]byte, v uint64) {
	for i := 0; i < 8; i++ {
		*buf = append(*buf, byte(v>>(8*i)))
	}
}

func appendU16LE(buf *[]byte, v uint16) {
	*buf = append(*buf, byte(v), byte(v>>8))
}
