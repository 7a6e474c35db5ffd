package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// ccCode maps a register.Cond to its x86 condition-code nibble, shared by
// Jcc/SETcc/CMOVcc. EvenParity and NotEvenParity are flagged IsComposite()
// by the IR's own abstraction even though the hardware tests PF natively
// in one instruction; this encoder takes the native shortcut whenever the
// producing instruction carries CanEncode.
func ccCode(c register.Cond) (byte, error) {
	table := map[register.Cond]byte{
		register.Overflow:      0x0,
		register.NotOverflow:   0x1,
		register.Below:         0x2,
		register.AboveEqual:    0x3,
		register.Equal:         0x4,
		register.NotEqual:      0x5,
		register.BelowEqual:    0x6,
		register.Above:         0x7,
		register.Sign:          0x8,
		register.NotSign:       0x9,
		register.EvenParity:    0xA,
		register.NotEvenParity: 0xB,
		register.Less:          0xC,
		register.GreaterEqual:  0xD,
		register.LessEqual:     0xE,
		register.Greater:       0xF,
	}
	cc, ok := table[c]
	if !ok {
		return 0, fmt.Errorf("condition %v has no x86 encoding", c)
	}
	return cc, nil
}

func (e *Encoder) emitSetCC(dst register.Reg, cond register.Cond, flags microir.EmitFlags) error {
	if cond.IsComposite() && !flags.Has(microir.FlagCanEncode) {
		return fmt.Errorf("setcc: composite condition %v requires CanEncode", cond)
	}
	cc, err := ccCode(cond)
	if err != nil {
		return err
	}
	d := idx(dst)
	emitREX(&e.buf, false, false, false, rexBit(d) != 0, true)
	e.buf = append(e.buf, 0x0F, 0x90+cc)
	e.buf = append(e.buf, modRM(modRegisterDirect, 0, regField(d)))
	return nil
}

func (e *Encoder) emitCmovCC(dst, src register.Reg, cond register.Cond) error {
	if cond.IsComposite() {
		return fmt.Errorf("cmovcc: composite condition %v is not supported for cmov", cond)
	}
	cc, err := ccCode(cond)
	if err != nil {
		return err
	}
	d, s := idx(dst), idx(src)
	emitREX(&e.buf, true, rexBit(d) != 0, false, rexBit(s) != 0, false)
	e.buf = append(e.buf, 0x0F, 0x40+cc)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(d), regField(s)))
	return nil
}

// emitJump appends a Jcc/JMP with a zero-filled displacement placeholder
// and records the displacement field's location for a later PatchJump.
func (e *Encoder) emitJump(instrIndex int, kind microir.JumpKind, cond register.Cond, width register.Width) error {
	if kind == microir.JumpUnconditional {
		if width == register.B8 {
			e.buf = append(e.buf, 0xEB)
		} else {
			e.buf = append(e.buf, 0xE9)
		}
	} else {
		if cond.IsComposite() {
			return fmt.Errorf("jump: composite condition %v has no conditional-jump synthesis", cond)
		}
		cc, err := ccCode(cond)
		if err != nil {
			return err
		}
		if width == register.B8 {
			e.buf = append(e.buf, 0x70+cc)
		} else {
			e.buf = append(e.buf, 0x0F, 0x80+cc)
		}
	}

	dispOffset := len(e.buf)
	if width == register.B8 {
		e.buf = append(e.buf, 0)
	} else {
		appendU32LE(&e.buf, 0)
	}
	e.jumpSites[instrIndex] = jumpSite{dispOffset: dispOffset, dispWidth: width, instrEnd: len(e.buf)}
	return nil
}

// emitJumpReg is JMP r/m64 (opcode FF /4): an indirect jump through a
// register holding an absolute code address.
func (e *Encoder) emitJumpReg(target register.Reg) {
	t := idx(target)
	emitREX(&e.buf, false, false, false, rexBit(t) != 0, false)
	e.buf = append(e.buf, 0xFF)
	e.buf = append(e.buf, modRM(modRegisterDirect, 4, regField(t)))
}

// emitJumpTable lowers a computed jump through a table of 32-bit entries
// at tableOffset within the function's byte image: point tableReg at the
// table via a RIP-relative LEA, sign-extend the entry selected by
// offsetReg into offsetReg, add it to the table base, and jump there.
// Table entries are displacements relative to the table's own start.
func (e *Encoder) emitJumpTable(tableReg, offsetReg register.Reg, tableOffset uint32) {
	// lea tableReg, [rip + disp]; the LEA's fixed 7-byte length makes the
	// displacement to the in-image table computable immediately.
	t, o := idx(tableReg), idx(offsetReg)
	disp := int32(tableOffset) - int32(e.CurrentOffset()+7)
	emitREX(&e.buf, true, rexBit(t) != 0, false, false, false)
	e.buf = append(e.buf, 0x8D)
	e.buf = append(e.buf, modRM(modNoDisplacement, regField(t), ripRM))
	appendU32LE(&e.buf, uint32(disp))

	// movsxd offsetReg, dword [tableReg + offsetReg*4]. A base field of
	// 101 under mod 00 would mean "no base, disp32", so RBP/R13 bases take
	// the disp8-zero form instead.
	emitREX(&e.buf, true, rexBit(o) != 0, rexBit(o) != 0, rexBit(t) != 0, false)
	e.buf = append(e.buf, 0x63)
	if regField(t) == register.RBP {
		e.buf = append(e.buf, modRM(modShortDisplacement, regField(o), sibMarker))
		e.buf = append(e.buf, sib(scaleEncoding(4), regField(o), regField(t)))
		e.buf = append(e.buf, 0)
	} else {
		e.buf = append(e.buf, modRM(modNoDisplacement, regField(o), sibMarker))
		e.buf = append(e.buf, sib(scaleEncoding(4), regField(o), regField(t)))
	}

	// add tableReg, offsetReg
	emitREX(&e.buf, true, rexBit(o) != 0, false, rexBit(t) != 0, false)
	e.buf = append(e.buf, 0x01)
	e.buf = append(e.buf, modRM(modRegisterDirect, regField(o), regField(t)))

	e.emitJumpReg(tableReg)
}

// emitPatchJump back-patches the displacement field recorded by the
// matching Jump. A plain PatchJump targets
// the current tail of the buffer; PatchJumpTo (FlagB64) targets an
// explicit absolute byte offset within this function's output.
func (e *Encoder) emitPatchJump(b *microir.Builder, token microir.JumpToken, explicitDest uint64, flags microir.EmitFlags) error {
	jumpIdx := b.JumpTokenInstrIndex(token)
	site, ok := e.jumpSites[jumpIdx]
	if !ok {
		panic(fmt.Sprintf("BUG: patch_jump: no recorded jump site for instruction %d", jumpIdx))
	}

	destination := e.CurrentOffset()
	if flags.Has(microir.FlagB64) {
		destination = explicitDest
	}
	disp := int64(destination) - int64(site.instrEnd)

	switch site.dispWidth {
	case register.B8:
		if disp < -128 || disp > 127 {
			return fmt.Errorf("patch_jump: displacement %d does not fit a short jump", disp)
		}
		e.buf[site.dispOffset] = byte(disp)
	default:
		if disp < -(1<<31) || disp > (1<<31)-1 {
			return fmt.Errorf("patch_jump: displacement %d does not fit a near jump", disp)
		}
		v := uint32(int32(disp))
		e.buf[site.dispOffset] = byte(v)
		e.buf[site.dispOffset+1] = byte(v >> 8)
		e.buf[site.dispOffset+2] = byte(v >> 16)
		e.buf[site.dispOffset+3] = byte(v >> 24)
	}
	return nil
}
