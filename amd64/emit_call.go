package amd64

import (
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// emitCallReg is CALL r/m64 (opcode FF /2), used directly for CallReg and
// for TrampolineLoadAndCall — by the time the latter executes, the target
// register already holds an absolute function pointer staged by a prior
// LoadRegImm.
func (e *Encoder) emitCallReg(target register.Reg) {
	t := idx(target)
	emitREX(&e.buf, false, false, false, rexBit(t) != 0, false)
	e.buf = append(e.buf, 0xFF)
	e.buf = append(e.buf, modRM(modRegisterDirect, 2, regField(t)))
}

// emitCallRel is a direct relative CALL (opcode E8) against an interned
// function symbol, relocated at load time.
func (e *Encoder) emitCallRel(name string) {
	symIdx := e.GetOrAddSymbol(name, microir.SymbolFunction)
	e.buf = append(e.buf, 0xE8)
	e.AddSymbolRelocation(e.CurrentOffset(), symIdx, encoder.RelocationRel32)
	appendU32LE(&e.buf, 0)
}

// emitCallExtern is an indirect RIP-relative CALL through a pointer slot
// (opcode FF 15, ModRM mod=00 rm=101), the standard "call [rip+disp32]"
// shape used for calls into extern-linked functions resolved at load time.
func (e *Encoder) emitCallExtern(name string) {
	symIdx := e.GetOrAddSymbol(name, microir.SymbolExtern)
	e.buf = append(e.buf, 0xFF)
	e.buf = append(e.buf, modRM(modNoDisplacement, 2, ripRM))
	e.AddSymbolRelocation(e.CurrentOffset(), symIdx, encoder.RelocationRel32)
	appendU32LE(&e.buf, 0)
}
