package microir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/register"
)

// TestOperandArityMatchesDeclaration checks the declared-arity rule over one
// instruction of every kind the builder exposes.
func TestOperandArityMatchesDeclaration(t *testing.T) {
	b := NewBuilder()
	v := b.NewVirtualInt()

	b.Nop()
	b.Ret()
	b.Push(register.R12reg)
	b.Pop(register.R12reg)
	b.LoadRegImm(v, 1, register.B64, FlagNone)
	b.LoadRegReg(v, register.Rax, register.B64)
	b.LoadRegMem(v, register.Rbp, 8, register.B64)
	b.LoadMemReg(register.Rbp, 8, v, register.B64, FlagNone)
	b.LoadMemImm(register.Rbp, 8, 1, register.B32)
	b.LeaRegMem(v, register.Rbp, 8, register.B64)
	b.LeaRegMemIndexed(v, register.Rbp, register.Rcx, 4, 8, register.B64)
	b.LoadRegMemIndexed(v, register.Rbp, register.Rcx, 4, 8, register.B64)
	b.LoadMemIndexedReg(register.Rbp, register.Rcx, 4, 8, v, register.B64)
	b.LoadMemIndexedImm(register.Rbp, register.Rcx, 4, 8, 1, register.B32)
	b.MovSX(v, register.Rax, register.B8, register.B64)
	b.MovZX(v, register.Rax, register.B16, register.B64)
	b.OpUnaryReg(v, ArithNeg, register.B64)
	b.OpUnaryMem(register.Rbp, 8, ArithNot, register.B32)
	b.OpBinaryRegReg(v, register.Rax, ArithAdd, register.B64)
	b.OpBinaryRegMem(v, register.Rbp, 8, ArithAdd, register.B64)
	b.OpBinaryMemReg(register.Rbp, 8, v, ArithAdd, register.B64, FlagNone)
	b.OpBinaryRegImm(v, 1, ArithAdd, register.B64)
	b.OpBinaryMemImm(register.Rbp, 8, 1, ArithAdd, register.B64)
	b.OpTernaryRegRegReg(register.Rax, register.Rbp, v, ArithCmpXchg, register.B64, FlagLock)
	b.CmpRegReg(v, register.Rax, register.B64)
	b.CmpRegImm(v, 1, register.B64)
	b.CmpRegMem(v, register.Rbp, 8, register.B64)
	b.CmpMemReg(register.Rbp, 8, v, register.B64)
	b.CmpMemImm(register.Rbp, 8, 1, register.B64)
	b.SetCC(v, register.Equal, FlagNone)
	b.CmovCC(v, register.Rax, register.Less)
	b.ShiftRegImm(v, 3, ArithShl, register.B64)
	b.ShiftRegCL(v, ArithShr, register.B64)
	b.Imul2(v, register.Rax, register.B64)
	b.Imul3(v, register.Rax, 10, register.B64)
	b.PopCount(v, register.Rax, register.B64)
	b.BitScanForward(v, register.Rax, register.B64)
	b.BitScanReverse(v, register.Rax, register.B64)
	b.ByteSwap(v, register.B64, FlagNone)
	b.FloatBinaryRegReg(register.Xmm(0), register.Xmm(1), ArithFloatAdd, register.B64)
	b.FloatCmpRegReg(register.Xmm(0), register.Xmm(1), register.B64)
	b.FloatConvert(register.Xmm(0), register.Rax, register.B64, FlagNone)
	b.CallReg(register.Rax)
	b.CallRel("f")
	b.CallExtern("g")
	_, token := b.Jump(JumpConditional, register.Equal, register.B8)
	b.PatchJump(token)
	b.JumpReg(register.Rax)
	b.JumpTable(register.Rax, register.Rcx, 0x40, 4)
	b.TrampolineLoadAndCall(register.Rax)

	for i := 0; i < b.Len(); i++ {
		ins := b.InstrAt(i)
		require.Equal(t, declaredArity[ins.Kind], len(b.Operands(i)),
			"instruction %d (%s): operand count does not match declared arity", i, kindName(ins.Kind))
	}
}

func TestOperandsRecordedPositionally(t *testing.T) {
	b := NewBuilder()
	b.LoadRegMem(register.R8reg, register.Rbp, 0x40, register.B32)

	ops := b.Operands(0)
	require.Equal(t, OperandReg, ops[0].Kind)
	require.Equal(t, register.R8reg, ops[0].Reg)
	require.Equal(t, OperandReg, ops[1].Kind)
	require.Equal(t, register.Rbp, ops[1].Reg)
	require.Equal(t, OperandImmI32, ops[2].Kind)
	require.EqualValues(t, 0x40, ops[2].ImmI32)
	require.Equal(t, OperandWidth, ops[3].Kind)
	require.Equal(t, register.B32, ops[3].Width)
}

func TestVirtualRegistersAreUnique(t *testing.T) {
	b := NewBuilder()
	seen := make(map[register.Reg]bool)
	for i := 0; i < 16; i++ {
		vi := b.NewVirtualInt()
		vf := b.NewVirtualFloat()
		require.True(t, vi.IsVirtual())
		require.True(t, vf.IsVirtual())
		require.False(t, vi.IsFloat())
		require.True(t, vf.IsFloat())
		require.False(t, seen[vi], "duplicate virtual %s", vi)
		require.False(t, seen[vf], "duplicate virtual %s", vf)
		seen[vi], seen[vf] = true, true
	}
}

func TestInsertBeforePreservesOrder(t *testing.T) {
	b := NewBuilder()
	b.Nop()
	b.Ret()

	newIdx := b.InsertBefore(1, []Instr{{Kind: KindNop}}, [][]Operand{{}})
	require.Equal(t, 2, newIdx)
	require.Equal(t, 3, b.Len())
	require.Equal(t, KindNop, b.InstrAt(0).Kind)
	require.Equal(t, KindNop, b.InstrAt(1).Kind)
	require.Equal(t, KindRet, b.InstrAt(2).Kind)
}

func TestReplaceRejectsArityMismatch(t *testing.T) {
	b := NewBuilder()
	b.Nop()
	require.Panics(t, func() {
		b.Replace(0, KindPush, FlagNone) // Push declares one operand.
	})
}

func TestJumpTokenRecordsWidth(t *testing.T) {
	b := NewBuilder()
	_, t8 := b.Jump(JumpConditional, register.Equal, register.B8)
	_, t32 := b.Jump(JumpUnconditional, register.CondInvalid, register.B32)

	require.Equal(t, register.B8, b.JumpTokenWidth(t8))
	require.Equal(t, register.B32, b.JumpTokenWidth(t32))
	require.Equal(t, 0, b.JumpTokenInstrIndex(t8))
	require.Equal(t, 1, b.JumpTokenInstrIndex(t32))
}

func TestSetOperandRewritesInPlace(t *testing.T) {
	b := NewBuilder()
	v := b.NewVirtualInt()
	b.Push(v)

	b.SetOperand(0, 0, Operand{Kind: OperandReg, Reg: register.Rbx})
	require.Equal(t, register.Rbx, b.Operands(0)[0].Reg)

	require.Panics(t, func() {
		b.SetOperand(0, 1, Operand{Kind: OperandReg, Reg: register.Rbx})
	})
}
