package amd64

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err, "bad hex literal %q", s)
	return b
}

func encodeOne(t *testing.T, build func(b *microir.Builder)) []byte {
	t.Helper()
	b := microir.NewBuilder()
	build(b)
	enc := New()
	require.NoError(t, enc.EncodeFunction(b))
	return enc.Bytes()
}

func requireBytes(t *testing.T, got []byte, wantHex string) {
	t.Helper()
	want := hexBytes(t, wantHex)
	require.Equal(t, hex.EncodeToString(want), hex.EncodeToString(got))
}

func TestNop(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) { b.Nop() })
	requireBytes(t, got, "90")
}

func TestPushPop(t *testing.T) {
	push := encodeOne(t, func(b *microir.Builder) { b.Push(register.R12reg) })
	requireBytes(t, push, "4154")

	pop := encodeOne(t, func(b *microir.Builder) { b.Pop(register.R12reg) })
	requireBytes(t, pop, "415C")
}

func TestRet(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) { b.Ret() })
	requireBytes(t, got, "C3")
}

func TestLoadRegImm16(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.R8reg, 0x1234, register.B16, microir.FlagNone)
	})
	requireBytes(t, got, "66 41 B8 34 12")
}

func TestLoadRegImm64(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.R10reg, 0x123456789ABCDEF0, register.B64, microir.FlagNone)
	})
	requireBytes(t, got, "49 BA F0 DE BC 9A 78 56 34 12")
}

func TestLoadRegReg64(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegReg(register.R11reg, register.R8reg, register.B64)
	})
	requireBytes(t, got, "4D 89 C3")
}

func TestLoadRegMem_R12BaseForcesSIB(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegMem(register.R8reg, register.R12reg, 0, register.B64)
	})
	requireBytes(t, got, "4D 8B 04 24")
}

func TestLoadRegMem_RBPBaseForcesDisp8(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegMem(register.R9reg, register.Rbp, 0x7F, register.B32)
	})
	requireBytes(t, got, "44 8B 4D 7F")
}

func TestLeaRegMem_R13BaseForcesDisp32(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LeaRegMem(register.R9reg, register.R13reg, 0x1234, register.B64)
	})
	requireBytes(t, got, "4D 8D 8D 34 12 00 00")
}

func TestOpBinaryRegReg_Add(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpBinaryRegReg(register.R8reg, register.R9reg, microir.ArithAdd, register.B64)
	})
	requireBytes(t, got, "4D 01 C8")
}

func TestOpBinaryRegReg_DivUnsigned(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpBinaryRegReg(register.Rax, register.R11reg, microir.ArithDivUnsigned, register.B64)
	})
	requireBytes(t, got, "48 31 D2 49 F7 F3")
}

func TestOpBinaryRegReg_ModSigned(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpBinaryRegReg(register.Rax, register.R10reg, microir.ArithModSigned, register.B64)
	})
	requireBytes(t, got, "48 99 49 F7 FA 48 89 D0")
}

func TestOpBinaryRegReg_MulUnsignedOneOperandForm(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpBinaryRegReg(register.Rax, register.R11reg, microir.ArithMulUnsigned, register.B64)
	})
	requireBytes(t, got, "49 F7 E3")
}

func TestOpBinaryMemReg_LockedAdd(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpBinaryMemReg(register.R13reg, 0x20, register.R10reg, microir.ArithAdd, register.B64, microir.FlagLock)
	})
	requireBytes(t, got, "F0 4D 01 55 20")
}

func TestOpTernaryRegRegReg_LockedCmpXchg(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpTernaryRegRegReg(register.Rax, register.R12reg, register.R11reg, microir.ArithCmpXchg, register.B64, microir.FlagLock)
	})
	requireBytes(t, got, "F0 4D 0F B1 1C 24")
}

func TestCmpRegImm_Imm8Form(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.CmpRegImm(register.R8reg, 0x7F, register.B64)
	})
	requireBytes(t, got, "49 83 F8 7F")
}

func TestCmpRegImm_Imm32Form(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.CmpRegImm(register.R8reg, 0x80, register.B64)
	})
	requireBytes(t, got, "49 81 F8 80 00 00 00")
}

func TestJump_PatchToCurrentTail(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		_, token := b.Jump(microir.JumpConditional, register.Equal, register.B8)
		b.PatchJump(token)
	})
	requireBytes(t, got, "74 00")
}

func TestJump_PatchToExplicitDestination(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		_, token := b.Jump(microir.JumpConditional, register.Less, register.B32)
		b.PatchJumpTo(token, 0x80)
	})
	requireBytes(t, got, "0F 8C 7A 00 00 00")
}

func TestShiftRegImm(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.ShiftRegImm(register.R9reg, 5, microir.ArithShl, register.B32)
	})
	requireBytes(t, got, "41 C1 E1 05")
}

func TestSetCC_NativeCondition(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.SetCC(register.Rax, register.Equal, microir.FlagNone)
	})
	requireBytes(t, got, "40 0F 94 C0")
}

func TestSetCC_CompositeRequiresCanEncode(t *testing.T) {
	b := microir.NewBuilder()
	b.SetCC(register.Rax, register.EvenParity, microir.FlagNone)
	enc := New()
	require.Error(t, enc.EncodeFunction(b), "expected an error encoding a composite SetCC without CanEncode")
}

func TestSetCC_CompositeWithCanEncode(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.SetCC(register.Rax, register.EvenParity, microir.FlagCanEncode)
	})
	requireBytes(t, got, "40 0F 9A C0")
}

func TestCmovCC(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.CmovCC(register.Rax, register.Rcx, register.Greater)
	})
	requireBytes(t, got, "48 0F 4F C1")
}

func TestOpUnaryReg_Not64(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpUnaryReg(register.R8reg, microir.ArithNot, register.B64)
	})
	requireBytes(t, got, "49 F7 D0")
}

func TestOpUnaryReg_Neg32(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpUnaryReg(register.R9reg, microir.ArithNeg, register.B32)
	})
	requireBytes(t, got, "41 F7 D9")
}

func TestOpUnaryMem_Not32_R12BaseForcesSIB(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpUnaryMem(register.R12reg, 0x20, microir.ArithNot, register.B32)
	})
	requireBytes(t, got, "41 F7 54 24 20")
}

func TestOpUnaryMem_Neg64(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.OpUnaryMem(register.R13reg, 0x40, microir.ArithNeg, register.B64)
	})
	requireBytes(t, got, "49 F7 5D 40")
}

func TestJumpReg(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.JumpReg(register.R11reg)
	})
	requireBytes(t, got, "41 FF E3")
}

// TestJumpTable pins the full computed-jump sequence: lea of the in-image
// table, sign-extended entry load, add, indirect jump.
func TestJumpTable(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.JumpTable(register.Rax, register.Rcx, 0x40, 4)
	})
	requireBytes(t, got, "48 8D 05 39 00 00 00 48 63 0C 88 48 01 C8 FF E0")
}

func TestFloatBinaryAdd(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.FloatBinaryRegReg(register.Xmm(0), register.Xmm(1), microir.ArithFloatAdd, register.B64)
	})
	requireBytes(t, got, "F2 0F 58 C1")
}

func TestFloatSqrt(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.FloatBinaryRegReg(register.Xmm(0), register.Xmm(1), microir.ArithFloatSqrt, register.B64)
	})
	requireBytes(t, got, "F2 0F 51 C1")
}

func TestFloatConvert_SingleToDouble(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.FloatConvert(register.Xmm(0), register.Xmm(1), register.B64, microir.FlagNone)
	})
	requireBytes(t, got, "F3 0F 5A C1")
}

func TestFloatConvert_DoubleToSingle(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.FloatConvert(register.Xmm(0), register.Xmm(1), register.B32, microir.FlagNone)
	})
	requireBytes(t, got, "F2 0F 5A C1")
}

func TestCallRelRecordsRelocation(t *testing.T) {
	b := microir.NewBuilder()
	b.CallRel("host_func")
	enc := New()
	require.NoError(t, enc.EncodeFunction(b))
	requireBytes(t, enc.Bytes(), "E8 00 00 00 00")
	relocs := enc.Relocations()
	require.Len(t, relocs, 1)
	require.EqualValues(t, 1, relocs[0].CodeOffset)
}

func TestLoadRegImm64_SmallImmediateUsesDwordForm(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.Rax, 42, register.B64, microir.FlagNone)
	})
	requireBytes(t, got, "B8 2A 00 00 00")
}

func TestLoadRegImm64_NegativeImmediateSignExtends(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.Rax, 0xFFFFFFFFFFFFFFFF, register.B64, microir.FlagNone)
	})
	requireBytes(t, got, "48 C7 C0 FF FF FF FF")
}

func TestLoadRegImm64_FlagB64ForcesTenByteForm(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.Rax, 42, register.B64, microir.FlagB64)
	})
	requireBytes(t, got, "48 B8 2A 00 00 00 00 00 00 00")
}

func TestLoadRegImm_ZeroIdiom(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegImm(register.Rax, 0, register.B64, microir.FlagZero)
	})
	requireBytes(t, got, "31 C0")
}

func TestFloatMoveXmmToXmm(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.LoadRegReg(register.Xmm(1), register.Xmm(2), register.B64)
	})
	requireBytes(t, got, "F3 0F 7E CA")
}

// TestEmissionDeterminism checks that encoding the same
// builder twice yields identical bytes.
func TestEmissionDeterminism(t *testing.T) {
	build := func(b *microir.Builder) {
		b.LoadRegImm(register.R8reg, 0x1234, register.B16, microir.FlagNone)
		b.OpBinaryRegReg(register.R8reg, register.R9reg, microir.ArithAdd, register.B64)
		_, token := b.Jump(microir.JumpConditional, register.Equal, register.B8)
		b.Nop()
		b.PatchJump(token)
		b.CallRel("helper")
		b.Ret()
	}
	first := encodeOne(t, build)
	second := encodeOne(t, build)
	require.Equal(t, first, second)
}

func TestByteSwap16Synthesized(t *testing.T) {
	got := encodeOne(t, func(b *microir.Builder) {
		b.ByteSwap(register.R9reg, register.B16, microir.FlagCanEncode)
	})
	requireBytes(t, got, "66 41 C1 C1 08")
}
