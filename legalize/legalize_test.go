package legalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/amd64"
	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/pass"
	"github.com/tetrazero/codegen/register"
)

func runLegalize(t *testing.T, b *microir.Builder) *amd64.Encoder {
	t.Helper()
	enc := amd64.New()
	ctx := pass.NewContext(callconv.C)
	require.NoError(t, New().Run(b, enc, ctx))
	return enc
}

func TestClampImmediate_OpBinaryRegImm(t *testing.T) {
	b := microir.NewBuilder()
	b.OpBinaryRegImm(register.R8reg, 0x1_0000_0001, microir.ArithAdd, register.B64)
	runLegalize(t, b)

	require.Equal(t, 2, b.Len(), "want load scratch, reg-reg add")
	require.Equal(t, microir.KindLoadRegImm, b.InstrAt(0).Kind)
	require.Equal(t, microir.KindOpBinaryRegReg, b.InstrAt(1).Kind)

	scratch := b.Operands(0)[0].Reg
	require.Equal(t, scratch, b.Operands(1)[1].Reg, "rewritten add must reference the scratch register loaded ahead of it")
}

func TestClampImmediate_FitsImm32IsUntouched(t *testing.T) {
	b := microir.NewBuilder()
	b.OpBinaryRegImm(register.R8reg, 0x7FFFFFFF, microir.ArithAdd, register.B64)
	runLegalize(t, b)

	require.Equal(t, 1, b.Len(), "immediate already fits imm32")
	require.Equal(t, microir.KindOpBinaryRegImm, b.InstrAt(0).Kind)
}

func TestClampImmediate_Imul3(t *testing.T) {
	b := microir.NewBuilder()
	b.Imul3(register.R9reg, register.R8reg, 0x1_0000_0001, register.B64)
	runLegalize(t, b)

	require.Equal(t, 3, b.Len(), "want load scratch, move src into dst, imul2")
	want := []microir.Kind{microir.KindLoadRegImm, microir.KindLoadRegReg, microir.KindImul2}
	for i, k := range want {
		require.Equal(t, k, b.InstrAt(i).Kind, "instruction %d", i)
	}
}

func TestNormalizeOpBits_ZeroWidthBecomesB32(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadRegReg(register.R8reg, register.R9reg, register.Zero)
	runLegalize(t, b)

	require.Equal(t, register.B32, b.Operands(0)[2].Width)
}

func TestSplitLoadMemImm64(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadMemImm(register.Rbp, 0x10, 0x1_0000_0001, register.B64)
	runLegalize(t, b)

	require.Equal(t, 2, b.Len(), "want load scratch, store reg")
	require.Equal(t, microir.KindLoadRegImm, b.InstrAt(0).Kind)
	require.Equal(t, microir.KindLoadMemReg, b.InstrAt(1).Kind)
}

func TestSplitLoadMemImm64_FitsDwordIsUntouched(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadMemImm(register.Rbp, 0x10, 0x1234, register.B64)
	runLegalize(t, b)

	require.Equal(t, 1, b.Len(), "immediate already fits the dword slot")
}

func TestRewriteLoadFloatRegImm(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadRegImm(register.Xmm(0), 0x3FF0000000000000, register.B64, microir.FlagNone)
	runLegalize(t, b)

	require.Equal(t, 2, b.Len(), "want load int scratch, move into xmm")
	require.Equal(t, microir.KindLoadRegImm, b.InstrAt(0).Kind)
	require.Equal(t, microir.KindLoadRegReg, b.InstrAt(1).Kind)
	require.Equal(t, register.Xmm(0), b.Operands(1)[0].Reg, "rewritten move must target the original float destination")
}

func TestFixupAddressingScales_NonPowerScaleFolded(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadRegMemIndexed(register.R8reg, register.Rbp, register.R9reg, 3, 0, register.B64)
	runLegalize(t, b)

	require.Equal(t, 3, b.Len(), "want imul3 fold, add base, load")
	require.Equal(t, microir.KindImul3, b.InstrAt(0).Kind)
	require.Equal(t, microir.KindOpBinaryRegReg, b.InstrAt(1).Kind)
	require.Equal(t, microir.KindLoadRegMem, b.InstrAt(2).Kind)
}

func TestFixupAddressingScales_NativeScaleIsUntouched(t *testing.T) {
	b := microir.NewBuilder()
	b.LoadRegMemIndexed(register.R8reg, register.Rbp, register.R9reg, 4, 0, register.B64)
	runLegalize(t, b)

	require.Equal(t, 1, b.Len(), "scale 4 is already native")
}

// TestJumpTokenSurvivesInsertion checks that legalization inserting
// instructions ahead of a recorded jump does not detach its token: the
// PatchJump after the rewrite still resolves against the right site.
func TestJumpTokenSurvivesInsertion(t *testing.T) {
	b := microir.NewBuilder()
	b.OpBinaryRegImm(register.R8reg, 0x1_0000_0001, microir.ArithAdd, register.B64)
	_, token := b.Jump(microir.JumpConditional, register.Equal, register.B8)
	b.Nop()
	b.PatchJump(token)

	enc := runLegalize(t, b)
	require.NoError(t, enc.EncodeFunction(b))

	code := enc.Bytes()
	require.GreaterOrEqual(t, len(code), 3)
	require.Equal(t, []byte{0x74, 0x01, 0x90}, code[len(code)-3:], "jump over the nop must be patched to displacement 1")
}

func TestLegalizedStreamEncodesCleanly(t *testing.T) {
	b := microir.NewBuilder()
	b.OpBinaryRegImm(register.R8reg, 0x1_0000_0001, microir.ArithAdd, register.B64)
	enc := runLegalize(t, b)
	require.NoError(t, enc.EncodeFunction(b))
	require.NotEmpty(t, enc.Bytes())
}
