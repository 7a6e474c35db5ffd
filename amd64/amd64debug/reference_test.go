package amd64debug

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/amd64"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

func ours(t *testing.T, build func(b *microir.Builder)) []byte {
	t.Helper()
	b := microir.NewBuilder()
	build(b)
	enc := amd64.New()
	require.NoError(t, enc.EncodeFunction(b))
	return enc.Bytes()
}

func TestRetMatchesGolangAsm(t *testing.T) {
	want, err := Ret()
	require.NoError(t, err)
	got := ours(t, func(b *microir.Builder) { b.Ret() })
	require.Equal(t, want, got)
}

func TestMovRegImm64MatchesGolangAsm(t *testing.T) {
	want, err := MovRegImm64(register.R10reg, 0x123456789ABCDEF0)
	require.NoError(t, err)
	got := ours(t, func(b *microir.Builder) {
		b.LoadRegImm(register.R10reg, 0x123456789ABCDEF0, register.B64, microir.FlagNone)
	})
	require.Equal(t, want, got)
}

func TestMovRegReg64MatchesGolangAsm(t *testing.T) {
	want, err := MovRegReg64(register.R11reg, register.R8reg)
	require.NoError(t, err)
	got := ours(t, func(b *microir.Builder) {
		b.LoadRegReg(register.R11reg, register.R8reg, register.B64)
	})
	require.Equal(t, want, got)
}

func TestAddRegReg64MatchesGolangAsm(t *testing.T) {
	want, err := AddRegReg64(register.R8reg, register.R9reg)
	require.NoError(t, err)
	got := ours(t, func(b *microir.Builder) {
		b.OpBinaryRegReg(register.R8reg, register.R9reg, microir.ArithAdd, register.B64)
	})
	require.Equal(t, want, got)
}

func TestLoadRegMem64MatchesGolangAsm(t *testing.T) {
	want, err := LoadRegMem64(register.R9reg, register.Rbp, 0x7F)
	require.NoError(t, err)
	got := ours(t, func(b *microir.Builder) {
		b.LoadRegMem(register.R9reg, register.Rbp, 0x7F, register.B64)
	})
	require.Equal(t, want, got)
}

func TestUnmappedRegisterReportsError(t *testing.T) {
	_, err := MovRegImm64(register.Xmm(0), 1)
	require.Error(t, err)
}
