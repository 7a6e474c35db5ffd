package ffi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/jit"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

func TestBuildNoArgTrampoline_NullTargetFails(t *testing.T) {
	b := microir.NewBuilder()
	err := BuildNoArgTrampoline(b, callconv.C, 0)
	require.Error(t, err)
}

func TestBuildNoArgTrampoline_Shape(t *testing.T) {
	b := microir.NewBuilder()
	require.NoError(t, BuildNoArgTrampoline(b, callconv.C, 0x1000))

	require.Equal(t, 3, b.Len())
	require.Equal(t, microir.KindLoadRegImm, b.InstrAt(0).Kind)
	require.Equal(t, microir.KindTrampolineLoadAndCall, b.InstrAt(1).Kind)
	require.Equal(t, microir.KindRet, b.InstrAt(2).Kind)
	require.Equal(t, register.Rdi, b.Operands(0)[0].Reg, "System-V's first int arg register is used as scratch")
}

// TestTrampolineCallsRealJITTarget round-trips a trampoline against a
// second JIT-installed function's real address, exercising the whole
// jit+ffi integration rather than just byte shape.
func TestTrampolineCallsRealJITTarget(t *testing.T) {
	mgr := jit.NewManager()
	defer mgr.Close()

	callee := microir.NewBuilder()
	callee.LoadRegImm(register.Rax, 99, register.B64, microir.FlagNone)
	callee.Ret()
	calleeCompiled, err := jit.Compile(mgr, callee, callconv.C, false)
	require.NoError(t, err)

	trampoline := microir.NewBuilder()
	require.NoError(t, BuildNoArgTrampoline(trampoline, callconv.C, uint64(calleeCompiled.Mem.Addr())))
	trampolineCompiled, err := jit.Compile(mgr, trampoline, callconv.C, false)
	require.NoError(t, err)

	fn := jit.EntryPoint[func() uint64](trampolineCompiled)
	require.EqualValues(t, 99, fn())
}
