package jit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// TestJITRoundTrip builds load_reg_imm(rax, 42)+ret, compiles it end to
// end, and calls the installed code expecting 42 back in rax.
func TestJITRoundTrip(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	b := microir.NewBuilder()
	b.LoadRegImm(register.Rax, 42, register.B64, microir.FlagNone)
	b.Ret()

	compiled, err := Compile(mgr, b, callconv.C, false)
	require.NoError(t, err)
	require.NotZero(t, compiled.Mem.Addr())

	fn := EntryPoint[func() uint64](compiled)
	require.EqualValues(t, 42, fn())
}

// TestMemoryManagerReuse drives two AllocateAndCopy calls small enough to
// fit in one block and asserts they land in the same underlying mmap
// region.
func TestMemoryManagerReuse(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	first, err := mgr.AllocateAndCopy([]byte{0xC3})
	require.NoError(t, err)
	second, err := mgr.AllocateAndCopy([]byte{0x90, 0xC3})
	require.NoError(t, err)

	require.Len(t, mgr.blocks, 1, "both allocations should share the same block")
	require.NotEqual(t, first.Addr(), second.Addr())

	distance := int64(second.Addr()) - int64(first.Addr())
	if distance < 0 {
		distance = -distance
	}
	require.Less(t, distance, int64(defaultBlockBytes))

	fn1 := callAt[func()](first.Addr())
	fn1()
	fn2 := callAt[func()](second.Addr())
	fn2()
}

// callAt boxes a raw code address into a callable Go func value, the same
// trick EntryPoint uses for Compiled results.
func callAt[T any](addr uintptr) T {
	holder := new(uintptr)
	*holder = addr
	var f T
	*(*uintptr)(unsafe.Pointer(&f)) = uintptr(unsafe.Pointer(holder))
	return f
}

// TestAllocationsArePageAligned checks that every block and
// every allocation inside it starts on a page boundary and spans whole
// pages.
func TestAllocationsArePageAligned(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	page := uintptr(memoryPageSize())
	for i := 0; i < 3; i++ {
		mem, err := mgr.Allocate(1 + i*3)
		require.NoError(t, err)
		require.Zero(t, mem.Addr()%page, "allocation %d base not page-aligned", i)
		require.Zero(t, mem.AllocationSize()%int(page), "allocation %d footprint not page-multiple", i)
	}
	for _, bl := range mgr.blocks {
		require.Zero(t, addrOf(bl.mem)%page, "block base not page-aligned")
		require.Zero(t, len(bl.mem)%int(page), "block size not page-multiple")
	}
}

// TestMemoryManagerNewBlockOnExhaustion forces a second block: the first
// request fills a whole default-size block, so the next one cannot fit.
func TestMemoryManagerNewBlockOnExhaustion(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	_, err := mgr.AllocateAndCopy(make([]byte, defaultBlockBytes))
	require.NoError(t, err)
	_, err = mgr.AllocateAndCopy([]byte{0xC3})
	require.NoError(t, err)

	require.Len(t, mgr.blocks, 2)
}

func TestCompileEmptyBuilderFails(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	b := microir.NewBuilder()
	_, err := Compile(mgr, b, callconv.C, false)
	require.Error(t, err)
}

// TestJITWithRelocation exercises a CallRel against a symbol that is never
// bound (its value stays 0), checking that applyRelocations leaves the zero
// placeholder displacement unpatched.
func TestJITWithRelocation(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	callee := microir.NewBuilder()
	callee.LoadRegImm(register.Rax, 7, register.B64, microir.FlagNone)
	callee.Ret()
	calleeCompiled, err := Compile(mgr, callee, callconv.C, false)
	require.NoError(t, err)

	caller := microir.NewBuilder()
	caller.CallRel("callee")
	caller.Ret()
	callerCompiled, err := Compile(mgr, caller, callconv.C, false)
	require.NoError(t, err)

	// The symbol's address was unresolved at encode time, so
	// applyRelocations left the placeholder displacement untouched rather
	// than patching garbage in.
	symbols := callerCompiled.Enc.Symbols()
	require.Len(t, symbols, 1)
	require.Equal(t, "callee", symbols[0].Name)
	require.Zero(t, symbols[0].Value)

	code := callerCompiled.Mem.Bytes()
	require.Equal(t, byte(0xE8), code[0], "CALL rel32 opcode")
	require.EqualValues(t, []byte{0, 0, 0, 0}, code[1:5], "unresolved relocation left as a zero placeholder")

	_ = calleeCompiled
}
