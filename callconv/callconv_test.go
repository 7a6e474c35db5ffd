package callconv

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/register"
)

func TestGetReturnsSameInstance(t *testing.T) {
	require.Same(t, Get(C), Get(C))
	require.Same(t, Get(WindowsX64), Get(WindowsX64))
}

func TestHostAliasesBuildTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		require.Same(t, Get(WindowsX64), Get(Host))
	} else {
		require.Same(t, Get(C), Get(Host))
	}
}

func TestSystemVShape(t *testing.T) {
	cc := Get(C)
	require.Equal(t, register.Rsp, cc.StackPointer)
	require.Equal(t, register.Rbp, cc.FramePointer)
	require.Equal(t, register.Rax, cc.IntReturn)
	require.Equal(t, register.Xmm(0), cc.FloatReturn)
	require.Equal(t, []register.Reg{register.Rdi, register.Rsi, register.Rdx, register.Rcx, register.R8reg, register.R9reg}, cc.IntArgs)
	require.EqualValues(t, 16, cc.StackAlignment)
	require.Zero(t, cc.ShadowSpaceBytes)
	require.True(t, cc.RedZone)
}

func TestWindowsX64Shape(t *testing.T) {
	cc := Get(WindowsX64)
	require.Equal(t, []register.Reg{register.Rcx, register.Rdx, register.R8reg, register.R9reg}, cc.IntArgs)
	require.EqualValues(t, 32, cc.ShadowSpaceBytes)
	require.Equal(t, 4, cc.RegisterArgSlots)
	require.False(t, cc.RedZone)
}

// TestTransientPersistentPartition checks the caller-/callee-saved sets are
// disjoint and drawn from the allocatable pools.
func TestTransientPersistentPartition(t *testing.T) {
	for _, kind := range []Kind{C, WindowsX64} {
		cc := Get(kind)
		seen := make(map[register.Reg]bool)
		for _, r := range cc.TransientRegs {
			seen[r] = true
		}
		for _, r := range cc.PersistentRegs {
			require.False(t, seen[r], "%s: register %s is both transient and persistent", cc.Name, r)
		}
		for _, r := range append(append([]register.Reg{}, cc.TransientRegs...), cc.PersistentRegs...) {
			require.True(t, cc.Conforms(r), "%s: register %s is saved-classified but not allocatable", cc.Name, r)
		}
	}
}

func TestConforms(t *testing.T) {
	cc := Get(C)
	require.True(t, cc.Conforms(register.Rax))
	require.True(t, cc.Conforms(register.Xmm(7)))
	require.False(t, cc.Conforms(register.Rsp), "the stack pointer is never allocatable")
	require.False(t, cc.Conforms(register.VirtualInt(0)))
}

func TestStructClassifySystemV(t *testing.T) {
	cc := Get(C)
	class, copyNeeded := cc.Struct.Classify(16)
	require.Equal(t, StructInRegisters, class)
	require.False(t, copyNeeded)

	class, copyNeeded = cc.Struct.Classify(17)
	require.Equal(t, StructByReference, class)
	require.True(t, copyNeeded)
}

func TestStructClassifyWindows(t *testing.T) {
	cc := Get(WindowsX64)
	class, copyNeeded := cc.Struct.Classify(8)
	require.Equal(t, StructInRegisters, class)
	require.False(t, copyNeeded)

	class, copyNeeded = cc.Struct.Classify(24)
	require.Equal(t, StructByReference, class)
	require.True(t, copyNeeded)
}
