package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/microir"
)

func TestGetOrAddInternsByName(t *testing.T) {
	tbl := NewSymbolTable()
	first := tbl.GetOrAdd("f", microir.SymbolFunction)
	again := tbl.GetOrAdd("f", microir.SymbolFunction)
	second := tbl.GetOrAdd("g", microir.SymbolExtern)

	require.Equal(t, first, again)
	require.NotEqual(t, first, second)
	require.Len(t, tbl.Symbols(), 2)
	require.Equal(t, "f", tbl.Symbol(first).Name)
	require.Equal(t, microir.SymbolExtern, tbl.Symbol(second).Kind)
	require.Equal(t, second, tbl.Symbol(second).Index)
}

func TestRelocationsKeepEmissionOrder(t *testing.T) {
	tbl := NewSymbolTable()
	f := tbl.GetOrAdd("f", microir.SymbolFunction)
	tbl.AddRelocation(1, f, RelocationRel32)
	tbl.AddAddressRelocation(9, 0xDEADBEE0, RelocationRel32)
	tbl.AddRelocation(17, f, RelocationRel32)

	relocs := tbl.Relocations()
	require.Len(t, relocs, 3)
	require.EqualValues(t, 1, relocs[0].CodeOffset)
	require.True(t, relocs[0].HasSymbol)
	require.EqualValues(t, 9, relocs[1].CodeOffset)
	require.False(t, relocs[1].HasSymbol)
	require.EqualValues(t, 0xDEADBEE0, relocs[1].TargetAddress)
	require.EqualValues(t, 17, relocs[2].CodeOffset)
}
