package encoder

import "github.com/tetrazero/codegen/microir"

// Symbol is an interned function/extern/custom/constant reference.
type Symbol struct {
	Name  string
	Kind  microir.SymbolKind
	Value uint64
	Index int
}

// RelocationKind names the relocation shape. This core only ever emits
// Rel32.
type RelocationKind uint8

const (
	RelocationRel32 RelocationKind = iota
)

// Relocation records a 4-byte displacement at CodeOffset that must be
// patched at load time against either a symbol (by index) or a raw target
// address.
type Relocation struct {
	CodeOffset uint64
	// exactly one of SymbolIndex/TargetAddress is meaningful, selected by
	// HasSymbol.
	SymbolIndex   int
	TargetAddress uint64
	HasSymbol     bool
	Kind          RelocationKind
}

// SymbolTable interns Symbols by name and tracks the Relocations recorded
// against them. Owned by the concrete encoder.
type SymbolTable struct {
	byName      map[string]int
	symbols     []Symbol
	relocations []Relocation
}

// NewSymbolTable constructs an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]int)}
}

// GetOrAdd interns name, creating a new Symbol of kind if unseen.
func (t *SymbolTable) GetOrAdd(name string, kind microir.SymbolKind) int {
	if idx, ok := t.byName[name]; ok {
		return idx
	}
	idx := len(t.symbols)
	t.symbols = append(t.symbols, Symbol{Name: name, Kind: kind, Index: idx})
	t.byName[name] = idx
	return idx
}

// Symbol returns the interned symbol at index.
func (t *SymbolTable) Symbol(index int) Symbol { return t.symbols[index] }

// Symbols returns every interned symbol, in interning order.
func (t *SymbolTable) Symbols() []Symbol { return t.symbols }

// AddRelocation records a Rel32 relocation at codeOffset against the symbol
// at symbolIndex.
func (t *SymbolTable) AddRelocation(codeOffset uint64, symbolIndex int, kind RelocationKind) {
	t.relocations = append(t.relocations, Relocation{
		CodeOffset: codeOffset, SymbolIndex: symbolIndex, HasSymbol: true, Kind: kind,
	})
}

// AddAddressRelocation records a Rel32 relocation at codeOffset against a
// raw target address rather than a symbol: the entry has HasSymbol false
// and is resolved against TargetAddress.
func (t *SymbolTable) AddAddressRelocation(codeOffset uint64, targetAddress uint64, kind RelocationKind) {
	t.relocations = append(t.relocations, Relocation{
		CodeOffset: codeOffset, TargetAddress: targetAddress, HasSymbol: false, Kind: kind,
	})
}

// Relocations returns every relocation recorded so far, in emission
// order.
func (t *SymbolTable) Relocations() []Relocation { return t.relocations }
