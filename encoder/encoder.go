// Package encoder defines the architecture-abstract encoder interface
// consumed by the pass pipeline, plus the conformance-issue and
// symbol-table types shared by every concrete backend.
//
// Only the encoding pass itself ever emits bytes — legalization and
// register allocation only need conformance and use-def queries — so no
// per-op dispatch crosses the pass boundary and the emit surface collapses
// into a single EncodeFunction entry point.
package encoder

import (
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// Encoder is the virtual surface consumed by the pass pipeline.
type Encoder interface {
	// EncodeFunction walks every instruction in b in program order and
	// appends its native encoding to the byte buffer. It is the sole
	// producer of output bytes, and runs exactly once per function.
	EncodeFunction(b *microir.Builder) error

	// CurrentOffset returns the current byte offset into the output buffer.
	CurrentOffset() uint64

	// StackPointerReg returns the architecture's stack-pointer register.
	StackPointerReg() register.Reg

	// QueryConformanceIssue reports whether instruction i of b violates a
	// target-legality rule and, if so, what rewrite is required.
	QueryConformanceIssue(b *microir.Builder, i int) Issue

	// UpdateRegUseDef returns the registers defined and used by
	// instruction i of b, for consumption by the register allocator.
	UpdateRegUseDef(b *microir.Builder, i int) (defs, uses []register.Reg)

	// GetOrAddSymbol interns name under kind and returns its symbol index.
	GetOrAddSymbol(name string, kind microir.SymbolKind) int

	// AddSymbolRelocation records a Rel32 relocation at codeOffset against
	// the symbol at symbolIndex.
	AddSymbolRelocation(codeOffset uint64, symbolIndex int, kind RelocationKind)

	// Bytes returns the encoded byte buffer built so far.
	Bytes() []byte

	// Relocations returns every relocation recorded so far.
	Relocations() []Relocation

	// Symbols returns every interned symbol, in interning order.
	Symbols() []Symbol
}
