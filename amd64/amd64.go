// Package amd64 implements the concrete x86-64 encoder: REX/ModRM/SIB
// emission, displacement sizing, and relocation recording against System-V
// and Microsoft x64 calling conventions alike (the calling convention only
// matters to callers of this package, not to the byte-level encoding
// itself).
package amd64

import (
	"fmt"

	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// jumpSite records where a Jump instruction's displacement field lives in
// the output buffer, so a later PatchJump can back-patch it in place.
type jumpSite struct {
	dispOffset int
	dispWidth  register.Width
	instrEnd   int
}

// Encoder is the x86-64 concrete encoder. One Encoder encodes exactly one
// function's instruction stream; the caller constructs a fresh Encoder per
// function.
type Encoder struct {
	buf     []byte
	symbols *encoder.SymbolTable
	// jumpSites is keyed by the Jump instruction's own index in the
	// Builder, not by JumpToken — EncodeFunction observes that index
	// directly while iterating, and Builder.JumpTokenInstrIndex recovers
	// it again from the token carried by the matching PatchJump.
	jumpSites map[int]jumpSite
}

// New constructs an empty x86-64 encoder.
func New() *Encoder {
	return &Encoder{symbols: encoder.NewSymbolTable(), jumpSites: make(map[int]jumpSite)}
}

func (e *Encoder) CurrentOffset() uint64 { return uint64(len(e.buf)) }

func (e *Encoder) StackPointerReg() register.Reg { return register.Rsp }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Relocations() []encoder.Relocation { return e.symbols.Relocations() }

func (e *Encoder) Symbols() []encoder.Symbol { return e.symbols.Symbols() }

func (e *Encoder) GetOrAddSymbol(name string, kind microir.SymbolKind) int {
	return e.symbols.GetOrAdd(name, kind)
}

func (e *Encoder) AddSymbolRelocation(codeOffset uint64, symbolIndex int, kind encoder.RelocationKind) {
	e.symbols.AddRelocation(codeOffset, symbolIndex, kind)
}

// QueryConformanceIssue is the encoder-side half of legalization: it
// inspects one instruction's operands against this
// target's actual encoding limits.
func (e *Encoder) QueryConformanceIssue(b *microir.Builder, i int) encoder.Issue {
	ins := b.InstrAt(i)
	ops := b.Operands(i)

	for j, op := range ops {
		if op.Kind == microir.OperandWidth && op.Width == register.Zero {
			return encoder.Issue{Kind: encoder.IssueNormalizeOpBits, OperandIndex: j}
		}
	}

	switch ins.Kind {
	case microir.KindOpBinaryRegImm, microir.KindCmpRegImm:
		if idx := clampableImmIndex(ops, 1); idx >= 0 {
			return encoder.Issue{Kind: encoder.IssueClampImmediate, OperandIndex: idx}
		}
	case microir.KindOpBinaryMemImm, microir.KindCmpMemImm:
		if idx := clampableImmIndex(ops, 2); idx >= 0 {
			return encoder.Issue{Kind: encoder.IssueClampImmediate, OperandIndex: idx}
		}
	case microir.KindImul3:
		if idx := clampableImmIndex(ops, 2); idx >= 0 {
			return encoder.Issue{Kind: encoder.IssueClampImmediate, OperandIndex: idx}
		}
	case microir.KindShiftRegImm:
		if ops[1].ImmU64 > 0xFF {
			return encoder.Issue{Kind: encoder.IssueClampImmediate, OperandIndex: 1}
		}
	case microir.KindLoadMemImm:
		width := ops[3].Width
		if width == register.B64 && !lowDwordSignExtends(ops[2].ImmU64) {
			return encoder.Issue{Kind: encoder.IssueSplitLoadMemImm64}
		}
	case microir.KindLoadMemIndexedImm:
		width := ops[5].Width
		if width == register.B64 && !lowDwordSignExtends(ops[4].ImmU64) {
			return encoder.Issue{Kind: encoder.IssueSplitLoadAmcMemImm64}
		}
	case microir.KindLoadRegImm:
		if ops[0].Reg.IsFloat() {
			return encoder.Issue{Kind: encoder.IssueRewriteLoadFloatRegImm}
		}
	}
	return encoder.Issue{Kind: encoder.IssueNone}
}

// clampableImmIndex reports the operand index of an immediate that does not
// fit the widest native immediate slot any of these instructions have
// (imm32, sign-extended to the operand width): group1 arithmetic/compare
// opcodes and Imul3 all top out at imm32.
func clampableImmIndex(ops []microir.Operand, immIndex int) int {
	if lowDwordSignExtends(ops[immIndex].ImmU64) {
		return -1
	}
	return immIndex
}

// UpdateRegUseDef reports the registers defined and used by instruction i,
// for the linear-scan allocator. Memory-base and
// memory-index registers are always uses; a plain destination register
// operand is a def unless the instruction reads-and-writes it in place
// (e.g. OpBinaryRegReg's dst).
func (e *Encoder) UpdateRegUseDef(b *microir.Builder, i int) (defs, uses []register.Reg) {
	ins := b.InstrAt(i)
	ops := b.Operands(i)
	reg := func(j int) register.Reg { return ops[j].Reg }
	def := func(r register.Reg) { defs = append(defs, r) }
	use := func(r register.Reg) { uses = append(uses, r) }
	defUse := func(r register.Reg) { def(r); use(r) }

	switch ins.Kind {
	case microir.KindPush, microir.KindCallReg, microir.KindTrampolineLoadAndCall:
		use(reg(0))
	case microir.KindPop:
		def(reg(0))
	case microir.KindLoadRegImm:
		def(reg(0))
	case microir.KindLoadRegReg, microir.KindMovSX, microir.KindMovZX, microir.KindPopCount,
		microir.KindBitScanForward, microir.KindBitScanReverse, microir.KindFloatConvert:
		def(reg(0))
		use(reg(1))
	case microir.KindLoadRegMem:
		def(reg(0))
		if reg(1) != register.InstructionPointer {
			use(reg(1))
		}
	case microir.KindLoadMemReg:
		if reg(0) != register.InstructionPointer {
			use(reg(0))
		}
		use(reg(2))
	case microir.KindLoadMemImm:
		if reg(0) != register.InstructionPointer {
			use(reg(0))
		}
	case microir.KindLeaRegMem:
		def(reg(0))
		if reg(1) != register.InstructionPointer {
			use(reg(1))
		}
	case microir.KindLeaRegMemIndexed, microir.KindLoadRegMemIndexed:
		def(reg(0))
		use(reg(1))
		use(reg(2))
	case microir.KindLoadMemIndexedReg:
		use(reg(0))
		use(reg(1))
		use(reg(4))
	case microir.KindLoadMemIndexedImm:
		use(reg(0))
		use(reg(1))
	case microir.KindOpUnaryReg:
		defUse(reg(0))
	case microir.KindOpUnaryMem:
		use(reg(0))
	case microir.KindOpBinaryRegReg, microir.KindFloatBinaryRegReg:
		defUse(reg(0))
		use(reg(1))
	case microir.KindOpBinaryRegMem:
		defUse(reg(0))
		use(reg(1))
	case microir.KindOpBinaryMemReg:
		use(reg(0))
		use(reg(2))
	case microir.KindOpBinaryRegImm:
		defUse(reg(0))
	case microir.KindOpBinaryMemImm:
		use(reg(0))
	case microir.KindOpTernaryRegRegReg:
		defUse(reg(0))
		use(reg(1))
		use(reg(2))
	case microir.KindCmpRegReg, microir.KindFloatCmpRegReg:
		use(reg(0))
		use(reg(1))
	case microir.KindCmpRegImm:
		use(reg(0))
	case microir.KindCmpRegMem:
		use(reg(0))
		use(reg(1))
	case microir.KindCmpMemReg:
		use(reg(0))
		use(reg(2))
	case microir.KindCmpMemImm:
		use(reg(0))
	case microir.KindSetCC:
		def(reg(0))
	case microir.KindCmovCC:
		defUse(reg(0))
		use(reg(1))
	case microir.KindShiftRegImm, microir.KindShiftRegCL, microir.KindByteSwap:
		defUse(reg(0))
	case microir.KindImul2:
		defUse(reg(0))
		use(reg(1))
	case microir.KindImul3:
		def(reg(0))
		use(reg(1))
	case microir.KindJumpReg:
		use(reg(0))
	case microir.KindJumpTable:
		defUse(reg(0))
		defUse(reg(1))
	}
	return defs, uses
}

// EncodeFunction is the sole byte producer.
func (e *Encoder) EncodeFunction(b *microir.Builder) error {
	for i := 0; i < b.Len(); i++ {
		if err := e.emit(b, i); err != nil {
			return fmt.Errorf("amd64: instruction %d: %w", i, err)
		}
	}
	return nil
}
