// Package amd64debug cross-checks the amd64 encoder against Go's own
// assembler for a curated set of instruction shapes: it builds the same
// handful of instructions a second way, through golang-asm directly, and
// lets callers diff the two byte outputs. Determinism of emission alone
// gives no cross-assembler guarantee, so this is additional, offline
// confidence that the opcode tables in amd64/emit*.go agree with Go's own
// amd64 assembler on these shapes.
package amd64debug

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"github.com/twitchyliquid64/golang-asm/objabi"

	"github.com/tetrazero/codegen/register"
)

// regTable maps the curated integer-register subset this package supports
// to golang-asm's x86.REG_* constants; only the registers exercised by the
// differential tests need an entry.
var regTable = map[register.Reg]int16{
	register.Rax:    x86.REG_AX,
	register.Rcx:    x86.REG_CX,
	register.Rdx:    x86.REG_DX,
	register.Rbx:    x86.REG_BX,
	register.Rsp:    x86.REG_SP,
	register.Rbp:    x86.REG_BP,
	register.Rsi:    x86.REG_SI,
	register.Rdi:    x86.REG_DI,
	register.R8reg:  x86.REG_R8,
	register.R9reg:  x86.REG_R9,
	register.R10reg: x86.REG_R10,
	register.R11reg: x86.REG_R11,
	register.R12reg: x86.REG_R12,
	register.R13reg: x86.REG_R13,
	register.R14reg: x86.REG_R14,
	register.R15reg: x86.REG_R15,
}

func goReg(r register.Reg) (int16, error) {
	gr, ok := regTable[r]
	if !ok {
		return 0, fmt.Errorf("amd64debug: register %s has no golang-asm mapping", r)
	}
	return gr, nil
}

// builder wraps a fresh golang-asm builder, matching
// golang_asm.NewGolangAsmBaseAssembler's setup (NOP padding is irrelevant
// here since every reference sequence is built and assembled in one shot).
type builder struct {
	b *goasm.Builder
}

func newBuilder() (*builder, error) {
	objabi.GOAMD64 = "disable"
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("amd64debug: new golang-asm builder: %w", err)
	}
	return &builder{b: b}, nil
}

func (bd *builder) standAlone(as obj.As) {
	p := bd.b.NewProg()
	p.As = as
	bd.b.AddInstruction(p)
}

func (bd *builder) regToReg(as obj.As, from, to int16) {
	p := bd.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg = obj.TYPE_REG, from
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	bd.b.AddInstruction(p)
}

func (bd *builder) constToReg(as obj.As, value int64, to int16) {
	p := bd.b.NewProg()
	p.As = as
	p.From.Type, p.From.Offset = obj.TYPE_CONST, value
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	bd.b.AddInstruction(p)
}

func (bd *builder) memToReg(as obj.As, baseReg int16, offset int64, to int16) {
	p := bd.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg, p.From.Offset = obj.TYPE_MEM, baseReg, offset
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	bd.b.AddInstruction(p)
}

func (bd *builder) assemble() []byte { return bd.b.Assemble() }

// Ret returns Go's encoding of a bare RET.
func Ret() ([]byte, error) {
	bd, err := newBuilder()
	if err != nil {
		return nil, err
	}
	bd.standAlone(obj.ARET)
	return bd.assemble(), nil
}

// MovRegImm64 returns Go's encoding of a 64-bit MOV of an immediate into
// dst (the reference analog of microir.KindLoadRegImm at register.B64).
func MovRegImm64(dst register.Reg, imm uint64) ([]byte, error) {
	bd, err := newBuilder()
	if err != nil {
		return nil, err
	}
	to, err := goReg(dst)
	if err != nil {
		return nil, err
	}
	bd.constToReg(x86.AMOVQ, int64(imm), to)
	return bd.assemble(), nil
}

// MovRegReg64 returns Go's encoding of a 64-bit register-to-register MOV
// (the reference analog of microir.KindLoadRegReg at register.B64).
func MovRegReg64(dst, src register.Reg) ([]byte, error) {
	bd, err := newBuilder()
	if err != nil {
		return nil, err
	}
	from, err := goReg(src)
	if err != nil {
		return nil, err
	}
	to, err := goReg(dst)
	if err != nil {
		return nil, err
	}
	bd.regToReg(x86.AMOVQ, from, to)
	return bd.assemble(), nil
}

// AddRegReg64 returns Go's encoding of a 64-bit ADD dst, src (the
// reference analog of microir.KindOpBinaryRegReg/ArithAdd at register.B64).
func AddRegReg64(dst, src register.Reg) ([]byte, error) {
	bd, err := newBuilder()
	if err != nil {
		return nil, err
	}
	from, err := goReg(src)
	if err != nil {
		return nil, err
	}
	to, err := goReg(dst)
	if err != nil {
		return nil, err
	}
	bd.regToReg(x86.AADDQ, from, to)
	return bd.assemble(), nil
}

// LoadRegMem64 returns Go's encoding of a 64-bit MOV from [base+disp] into
// dst (the reference analog of microir.KindLoadRegMem at register.B64).
func LoadRegMem64(dst, base register.Reg, disp int64) ([]byte, error) {
	bd, err := newBuilder()
	if err != nil {
		return nil, err
	}
	b, err := goReg(base)
	if err != nil {
		return nil, err
	}
	to, err := goReg(dst)
	if err != nil {
		return nil, err
	}
	bd.memToReg(x86.AMOVQ, b, disp, to)
	return bd.assemble(), nil
}
