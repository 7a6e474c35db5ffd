// Package legalize implements the legalization pass: it walks
// the instruction stream and rewrites operands into target-legal shapes by
// consulting the concrete encoder's conformance query. It never removes
// instructions and preserves program order.
package legalize

import (
	"fmt"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/pass"
	"github.com/tetrazero/codegen/register"
)

// Pass is the legalization pass.
type Pass struct{}

// New constructs the legalization pass.
func New() *Pass { return &Pass{} }

func (p *Pass) Name() string { return "legalize" }

func (p *Pass) Run(b *microir.Builder, enc encoder.Encoder, ctx *pass.Context) error {
	if err := fixupAddressingScales(b); err != nil {
		return err
	}

	// Instruction count grows as we rewrite, so re-read Len() each
	// iteration; newly inserted instructions are always already-legal
	// (a LoadRegImm into a scratch, or a register-register form), so a
	// single forward pass suffices. Rewrites only ever insert and
	// replace; program order is preserved and nothing is removed.
	for i := 0; i < b.Len(); i++ {
		issue := enc.QueryConformanceIssue(b, i)
		if issue.Kind == encoder.IssueNone {
			continue
		}
		next, err := apply(b, i, issue, ctx.CallConvKind)
		if err != nil {
			return err
		}
		i = next - 1 // loop increment advances past the rewritten site.
	}
	return nil
}

// apply performs the rewrite for one issue, returning the index to resume
// scanning from (the position immediately after the rewritten instruction).
func apply(b *microir.Builder, i int, issue encoder.Issue, kind callconv.Kind) (int, error) {
	switch issue.Kind {
	case encoder.IssueNormalizeOpBits:
		return normalizeOpBits(b, i), nil
	case encoder.IssueClampImmediate:
		return clampImmediate(b, i, issue.OperandIndex)
	case encoder.IssueSplitLoadMemImm64:
		return splitLoadMemImm64(b, i)
	case encoder.IssueSplitLoadAmcMemImm64:
		return splitLoadAmcMemImm64(b, i)
	case encoder.IssueRewriteLoadFloatRegImm:
		return rewriteLoadFloatRegImm(b, i)
	default:
		return 0, fmt.Errorf("legalize: unhandled conformance issue kind %d at instruction %d", issue.Kind, i)
	}
}

// normalizeOpBits replaces every register.Zero width operand in
// instruction i with B32, in place (no arity change).
func normalizeOpBits(b *microir.Builder, i int) int {
	ops := b.Operands(i)
	for j, op := range ops {
		if op.Kind == microir.OperandWidth && op.Width == register.Zero {
			fixed := op
			fixed.Width = register.B32
			b.SetOperand(i, j, fixed)
		}
	}
	return i + 1
}

// clampImmediate replaces an over-wide immediate operand with a load into a
// fresh scratch register plus a register-form rewrite of the consuming
// instruction.
func clampImmediate(b *microir.Builder, i int, operandIndex int) (int, error) {
	ins := b.InstrAt(i)
	ops := b.Operands(i)
	width := widthOf(ops)
	imm := ops[operandIndex].ImmU64

	scratch := b.NewVirtualInt()
	insertIdx := b.InsertBefore(i, []microir.Instr{{Kind: microir.KindLoadRegImm}},
		[][]microir.Operand{{regOp(scratch), immOp(imm), widthOp(width)}})

	switch ins.Kind {
	case microir.KindOpBinaryRegImm:
		b.Replace(insertIdx, microir.KindOpBinaryRegReg, ins.Flags, ops[0], regOp(scratch), ops[2], ops[3])
	case microir.KindOpBinaryMemImm:
		b.Replace(insertIdx, microir.KindOpBinaryMemReg, ins.Flags, ops[0], ops[1], regOp(scratch), ops[3], ops[4])
	case microir.KindCmpRegImm:
		b.Replace(insertIdx, microir.KindCmpRegReg, ins.Flags, ops[0], regOp(scratch), ops[2])
	case microir.KindCmpMemImm:
		b.Replace(insertIdx, microir.KindCmpMemReg, ins.Flags, ops[0], ops[1], regOp(scratch), ops[3])
	case microir.KindImul3:
		// Imul3 is dst = src * imm; Imul2 only has the in-place dst = dst *
		// src form, so stage src into dst first, then fold the clamped
		// immediate in from scratch.
		dst, src, _, widthOperand := ops[0], ops[1], ops[2], ops[3]
		moveIdx := b.InsertBefore(insertIdx, []microir.Instr{{Kind: microir.KindLoadRegReg}},
			[][]microir.Operand{{dst, src, widthOperand}})
		b.Replace(moveIdx, microir.KindImul2, ins.Flags, dst, regOp(scratch), widthOperand)
		return moveIdx + 1, nil
	case microir.KindShiftRegImm:
		return 0, fmt.Errorf("legalize: shift count immediate must fit imm8, got 0x%x", imm)
	default:
		return 0, fmt.Errorf("legalize: ClampImmediate issued against unsupported kind %v", ins.Kind)
	}
	return insertIdx + 1, nil
}

// splitLoadMemImm64 expands a 64-bit immediate memory store into
// load-imm -> store-reg using a transient scratch.
func splitLoadMemImm64(b *microir.Builder, i int) (int, error) {
	ins := b.InstrAt(i)
	ops := b.Operands(i)
	base, disp, imm, width := ops[0], ops[1], ops[2].ImmU64, ops[3].Width

	scratch := b.NewVirtualInt()
	insertIdx := b.InsertBefore(i, []microir.Instr{{Kind: microir.KindLoadRegImm}},
		[][]microir.Operand{{regOp(scratch), immOp(imm), widthOp(width)}})
	b.Replace(insertIdx, microir.KindLoadMemReg, ins.Flags, base, disp, regOp(scratch), ops[3])
	return insertIdx + 1, nil
}

// splitLoadAmcMemImm64 is the AMC analog of splitLoadMemImm64, treated
// symmetrically.
func splitLoadAmcMemImm64(b *microir.Builder, i int) (int, error) {
	ins := b.InstrAt(i)
	ops := b.Operands(i)
	base, index, scale, disp, imm, width := ops[0], ops[1], ops[2], ops[3], ops[4].ImmU64, ops[5].Width

	scratch := b.NewVirtualInt()
	insertIdx := b.InsertBefore(i, []microir.Instr{{Kind: microir.KindLoadRegImm}},
		[][]microir.Operand{{regOp(scratch), immOp(imm), widthOp(width)}})
	b.Replace(insertIdx, microir.KindLoadMemIndexedReg, ins.Flags, base, index, scale, disp, regOp(scratch), ops[5])
	return insertIdx + 1, nil
}

// rewriteLoadFloatRegImm stages an immediate through an integer scratch
// register before moving it into the float register with MOVD/MOVQ.
// The consuming instruction is expected to
// be a LoadRegImm whose destination is a float-class register; it is
// rewritten to an int-scratch LoadRegImm followed by a FloatConvert-style
// bit move, modeled as a LoadRegReg between register classes (the encoder
// recognizes the int->float register-pair as a MOVD/MOVQ request).
func rewriteLoadFloatRegImm(b *microir.Builder, i int) (int, error) {
	ins := b.InstrAt(i)
	ops := b.Operands(i)
	dst, imm, width := ops[0].Reg, ops[1].ImmU64, ops[2].Width

	scratch := b.NewVirtualInt()
	insertIdx := b.InsertBefore(i, []microir.Instr{{Kind: microir.KindLoadRegImm}},
		[][]microir.Operand{{regOp(scratch), immOp(imm), widthOp(width)}})
	b.Replace(insertIdx, microir.KindLoadRegReg, ins.Flags, regOp(dst), regOp(scratch), widthOp(width))
	return insertIdx + 1, nil
}

// fixupAddressingScales rewrites any LEA/AMC-addressing instruction whose
// scale is not in {1,2,4,8} into an equivalent disp-only form by folding
// index*scale into a scratch register ahead of it; the encoder refuses
// scale values outside that set.
func fixupAddressingScales(b *microir.Builder) error {
	for i := 0; i < b.Len(); i++ {
		ins := b.InstrAt(i)
		var scaleOperandIdx int
		switch ins.Kind {
		case microir.KindLeaRegMemIndexed, microir.KindLoadRegMemIndexed:
			scaleOperandIdx = 3
		case microir.KindLoadMemIndexedReg, microir.KindLoadMemIndexedImm:
			scaleOperandIdx = 2
		default:
			continue
		}
		ops := b.Operands(i)
		scale := ops[scaleOperandIdx].ImmU32
		if scale == 1 || scale == 2 || scale == 4 || scale == 8 {
			continue
		}

		width := register.B64
		folded := b.NewVirtualInt()
		index := ops[scaleOperandIdx-1]
		base := ops[0]
		var baseReg microir.Operand
		if ins.Kind == microir.KindLeaRegMemIndexed || ins.Kind == microir.KindLoadRegMemIndexed {
			baseReg = ops[1]
		} else {
			baseReg = base
		}

		insertIdx := b.InsertBefore(i, []microir.Instr{{Kind: microir.KindImul3}},
			[][]microir.Operand{{regOp(folded), index, immOp(uint64(scale)), widthOp(width)}})
		insertIdx = b.InsertBefore(insertIdx, []microir.Instr{{Kind: microir.KindOpBinaryRegReg}},
			[][]microir.Operand{{regOp(folded), baseReg, arithOp(), widthOp(width)}})

		ops = b.Operands(insertIdx)
		switch ins.Kind {
		case microir.KindLeaRegMemIndexed:
			b.Replace(insertIdx, microir.KindLeaRegMem, ins.Flags, ops0(ops, 0), regOp(folded), ops0(ops, 4), ops0(ops, 5))
		case microir.KindLoadRegMemIndexed:
			b.Replace(insertIdx, microir.KindLoadRegMem, ins.Flags, ops0(ops, 0), regOp(folded), ops0(ops, 4), ops0(ops, 5))
		case microir.KindLoadMemIndexedReg:
			b.Replace(insertIdx, microir.KindLoadMemReg, ins.Flags, regOp(folded), ops0(ops, 3), ops0(ops, 4), ops0(ops, 5))
		case microir.KindLoadMemIndexedImm:
			b.Replace(insertIdx, microir.KindLoadMemImm, ins.Flags, regOp(folded), ops0(ops, 3), ops0(ops, 4), ops0(ops, 5))
		}
		i = insertIdx
	}
	return nil
}

func ops0(ops []microir.Operand, idx int) microir.Operand { return ops[idx] }

func widthOf(ops []microir.Operand) register.Width {
	for _, op := range ops {
		if op.Kind == microir.OperandWidth {
			return op.Width
		}
	}
	return register.B32
}

func regOp(r register.Reg) microir.Operand    { return microir.Operand{Kind: microir.OperandReg, Reg: r} }
func immOp(v uint64) microir.Operand          { return microir.Operand{Kind: microir.OperandImmU64, ImmU64: v} }
func widthOp(w register.Width) microir.Operand { return microir.Operand{Kind: microir.OperandWidth, Width: w} }
func arithOp() microir.Operand                { return microir.Operand{Kind: microir.OperandArith, Arith: microir.ArithAdd} }
