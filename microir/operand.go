package microir

import (
	"fmt"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/register"
)

// OperandKind tags the active field of an Operand: a tagged sum type
// standing in for a C-style union over register/immediate/width/condition
// code.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImmU64
	OperandImmI32
	OperandImmU32
	OperandWidth
	OperandCond
	OperandJumpKind
	OperandArith
	OperandCallConv
	OperandName
	OperandJumpToken
)

// JumpKind distinguishes conditional from unconditional control transfer.
type JumpKind uint8

const (
	JumpUnconditional JumpKind = iota
	JumpConditional
)

// ArithOp is the scalar arithmetic sub-kind carried by OpBinary*/OpTernary*
// instructions.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithAnd
	ArithOr
	ArithXor
	ArithDivUnsigned
	ArithDivSigned
	ArithModUnsigned
	ArithModSigned
	ArithMulUnsigned
	ArithNeg
	ArithNot
	ArithShl
	ArithShr // logical right shift
	ArithSar // arithmetic (signed) right shift
	ArithRol
	ArithRor
	ArithCmpXchg
	ArithXchg
	ArithFloatAdd
	ArithFloatSub
	ArithFloatMul
	ArithFloatDiv
	ArithFloatMin
	ArithFloatMax
	ArithFloatSqrt
	ArithFloatAnd
	ArithFloatXor
)

func (a ArithOp) String() string {
	names := [...]string{
		"add", "sub", "and", "or", "xor", "div_u", "div_s", "mod_u", "mod_s", "mul_u",
		"neg", "not", "shl", "shr", "sar", "rol", "ror", "cmpxchg", "xchg",
		"fadd", "fsub", "fmul", "fdiv", "fmin", "fmax", "fsqrt", "fand", "fxor",
	}
	if int(a) < len(names) {
		return names[a]
	}
	return "invalid-arith"
}

// SymbolKind classifies a Symbol.
type SymbolKind uint8

const (
	SymbolFunction SymbolKind = iota
	SymbolExtern
	SymbolCustom
	SymbolConstant
)

// SymbolRef is an interned reference: the name plus the kind the
// builder recorded when the symbol was first seen, packaged so an Operand
// can carry it by value.
type SymbolRef struct {
	Name string
	Kind SymbolKind
}

// Operand is one slot of an instruction's positional operand vector.
// Exactly one field is meaningful, selected by Kind.
type Operand struct {
	Kind OperandKind

	Reg      register.Reg
	ImmU64   uint64
	ImmI32   int32
	ImmU32   uint32
	Width    register.Width
	Cond     register.Cond
	JumpKind JumpKind
	Arith    ArithOp
	CallConv callconv.Kind
	Name     SymbolRef
	Token    JumpToken
}

func regOperand(r register.Reg) Operand       { return Operand{Kind: OperandReg, Reg: r} }
func immU64Operand(v uint64) Operand          { return Operand{Kind: OperandImmU64, ImmU64: v} }
func immI32Operand(v int32) Operand           { return Operand{Kind: OperandImmI32, ImmI32: v} }
func immU32Operand(v uint32) Operand          { return Operand{Kind: OperandImmU32, ImmU32: v} }
func widthOperand(w register.Width) Operand   { return Operand{Kind: OperandWidth, Width: w} }
func condOperand(c register.Cond) Operand     { return Operand{Kind: OperandCond, Cond: c} }
func jumpKindOperand(k JumpKind) Operand      { return Operand{Kind: OperandJumpKind, JumpKind: k} }
func arithOperand(a ArithOp) Operand          { return Operand{Kind: OperandArith, Arith: a} }
func callConvOperand(k callconv.Kind) Operand { return Operand{Kind: OperandCallConv, CallConv: k} }
func nameOperand(n SymbolRef) Operand         { return Operand{Kind: OperandName, Name: n} }
func tokenOperand(t JumpToken) Operand        { return Operand{Kind: OperandJumpToken, Token: t} }

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.String()
	case OperandImmU64:
		return fmt.Sprintf("0x%x", o.ImmU64)
	case OperandImmI32:
		return fmt.Sprintf("%d", o.ImmI32)
	case OperandImmU32:
		return fmt.Sprintf("0x%x", o.ImmU32)
	case OperandWidth:
		return o.Width.String()
	case OperandCond:
		return o.Cond.String()
	case OperandArith:
		return o.Arith.String()
	case OperandName:
		return o.Name.Name
	default:
		return "<operand>"
	}
}
