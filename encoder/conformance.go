package encoder

// IssueKind names a legalization issue the concrete encoder can report
// against an instruction.
type IssueKind uint8

const (
	// IssueNone means the instruction is already target-legal.
	IssueNone IssueKind = iota
	// IssueClampImmediate: immediate exceeds the target slot; replace with
	// a widened load into a scratch register.
	IssueClampImmediate
	// IssueNormalizeOpBits: register.Zero must be replaced with a concrete
	// width (typically B32).
	IssueNormalizeOpBits
	// IssueSplitLoadMemImm64: a 64-bit immediate store is expanded into
	// load-imm -> store-reg using a transient integer register.
	IssueSplitLoadMemImm64
	// IssueSplitLoadAmcMemImm64 is the AMC (base+index*scale+disp) analog
	// of IssueSplitLoadMemImm64, treated symmetrically.
	IssueSplitLoadAmcMemImm64
	// IssueRewriteLoadFloatRegImm: moving an immediate into a float
	// register requires an integer staging register plus a MOVD/MOVQ path.
	IssueRewriteLoadFloatRegImm
)

// Issue is the legalizer's conformance verdict for one instruction: either
// IssueNone, or a rewrite to perform plus the index of the operand that
// triggered it.
type Issue struct {
	Kind IssueKind
	// OperandIndex names which operand triggered the issue, when relevant
	// (e.g. which immediate slot overflowed its target width).
	OperandIndex int
}
