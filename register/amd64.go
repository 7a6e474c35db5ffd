package register

// Integer and float physical register indices follow the standard x86-64
// numbering used throughout the encoder: index 0 is RAX/XMM0,
// 4 is RSP, 5 is RBP, 8..15 are the R8-R15/XMM8-XMM15 extended registers.
const (
	RAX uint8 = 0
	RCX uint8 = 1
	RDX uint8 = 2
	RBX uint8 = 3
	RSP uint8 = 4
	RBP uint8 = 5
	RSI uint8 = 6
	RDI uint8 = 7
	R8  uint8 = 8
	R9  uint8 = 9
	R10 uint8 = 10
	R11 uint8 = 11
	R12 uint8 = 12
	R13 uint8 = 13
	R14 uint8 = 14
	R15 uint8 = 15
)

// Int returns the physical integer register with the given x86 index.
func Int(index uint8) Reg { return New(ClassInt, index) }

// Float returns the physical XMM register with the given index.
func Float(index uint8) Reg { return New(ClassFloat, index) }

// Predefined GPR identities, named for readability at call sites.
var (
	Rax    = Int(RAX)
	Rcx    = Int(RCX)
	Rdx    = Int(RDX)
	Rbx    = Int(RBX)
	Rsp    = Int(RSP)
	Rbp    = Int(RBP)
	Rsi    = Int(RSI)
	Rdi    = Int(RDI)
	R8reg  = Int(R8)
	R9reg  = Int(R9)
	R10reg = Int(R10)
	R11reg = Int(R11)
	R12reg = Int(R12)
	R13reg = Int(R13)
	R14reg = Int(R14)
	R15reg = Int(R15)
)

// Xmm returns the physical XMM register with the given index, 0..15.
func Xmm(index uint8) Reg { return Float(index) }
