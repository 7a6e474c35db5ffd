// Package callconv holds the immutable, lazily-initialized calling
// convention table: one value type per convention carrying the register
// files, argument orders, saved-register partition, and struct-passing
// rules the allocator and code emitters consult.
package callconv

import "github.com/tetrazero/codegen/register"

// Kind names a predefined calling convention.
type Kind uint8

const (
	// C is the System-V AMD64 ABI used by Linux/macOS/BSD.
	C Kind = iota
	// WindowsX64 is the Microsoft x64 calling convention.
	WindowsX64
	// Host aliases whichever of C or WindowsX64 matches the build target.
	Host
)

func (k Kind) String() string {
	switch k {
	case C:
		return "c"
	case WindowsX64:
		return "windows-x64"
	case Host:
		return "host"
	default:
		return "invalid"
	}
}

// StructPassClass describes how a struct-by-value argument crosses the ABI
// boundary.
type StructPassClass uint8

const (
	// StructInRegisters means the struct is split across integer (and/or
	// float) argument registers.
	StructInRegisters StructPassClass = iota
	// StructInMemory means the struct is passed on the stack.
	StructInMemory
	// StructByReference means a pointer to a caller-materialized copy is
	// passed in a single register slot.
	StructByReference
)

// StructClassifier answers conformance queries about struct-by-value
// arguments for one calling convention.
type StructClassifier struct {
	// InIntSlots reports whether a register-passed struct of this size
	// occupies integer argument slots (true) or float slots (false).
	InIntSlots bool
	// byRefThreshold: structs strictly larger than this many bytes are
	// passed by reference instead of spilled to the stack directly.
	byRefThreshold uint32
	// regThreshold: structs at or under this many bytes that fit within the
	// remaining register budget are passed in registers.
	regThreshold uint32
}

// Classify returns how a struct of sizeBytes is passed, and whether the
// caller must materialize a copy (true for StructByReference).
func (s StructClassifier) Classify(sizeBytes uint32) (class StructPassClass, needsCopy bool) {
	switch {
	case sizeBytes <= s.regThreshold:
		return StructInRegisters, false
	case sizeBytes <= s.byRefThreshold:
		return StructInMemory, false
	default:
		return StructByReference, true
	}
}

// CallConv is one immutable calling-convention record.
type CallConv struct {
	Name string

	StackPointer  register.Reg
	FramePointer  register.Reg
	IntReturn     register.Reg
	FloatReturn   register.Reg
	IntArgs       []register.Reg
	FloatArgs     []register.Reg

	// IntRegs and FloatRegs are every physical register this convention
	// permits the allocator to assign, in declaration-order preference.
	IntRegs   []register.Reg
	FloatRegs []register.Reg

	// TransientRegs (caller-saved) and PersistentRegs (callee-saved) are
	// disjoint subsets of IntRegs ∪ FloatRegs.
	TransientRegs  []register.Reg
	PersistentRegs []register.Reg

	StackAlignment      uint32
	ParamSlotAlignment  uint32
	ParamSlotSize       uint32
	ShadowSpaceBytes    uint32
	RegisterArgSlots    int
	RedZone             bool

	Struct StructClassifier
}

// Conforms reports whether r is a register this convention's allocator may
// ever assign.
func (cc *CallConv) Conforms(r register.Reg) bool {
	for _, x := range cc.IntRegs {
		if x == r {
			return true
		}
	}
	for _, x := range cc.FloatRegs {
		if x == r {
			return true
		}
	}
	return false
}

// IsPersistent reports whether r is in this convention's callee-saved set.
func (cc *CallConv) IsPersistent(r register.Reg) bool {
	for _, x := range cc.PersistentRegs {
		if x == r {
			return true
		}
	}
	return false
}

// IsTransient reports whether r is in this convention's caller-saved set.
func (cc *CallConv) IsTransient(r register.Reg) bool {
	for _, x := range cc.TransientRegs {
		if x == r {
			return true
		}
	}
	return false
}

// table is the lazily-initialized, const-after-init registry.
var table [3]*CallConv

func init() {
	table[C] = buildSystemV()
	table[WindowsX64] = buildWindowsX64()
	table[Host] = table[hostKind()]
}

// Get returns the borrowed, immutable CallConv for kind. Host resolves to
// whichever of C/WindowsX64 matches the build target.
func Get(kind Kind) *CallConv {
	cc := table[kind]
	if cc == nil {
		panic("BUG: unknown call-conv kind")
	}
	return cc
}
