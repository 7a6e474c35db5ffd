package callconv

import "github.com/tetrazero/codegen/register"

// buildWindowsX64 constructs the Microsoft x64 calling convention: 4 register
// argument slots shared in parallel between int and float registers, a
// mandatory 32-byte shadow space, no red zone, and struct-by-value always
// passed by reference above 8 bytes.
func buildWindowsX64() *CallConv {
	intArgs := []register.Reg{register.Rcx, register.Rdx, register.R8reg, register.R9reg}
	floatArgs := []register.Reg{register.Xmm(0), register.Xmm(1), register.Xmm(2), register.Xmm(3)}

	intRegs := []register.Reg{
		register.Rax, register.Rcx, register.Rdx, register.Rbx, register.Rsi, register.Rdi,
		register.R8reg, register.R9reg, register.R10reg, register.R11reg, register.R12reg, register.R13reg, register.R14reg, register.R15reg,
	}
	floatRegs := make([]register.Reg, 16)
	for i := range floatRegs {
		floatRegs[i] = register.Xmm(uint8(i))
	}

	persistent := []register.Reg{
		register.Rbx, register.Rsi, register.Rdi, register.R12reg, register.R13reg, register.R14reg, register.R15reg,
	}
	for i := uint8(6); i < 16; i++ {
		persistent = append(persistent, register.Xmm(i))
	}
	transient := []register.Reg{register.Rax, register.Rcx, register.Rdx, register.R8reg, register.R9reg, register.R10reg, register.R11reg}
	for i := uint8(0); i < 6; i++ {
		transient = append(transient, register.Xmm(i))
	}

	return &CallConv{
		Name:         "windows-x64",
		StackPointer: register.Rsp,
		FramePointer: register.Rbp,
		IntReturn:    register.Rax,
		FloatReturn:  register.Xmm(0),
		IntArgs:      intArgs,
		FloatArgs:    floatArgs,

		IntRegs:   intRegs,
		FloatRegs: floatRegs,

		TransientRegs:  transient,
		PersistentRegs: persistent,

		StackAlignment:     16,
		ParamSlotAlignment: 8,
		ParamSlotSize:      8,
		ShadowSpaceBytes:   32,
		RegisterArgSlots:   4,
		RedZone:            false,

		Struct: StructClassifier{InIntSlots: true, regThreshold: 8, byRefThreshold: 8},
	}
}
