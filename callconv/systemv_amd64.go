package callconv

import "github.com/tetrazero/codegen/register"

// buildSystemV constructs the C / System-V AMD64 ABI per the published
// psABI: RDI..R9 integer arguments, XMM0..XMM7 float arguments, a 128-byte
// red zone, and no shadow space.
func buildSystemV() *CallConv {
	intArgs := []register.Reg{register.Rdi, register.Rsi, register.Rdx, register.Rcx, register.R8reg, register.R9reg}
	floatArgs := make([]register.Reg, 8)
	for i := range floatArgs {
		floatArgs[i] = register.Xmm(uint8(i))
	}

	intRegs := []register.Reg{
		register.Rax, register.Rcx, register.Rdx, register.Rbx, register.Rsi, register.Rdi,
		register.R8reg, register.R9reg, register.R10reg, register.R11reg, register.R12reg, register.R13reg, register.R14reg, register.R15reg,
	}
	floatRegs := make([]register.Reg, 16)
	for i := range floatRegs {
		floatRegs[i] = register.Xmm(uint8(i))
	}

	persistent := []register.Reg{register.Rbx, register.R12reg, register.R13reg, register.R14reg, register.R15reg}
	transient := []register.Reg{
		register.Rax, register.Rcx, register.Rdx, register.Rsi, register.Rdi,
		register.R8reg, register.R9reg, register.R10reg, register.R11reg,
	}
	transient = append(transient, floatRegs...) // all XMMs are caller-saved under System-V.

	return &CallConv{
		Name:         "c",
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
		ShadowSpaceBytes:   0,
		RegisterArgSlots:   6,
		RedZone:            true,

		Struct: StructClassifier{InIntSlots: true, regThreshold: 16, byRefThreshold: 16},
	}
}
