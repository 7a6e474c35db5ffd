// Package ffi builds the no-argument call-by-pointer trampoline: a
// synthesized function that loads a target function pointer into
// a register and calls it, for the narrow "invoke an arbitrary host
// pointer from JIT'd code" case. Argument-forwarding variants are out of
// scope.
package ffi

import (
	"fmt"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/register"
)

// BuildNoArgTrampoline appends the instructions for a function that takes
// no arguments, calls the absolute pointer target, and returns whatever
// target left in the return register, to b. target must not be zero.
//
// The call-conv's first integer argument register is used as scratch to
// stage target, since a no-arg trampoline has no incoming argument to
// protect there; kind selects which convention's argument register to
// borrow.
func BuildNoArgTrampoline(b *microir.Builder, kind callconv.Kind, target uint64) error {
	if target == 0 {
		return fmt.Errorf("ffi: BuildNoArgTrampoline: null target pointer")
	}
	cc := callconv.Get(kind)
	scratch := register.Rax
	if len(cc.IntArgs) > 0 {
		scratch = cc.IntArgs[0]
	}
	b.LoadRegImm(scratch, target, register.B64, microir.FlagNone)
	b.TrampolineLoadAndCall(scratch)
	b.Ret()
	return nil
}
