package jit

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/tetrazero/codegen/amd64"
	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/legalize"
	"github.com/tetrazero/codegen/microir"
	"github.com/tetrazero/codegen/pass"
	"github.com/tetrazero/codegen/regalloc"
)

// Compiled is the result of running the JIT driver over one builder: an
// installed ExecMemory plus the symbol/relocation
// bookkeeping needed to resolve calls against it later.
type Compiled struct {
	Mem ExecMemory
	Enc *amd64.Encoder
}

// Compile runs the pass pipeline over b under call convention kind, then
// installs the result into mgr. full selects whether legalize and regalloc
// run ahead of encoding, or the builder's instructions are assumed
// target-legal and pre-allocated already (the encode-only mode for callers
// that build directly against physical registers).
func Compile(mgr *Manager, b *microir.Builder, kind callconv.Kind, full bool) (*Compiled, error) {
	if runtime.GOARCH != "amd64" {
		return nil, fmt.Errorf("jit: unsupported target architecture %s", runtime.GOARCH)
	}
	enc := amd64.New()
	ctx := pass.NewContext(kind)

	var pipeline *pass.Manager
	if full {
		pipeline = pass.NewManager(legalize.New(), regalloc.New(), pass.NewEncode())
	} else {
		pipeline = pass.NewManager(pass.NewEncode())
	}
	if err := pipeline.Run(b, enc, ctx); err != nil {
		return nil, fmt.Errorf("jit: run pass pipeline: %w", err)
	}
	code := enc.Bytes()
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: encoder produced zero bytes for a non-empty builder")
	}
	encoder.DebugDump(b, code)

	mem, err := mgr.AllocateAndCopy(code)
	if err != nil {
		return nil, err
	}
	if err := applyRelocations(mgr, mem, enc); err != nil {
		return nil, err
	}
	return &Compiled{Mem: mem, Enc: enc}, nil
}

// applyRelocations patches every recorded Rel32 relocation against its
// resolved target address: delta is
// computed against the instruction following the 4-byte displacement
// field, and the region is flipped briefly writable to do it.
func applyRelocations(mgr *Manager, mem ExecMemory, enc encoder.Encoder) error {
	relocs := enc.Relocations()
	if len(relocs) == 0 {
		return nil
	}
	symbols := enc.Symbols()
	base := mem.Addr()
	return mgr.MakeWritable(mem, func(buf []byte) error {
		for _, r := range relocs {
			target := r.TargetAddress
			if r.HasSymbol {
				if r.SymbolIndex < 0 || r.SymbolIndex >= len(symbols) {
					return fmt.Errorf("jit: relocation references unknown symbol index %d", r.SymbolIndex)
				}
				target = symbols[r.SymbolIndex].Value
			}
			if target == 0 {
				// unresolved symbol (e.g. a host function not yet bound);
				// leave the placeholder zero in place.
				continue
			}
			patchOffset := int64(r.CodeOffset)
			delta := int64(target) - (int64(base) + patchOffset + 4)
			if delta > int64(^uint32(0)>>1) || delta < -int64(^uint32(0)>>1)-1 {
				panic("BUG: relocation delta overflows int32")
			}
			putInt32LE(buf[patchOffset:patchOffset+4], int32(delta))
		}
		return nil
	})
}

func putInt32LE(b []byte, v int32) {
	u := uint32(v)
	b[0] = byte(u)
	b[1] = byte(u >> 8)
	b[2] = byte(u >> 16)
	b[3] = byte(u >> 24)
}

// EntryPoint reinterprets the compiled code's base address as a Go
// function value of type T. T must describe the exact calling shape of
// the emitted code under the host's native call convention.
//
// A Go func value is a pointer to a funcval whose first word is the entry
// PC, not the PC itself, so the address is boxed in a heap word (holder)
// before its pointer is written into T's own storage.
//
// This is unchecked: a mismatched T invokes undefined behavior exactly as
// a bad C function-pointer cast would.
func EntryPoint[T any](c *Compiled) T {
	holder := new(uintptr)
	*holder = c.Mem.Addr()
	var f T
	*(*uintptr)(unsafe.Pointer(&f)) = uintptr(unsafe.Pointer(holder))
	return f
}
