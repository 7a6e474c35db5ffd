// Package pass implements the linear ordered pass pipeline over a
// microir.Builder: an ordered list of passes sharing one mutable context,
// with no lowering stage ahead of them since there is no SSA or basic-block
// form to lower from.
package pass

import (
	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
)

// Context is the small mutable struct threaded through every pass run.
type Context struct {
	CallConvKind callconv.Kind

	// Scratch is per-pass working storage a pass may stash state in across
	// calls within the same Manager.Run invocation. Passes should treat
	// entries they did not create as opaque.
	Scratch map[string]any
}

// NewContext constructs a Context for the given calling convention.
func NewContext(kind callconv.Kind) *Context {
	return &Context{CallConvKind: kind, Scratch: make(map[string]any)}
}

// Pass mutates or consumes the instruction stream of a Builder. Every pass
// receives the same concrete encoder: legalize and regalloc only ever call
// its query methods (QueryConformanceIssue, UpdateRegUseDef); only the
// terminal encoding pass calls EncodeFunction.
type Pass interface {
	Name() string
	Run(b *microir.Builder, enc encoder.Encoder, ctx *Context) error
}

// EncodePass is the terminal pass: it hands the whole instruction stream
// to the encoder, which appends the native bytes.
type EncodePass struct{}

// NewEncode constructs the encoding pass.
func NewEncode() EncodePass { return EncodePass{} }

func (EncodePass) Name() string { return "encode" }

func (EncodePass) Run(b *microir.Builder, enc encoder.Encoder, _ *Context) error {
	return enc.EncodeFunction(b)
}

// Manager holds an ordered list of passes and runs them in declaration
// order against the same Builder.
type Manager struct {
	passes []Pass
}

// NewManager constructs a Manager running passes in the given order.
func NewManager(passes ...Pass) *Manager {
	return &Manager{passes: passes}
}

// Run executes every pass in order. enc is threaded through to each pass
// unchanged; passes that do not emit simply ignore it.
func (m *Manager) Run(b *microir.Builder, enc encoder.Encoder, ctx *Context) error {
	for _, p := range m.passes {
		if err := p.Run(b, enc, ctx); err != nil {
			return err
		}
	}
	return nil
}
