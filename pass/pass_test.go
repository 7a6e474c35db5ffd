package pass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetrazero/codegen/callconv"
	"github.com/tetrazero/codegen/encoder"
	"github.com/tetrazero/codegen/microir"
)

// recordingPass appends its name to a shared log so tests can observe
// execution order.
type recordingPass struct {
	name string
	log  *[]string
	err  error
}

func (p recordingPass) Name() string { return p.name }

func (p recordingPass) Run(_ *microir.Builder, _ encoder.Encoder, _ *Context) error {
	*p.log = append(*p.log, p.name)
	return p.err
}

func TestManagerRunsPassesInOrder(t *testing.T) {
	var log []string
	m := NewManager(
		recordingPass{name: "first", log: &log},
		recordingPass{name: "second", log: &log},
		recordingPass{name: "third", log: &log},
	)
	require.NoError(t, m.Run(microir.NewBuilder(), nil, NewContext(callconv.C)))
	require.Equal(t, []string{"first", "second", "third"}, log)
}

func TestManagerStopsOnFirstError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewManager(
		recordingPass{name: "first", log: &log},
		recordingPass{name: "failing", log: &log, err: boom},
		recordingPass{name: "never", log: &log},
	)
	require.ErrorIs(t, m.Run(microir.NewBuilder(), nil, NewContext(callconv.C)), boom)
	require.Equal(t, []string{"first", "failing"}, log)
}

func TestContextCarriesCallConv(t *testing.T) {
	ctx := NewContext(callconv.WindowsX64)
	require.Equal(t, callconv.WindowsX64, ctx.CallConvKind)
	require.NotNil(t, ctx.Scratch)
}
