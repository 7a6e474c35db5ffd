package encoder

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tetrazero/codegen/microir"
)

// debugDumpEnabled gates DebugDump on the CODEGEN_DEBUG_DUMP environment
// variable, read once at startup. Off by default.
var debugDumpEnabled = os.Getenv("CODEGEN_DEBUG_DUMP") != ""

// DebugDump prints the instruction stream and the encoded bytes to stderr
// when CODEGEN_DEBUG_DUMP is set. It adds no output bytes and no work on
// the default path.
func DebugDump(b *microir.Builder, code []byte) {
	if !debugDumpEnabled {
		return
	}
	for i := 0; i < b.Len(); i++ {
		fmt.Fprintf(os.Stderr, "%4d: %s\n", i, b.InstrAt(i))
	}
	fmt.Fprintf(os.Stderr, "code (%d bytes): %s\n", len(code), hex.EncodeToString(code))
}
