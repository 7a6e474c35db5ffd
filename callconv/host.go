package callconv

import "runtime"

// hostKind resolves Host to C or WindowsX64 at init time, matching whichever
// convention the running platform's native calling convention uses.
func hostKind() Kind {
	if runtime.GOOS == "windows" {
		return WindowsX64
	}
	return C
}
