//go:build windows

package jit

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// memoryPageSize returns the OS page size.
func memoryPageSize() int {
	var si windows.SystemInfo
	windows.GetNativeSystemInfo(&si)
	return int(si.PageSize)
}

// mmapRW reserves committed read-write memory not yet executable.
func mmapRW(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// mprotectRX flips a region to the final read-execute state a completed
// allocation is returned in.
func mprotectRX(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), windows.PAGE_EXECUTE_READ, &old)
}

// mprotectRWX makes a region writable-executable, used only transiently
// while patching relocations.
func mprotectRWX(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), windows.PAGE_EXECUTE_READWRITE, &old)
}

// munmap releases a block.
func munmap(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}

func addrOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
