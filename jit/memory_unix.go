//go:build linux || darwin

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// memoryPageSize returns the OS page size.
func memoryPageSize() int {
	return unix.Getpagesize()
}

// mmapRW reserves anonymous, private, read-write memory not yet
// executable.
func mmapRW(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// mprotectRX flips a region to the final read-execute state a completed
// allocation is returned in.
func mprotectRX(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

// mprotectRWX makes a region writable-executable, used only transiently
// while patching relocations.
func mprotectRWX(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}

// munmap releases a block.
func munmap(mem []byte) error {
	return unix.Munmap(mem)
}

func addrOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
