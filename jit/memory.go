// Package jit implements the pooled executable-memory manager and the
// per-function compile driver: mmap a block, copy code in, flip it to
// executable, and never touch the pages again once a caller holds the
// pointer. Blocks are pooled so many independent installations share them.
package jit

import (
	"fmt"
	"sync"
)

// defaultBlockBytes is the minimum size of a freshly mmap'd block, rounded
// up to a whole number of pages by the platform layer. Requests larger
// than this get their own block sized to fit.
const defaultBlockBytes = 64 * 1024

// block is one mmap'd region backing a Manager. bump is the offset of the
// next free byte; everything before it has been handed out by Allocate.
type block struct {
	mem  []byte // len(mem) == cap(mem) == allocationSize, RW or RX depending on flipped
	bump int
}

func (bl *block) remaining() int { return len(bl.mem) - bl.bump }

// Manager is a pool of executable pages: every block is page-aligned and
// page-multiple in size, a single mutex
// serializes concurrent access, and ExecMemory handles it returns remain
// valid for the manager's lifetime.
type Manager struct {
	mu       sync.Mutex
	pageSize int
	blocks   []*block
	closed   bool
}

// NewManager constructs an empty pool. Blocks are mmap'd lazily on first
// Allocate.
func NewManager() *Manager {
	return &Manager{pageSize: memoryPageSize()}
}

// ExecMemory is a single allocation inside a Manager's block pool.
// Size is the number of bytes the caller asked for;
// AllocationSize is the (possibly larger) page-rounded footprint.
type ExecMemory struct {
	bytes          []byte // the caller-visible span, len == size
	pages          []byte // the page-aligned footprint backing bytes
	size           int
	allocationSize int
}

// Bytes returns the allocation's bytes (len == Size), writable only until
// the allocation has been flipped executable by AllocateAndCopy.
func (m ExecMemory) Bytes() []byte { return m.bytes }

// Size returns the number of bytes requested by the caller.
func (m ExecMemory) Size() int { return m.size }

// AllocationSize returns the bump-rounded footprint actually reserved.
func (m ExecMemory) AllocationSize() int { return m.allocationSize }

// Addr returns the base address of the allocation as a uintptr, suitable
// for use as a relocation target or a trampoline argument.
func (m ExecMemory) Addr() uintptr {
	if len(m.bytes) == 0 {
		return 0
	}
	return addrOf(m.bytes)
}

// allocLocked finds a block with enough free bytes, bumping its pointer,
// or mmaps a new one sized max(defaultBlockBytes, alignUp(size, pageSize)).
// Bumps advance in whole pages so each
// allocation's permission flips never touch a neighbour's pages.
func (mgr *Manager) allocLocked(size int) (*block, int, int, error) {
	footprint := alignUp(size, mgr.pageSize)
	for _, bl := range mgr.blocks {
		if bl.remaining() >= footprint {
			off := bl.bump
			bl.bump += footprint
			return bl, off, footprint, nil
		}
	}
	blockSize := footprint
	if blockSize < defaultBlockBytes {
		blockSize = defaultBlockBytes
	}
	mem, err := mmapRW(blockSize)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("jit: allocate executable block: %w", err)
	}
	bl := &block{mem: mem}
	bl.bump = footprint
	mgr.blocks = append(mgr.blocks, bl)
	return bl, 0, footprint, nil
}

// Allocate reserves size bytes of RW memory, without copying or flipping
// permissions. Callers that need the W^X protocol end-to-end should use
// AllocateAndCopy instead.
func (mgr *Manager) Allocate(size int) (ExecMemory, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.closed {
		return ExecMemory{}, fmt.Errorf("jit: allocate from a closed manager")
	}
	bl, off, footprint, err := mgr.allocLocked(size)
	if err != nil {
		return ExecMemory{}, err
	}
	return ExecMemory{
		bytes:          bl.mem[off : off+size : off+size],
		pages:          bl.mem[off : off+footprint : off+footprint],
		size:           size,
		allocationSize: footprint,
	}, nil
}

// AllocateAndCopy implements the W^X protocol: allocate RW,
// memcpy the bytes in, then flip the region to executable. The allocation
// is discarded (not returned to the caller) if the permission flip fails.
func (mgr *Manager) AllocateAndCopy(code []byte) (ExecMemory, error) {
	mem, err := mgr.Allocate(len(code))
	if err != nil {
		return ExecMemory{}, err
	}
	copy(mem.bytes, code)
	if err := mprotectRX(mem.pages); err != nil {
		return ExecMemory{}, fmt.Errorf("jit: flip allocation to executable: %w", err)
	}
	return mem, nil
}

// MakeWritable temporarily restores write permission on mem's pages so a
// relocation can be patched; the region is writable-executable only for
// the duration of fn, and executable-only is restored on exit.
func (mgr *Manager) MakeWritable(mem ExecMemory, fn func([]byte) error) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if err := mprotectRWX(mem.pages); err != nil {
		return fmt.Errorf("jit: flip allocation writable for patching: %w", err)
	}
	err := fn(mem.bytes)
	if rerr := mprotectRX(mem.pages); rerr != nil && err == nil {
		err = fmt.Errorf("jit: restore executable-only after patching: %w", rerr)
	}
	return err
}

// Close frees every block. The Manager must not be used afterward.
func (mgr *Manager) Close() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.closed {
		return nil
	}
	mgr.closed = true
	var firstErr error
	for _, bl := range mgr.blocks {
		if err := munmap(bl.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mgr.blocks = nil
	return firstErr
}

func alignUp(n, align int) int {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
