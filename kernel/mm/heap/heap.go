// Package heap provides the bump allocator that hands out memory from the
// kernel heap range.
package heap

import (
	"sync/atomic"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
)

const (
	// Start is the virtual address where the kernel heap begins.
	Start = uintptr(0x4000_0000)

	// Size is the size of the kernel heap in bytes.
	Size = uintptr(32 * 1024 * 1024)
)

var (
	errOutOfMemory      = &kernel.Error{Module: "heap", Message: "out of memory"}
	errInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of 2"}
)

// BumpAllocator hands out memory from [start, end) by advancing a pointer.
// Allocations may race with each other; each one either wins the
// compare-and-swap on the pointer or retries. Memory is never reclaimed.
type BumpAllocator struct {
	start, end uintptr
	next       atomic.Uintptr
}

// Init sets up the allocator to serve size bytes starting at start. The
// range must already be mapped.
func (b *BumpAllocator) Init(start, size uintptr) {
	b.start = start
	b.end = start + size
	b.next.Store(start)
}

// Alloc reserves size bytes aligned to align and returns their address.
func (b *BumpAllocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, errInvalidAlignment
	}

	for {
		cur := b.next.Load()
		allocStart := (cur + align - 1) &^ (align - 1)
		if allocStart < cur || allocStart > b.end || size > b.end-allocStart {
			return 0, errOutOfMemory
		}

		if b.next.CompareAndSwap(cur, allocStart+size) {
			return allocStart, nil
		}
	}
}

// Free does not reclaim anything; it only reports the leak.
func (b *BumpAllocator) Free(addr, size uintptr) {
	kfmt.Printf("[heap] leaked %d bytes at 0x%x\n", size, addr)
}

// Used returns the number of bytes handed out so far, including alignment
// padding.
func (b *BumpAllocator) Used() uintptr {
	return b.next.Load() - b.start
}
