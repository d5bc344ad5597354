// Package vmm implements the virtual memory manager: the 4-level page table
// hierarchy, the recursive mapping used to edit it and the boot-time remap
// of the kernel into a page table of its own.
package vmm

import (
	"sync/atomic"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/cpu"
	"github.com/Nivirx/pogos/kernel/kfmt"
	"github.com/Nivirx/pogos/kernel/mm"
	"github.com/Nivirx/pogos/kernel/mm/heap"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	supportsNoExecuteFn  = cpu.SupportsNoExecute
	enableNoExecuteFn    = cpu.EnableNoExecute
	enableWriteProtectFn = cpu.EnableWriteProtect

	// initialized is set by the first call to Init.
	initialized uint32

	// activeTable is handed out to the caller of Init.
	activeTable ActivePageTable

	errAlreadyInitialized = &kernel.Error{Module: "vmm", Message: "already initialized"}
	errNoExecuteMissing   = &kernel.Error{Module: "vmm", Message: "CPU does not support the no-execute page flag"}
)

// Init enables the no-execute and write-protect CPU features, remaps the
// kernel into a new page table and maps the kernel heap range. It returns
// the active page table which the caller owns from then on.
//
// Init may only be called once.
func Init(alloc mm.FrameAllocator) (*ActivePageTable, *kernel.Error) {
	if !atomic.CompareAndSwapUint32(&initialized, 0, 1) {
		return nil, errAlreadyInitialized
	}

	if !supportsNoExecuteFn() {
		return nil, errNoExecuteMissing
	}
	enableNoExecuteFn()
	enableWriteProtectFn()

	if err := RemapKernel(&activeTable, alloc); err != nil {
		return nil, err
	}

	if err := mapHeap(&activeTable, alloc); err != nil {
		return nil, err
	}

	return &activeTable, nil
}

// mapHeap backs the kernel heap range with freshly allocated frames.
func mapHeap(active *ActivePageTable, alloc mm.FrameAllocator) *kernel.Error {
	lastPage := mm.PageFromAddress(heap.Start + heap.Size - 1)
	for page := mm.PageFromAddress(heap.Start); page <= lastPage; page++ {
		if err := active.Map(page, FlagRW|FlagNoExecute, alloc); err != nil {
			return err
		}
	}

	kfmt.Printf("[vmm] mapped heap at 0x%x, size: %dKb\n", heap.Start, uint64(heap.Size/uintptr(mm.Kb)))
	return nil
}
