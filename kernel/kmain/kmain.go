// Package kmain contains the Go entrypoint that the rt0 code jumps to.
package kmain

import (
	"io"
	"unsafe"

	"github.com/Nivirx/pogos/device/serial"
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
	"github.com/Nivirx/pogos/kernel/mm"
	"github.com/Nivirx/pogos/kernel/mm/heap"
	"github.com/Nivirx/pogos/kernel/mm/pmm"
	"github.com/Nivirx/pogos/kernel/mm/vmm"
	"github.com/Nivirx/pogos/multiboot"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	probeConsoleFn = serial.ProbeCOM1
	kernelRegionFn = multiboot.KernelRegion
	infoRegionFn   = multiboot.InfoRegion
	vmmInitFn      = vmm.Init
	panicFn        = kfmt.Panic

	// heap range handed to kernelHeap once vmm.Init has mapped it.
	heapStart = heap.Start
	heapSize  = heap.Size

	// frameAllocator hands out every physical frame used during boot.
	frameAllocator pmm.AreaFrameAllocator

	// kernelHeap serves allocations from the heap range mapped by vmm.Init.
	kernelHeap heap.BumpAllocator

	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errHeapCorruption = &kernel.Error{Module: "kmain", Message: "heap read back a different value than was written"}
)

// Kmain is the Go entrypoint exported to the rt0 code, which jumps here once
// it has set up the GDT and a minimal g0 that lets Go code run on the 4K boot
// stack. multibootInfoPtr is the address of the boot info payload supplied
// by the bootloader.
//
// Kmain never returns. A failed boot and a completed one both end in
// kfmt.Panic, which halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	err := boot()
	if err == nil {
		err = errKmainReturned
	}

	panicFn(err)
}

// boot attaches the console and brings up the memory subsystem.
func boot() *kernel.Error {
	attachConsole()
	kfmt.Printf("[kmain] starting pogos\n")

	kernelStart, kernelEnd, err := kernelRegionFn()
	if err != nil {
		return err
	}
	infoStart, infoEnd := infoRegionFn()
	kfmt.Printf("[kmain] kernel image at 0x%x - 0x%x\n", kernelStart, kernelEnd)
	kfmt.Printf("[kmain] boot info at 0x%x - 0x%x\n", infoStart, infoEnd)

	if err = frameAllocator.Init(kernelStart, kernelEnd, infoStart, infoEnd); err != nil {
		return err
	}
	frameAllocator.PrintMemoryMap()

	if _, err = vmmInitFn(&frameAllocator); err != nil {
		return err
	}
	kfmt.Printf("[kmain] kernel remapped\n")

	kernelHeap.Init(heapStart, heapSize)
	kfmt.Printf("[kmain] heap ready at 0x%x, size: %d bytes\n", heapStart, heapSize)

	return checkHeap(&kernelHeap)
}

// checkHeap allocates a word and a 16Kb block from h, writes them and reads
// them back. Both allocations are released again, which only logs the leak.
func checkHeap(h *heap.BumpAllocator) *kernel.Error {
	const blockSize = 16 * uintptr(mm.Kb)

	wordAddr, err := h.Alloc(8, 8)
	if err != nil {
		return err
	}
	word := (*uint64)(unsafe.Pointer(wordAddr))
	*word = 0xdeadbeef
	*word -= 0xbeef
	if *word != 0xdead0000 {
		return errHeapCorruption
	}

	blockAddr, err := h.Alloc(blockSize, mm.PageSize)
	if err != nil {
		return err
	}
	kernel.Memset(blockAddr, 0x2a, blockSize)
	block := unsafe.Slice((*byte)(unsafe.Pointer(blockAddr)), blockSize)
	if block[0] != 0x2a || block[blockSize-1] != 0x2a || *word != 0xdead0000 {
		return errHeapCorruption
	}

	kfmt.Printf("[kmain] heap check passed: 0x%x, %d bytes in use\n", *word, h.Used())
	h.Free(blockAddr, blockSize)
	h.Free(wordAddr, 8)

	return nil
}

// attachConsole initializes the console driver and routes kfmt output to
// it. Output captured before this point is replayed into the console. If no
// console is found, output keeps accumulating in the early print buffer.
func attachConsole() {
	drv := probeConsoleFn()
	if drv == nil {
		return
	}

	if err := drv.DriverInit(kfmt.GetOutputSink()); err != nil {
		kfmt.Printf("[kmain] console %s unavailable: %s\n", drv.DriverName(), err.Message)
		return
	}

	if w, ok := drv.(io.Writer); ok {
		kfmt.SetOutputSink(w)
	}
}
