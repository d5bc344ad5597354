package pmm

import (
	"unsafe"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
	"github.com/Nivirx/pogos/kernel/mm"
	"github.com/Nivirx/pogos/multiboot"
)

// frameSpan is an inclusive range of frames.
type frameSpan struct {
	first, last mm.Frame
	valid       bool
}

func (s frameSpan) contains(f mm.Frame) bool {
	return s.valid && f >= s.first && f <= s.last
}

// spanFromRange converts the byte range [start, end) into the span of frames
// that overlap it.
func spanFromRange(start, end uintptr) (frameSpan, *kernel.Error) {
	if end <= start {
		return frameSpan{}, errInvalidReservedRange
	}

	return frameSpan{
		first: mm.FrameFromAddress(start),
		last:  mm.FrameFromAddress(end - 1),
		valid: true,
	}, nil
}

// areaSpan returns the span of frames that lie entirely inside a memory
// region. Region bounds reported by the boot loader may not be page-aligned;
// the start is rounded up and the end is rounded down.
func areaSpan(region *multiboot.MemoryMapEntry) frameSpan {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	first := mm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
	end := mm.Frame(((region.PhysAddress + region.Length) & ^pageSizeMinus1) >> mm.PageShift)
	if end <= first {
		return frameSpan{}
	}

	return frameSpan{first: first, last: end - 1, valid: true}
}

// AreaFrameAllocator hands out physical frames from the available regions
// of the boot loader's memory map.
//
// The allocator keeps a cursor to the next free frame and the region that
// contains it. The cursor only moves forward: frames below it, including
// frames in regions that were skipped over, are never handed out again.
// Frames occupied by the kernel image or the boot information structure are
// never returned.
//
// Frames cannot be freed.
type AreaFrameAllocator struct {
	nextFree mm.Frame
	curArea  frameSpan

	kernel   frameSpan
	bootInfo frameSpan

	// Kept for the memory map dump.
	kernelStart, kernelEnd     uintptr
	bootInfoStart, bootInfoEnd uintptr
}

// Init resets the allocator state and selects the lowest available memory
// region. The kernel image occupies [kernelStart, kernelEnd) and the boot
// information structure occupies [bootInfoStart, bootInfoEnd); neither range
// is ever returned by AllocFrame.
//
// Init returns an error if the memory map is not available or a reserved
// range is empty.
func (alloc *AreaFrameAllocator) Init(kernelStart, kernelEnd, bootInfoStart, bootInfoEnd uintptr) *kernel.Error {
	var err *kernel.Error

	*alloc = AreaFrameAllocator{
		kernelStart:   kernelStart,
		kernelEnd:     kernelEnd,
		bootInfoStart: bootInfoStart,
		bootInfoEnd:   bootInfoEnd,
	}

	if alloc.kernel, err = spanFromRange(kernelStart, kernelEnd); err != nil {
		return err
	}

	if alloc.bootInfo, err = spanFromRange(bootInfoStart, bootInfoEnd); err != nil {
		return err
	}

	return alloc.chooseNextArea()
}

// chooseNextArea selects the lowest-starting available region whose last
// frame is not below the cursor. If the cursor points before the region
// start it is advanced to the region's first frame. When no region
// qualifies, curArea is left invalid.
func (alloc *AreaFrameAllocator) chooseNextArea() *kernel.Error {
	var next frameSpan

	visitor := func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		span := areaSpan(region)
		if !span.valid || span.last < alloc.nextFree {
			return true
		}

		if !next.valid || span.first < next.first {
			next = span
		}
		return true
	}

	// Use the noescape hack to prevent the compiler from leaking the visitor
	// function literal to the heap.
	err := visitMemRegionsFn(
		*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	)

	alloc.curArea = next
	if next.valid && alloc.nextFree < next.first {
		alloc.nextFree = next.first
	}

	return err
}

// AllocFrame reserves and returns the next free frame. Once all regions
// have been exhausted, AllocFrame keeps returning an out of memory error.
func (alloc *AreaFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for alloc.curArea.valid {
		frame := alloc.nextFree

		switch {
		case frame > alloc.curArea.last:
			if err := alloc.chooseNextArea(); err != nil {
				return mm.InvalidFrame, err
			}
		case alloc.kernel.contains(frame):
			alloc.nextFree = alloc.kernel.last + 1
		case alloc.bootInfo.contains(frame):
			alloc.nextFree = alloc.bootInfo.last + 1
		default:
			alloc.nextFree++
			return frame, nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame always fails; the allocator does not reclaim frames.
func (alloc *AreaFrameAllocator) FreeFrame(_ mm.Frame) *kernel.Error {
	return errFreeNotSupported
}

// PrintMemoryMap scans the memory region information provided by the
// boot loader and prints out the system's memory map together with the
// reserved kernel and boot information ranges.
func (alloc *AreaFrameAllocator) PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mm.Size
	visitor := func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	}
	if err := visitMemRegionsFn(*(*multiboot.MemRegionVisitor)(noEscape(unsafe.Pointer(&visitor)))); err != nil {
		kfmt.Printf("[pmm] unable to read memory map: %s\n", err.Message)
		return
	}
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Printf("[pmm] kernel loaded at 0x%x - 0x%x, reserved frames: %d\n",
		alloc.kernelStart, alloc.kernelEnd,
		uint64(alloc.kernel.last-alloc.kernel.first+1),
	)
	kfmt.Printf("[pmm] boot info at 0x%x - 0x%x, reserved frames: %d\n",
		alloc.bootInfoStart, alloc.bootInfoEnd,
		uint64(alloc.bootInfo.last-alloc.bootInfo.first+1),
	)
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
