// Package mm contains the page and frame types shared by the physical and
// virtual memory managers.
package mm

import (
	"math"

	"github.com/Nivirx/pogos/kernel"
)

// Frame describes a physical memory page index.
//
// Frames carry no ownership: two Frames with the same value refer to the
// same physical page. Fresh frames are only handed out by a FrameAllocator;
// other code converts known physical addresses (boot tables, VGA memory,
// boot info) with FrameFromAddress.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	// AllocFrame reserves and returns the next free frame.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a frame to the allocator. Allocators that cannot
	// reclaim memory return an error.
	FreeFrame(Frame) *kernel.Error
}
