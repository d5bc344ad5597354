package vmm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/mm"
)

var (
	errTinyAllocatorEmpty = &kernel.Error{Module: "vmm", Message: "temporary page frame pool is empty"}
	errTinyAllocatorFull  = &kernel.Error{Module: "vmm", Message: "temporary page frame pool is full"}
	errTempPageInUse      = &kernel.Error{Module: "vmm", Message: "temporary page is already mapped"}
)

// tinyAllocator is a frame pool that holds just enough frames to build the
// P3, P2 and P1 tables that lead to a single page. Empty slots hold
// mm.InvalidFrame.
type tinyAllocator [pageLevels - 1]mm.Frame

// fill takes a frame from alloc for every slot of the pool.
func (a *tinyAllocator) fill(alloc mm.FrameAllocator) *kernel.Error {
	var err *kernel.Error
	for i := range a {
		if a[i], err = alloc.AllocFrame(); err != nil {
			a[i] = mm.InvalidFrame
			return err
		}
	}
	return nil
}

// AllocFrame implements mm.FrameAllocator.
func (a *tinyAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for i, frame := range a {
		if frame.Valid() {
			a[i] = mm.InvalidFrame
			return frame, nil
		}
	}
	return mm.InvalidFrame, errTinyAllocatorEmpty
}

// FreeFrame implements mm.FrameAllocator by putting frame back into an empty
// slot of the pool.
func (a *tinyAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	for i := range a {
		if !a[i].Valid() {
			a[i] = frame
			return nil
		}
	}
	return errTinyAllocatorFull
}

// TemporaryPage reserves a virtual page that can be pointed at any frame for
// a short while. It is used to edit frames that are not reachable through
// the active hierarchy, such as the tables of an inactive PDT.
//
// Every Map must be followed by an Unmap before the page is mapped again.
type TemporaryPage struct {
	page  mm.Page
	alloc tinyAllocator
}

// Init reserves page as the temporary page and fills the private frame pool
// used to build the tables that lead to it.
func (tp *TemporaryPage) Init(page mm.Page, alloc mm.FrameAllocator) *kernel.Error {
	tp.page = page
	for i := range tp.alloc {
		tp.alloc[i] = mm.InvalidFrame
	}
	return tp.alloc.fill(alloc)
}

// Page returns the reserved virtual page.
func (tp *TemporaryPage) Page() mm.Page {
	return tp.page
}

// Map points the temporary page at frame using the tables reachable from
// the active PDT and returns the page.
func (tp *TemporaryPage) Map(frame mm.Frame, active *ActivePageTable) (mm.Page, *kernel.Error) {
	if _, err := active.TranslatePage(tp.page); err == nil {
		return 0, errTempPageInUse
	}

	if err := active.MapTo(tp.page, frame, FlagRW, &tp.alloc); err != nil {
		return 0, err
	}

	return tp.page, nil
}

// mapTable maps frame and returns its contents as a page table.
func (tp *TemporaryPage) mapTable(frame mm.Frame, active *ActivePageTable) (*pageTable, *kernel.Error) {
	page, err := tp.Map(frame, active)
	if err != nil {
		return nil, err
	}

	return tableAt(page.Address()), nil
}

// Unmap removes the temporary mapping. The P3, P2 and P1 tables built by the
// first Map stay in place, so later Maps take no frames from the pool and
// nothing is handed back to it here.
func (tp *TemporaryPage) Unmap(active *ActivePageTable) *kernel.Error {
	return active.Unmap(tp.page)
}
