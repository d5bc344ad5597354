package vmm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/cpu"
	"github.com/Nivirx/pogos/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}
)

// Mapper manipulates the page table hierarchy that is reachable through the
// recursive P4 entry. This is normally the active hierarchy; inside
// ActivePageTable.With it is the inactive hierarchy being edited.
//
// Mapper is not safe for concurrent use.
type Mapper struct{}

// p1ForPage returns the P1 table that holds the entry for page.
func (m *Mapper) p1ForPage(page mm.Page) (*pageTable, *kernel.Error) {
	var (
		virtAddr = page.Address()
		tblAddr  = tableAddr(recursiveIndex, 0, virtAddr)
		tbl      *pageTable
		err      *kernel.Error
	)

	for level := uint8(0); level < pageLevels-1; level++ {
		if tbl, tblAddr, err = nextTable(tblAddr, entryIndex(level, virtAddr)); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// TranslatePage returns the frame that page is mapped to or
// ErrInvalidMapping if the page is not mapped.
func (m *Mapper) TranslatePage(page mm.Page) (mm.Frame, *kernel.Error) {
	p1, err := m.p1ForPage(page)
	if err != nil {
		return mm.InvalidFrame, err
	}

	frame := p1[entryIndex(pageLevels-1, page.Address())].PointedFrame()
	if !frame.Valid() {
		return mm.InvalidFrame, ErrInvalidMapping
	}

	return frame, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (m *Mapper) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	if !mm.IsCanonical(virtAddr) {
		return 0, ErrInvalidMapping
	}

	frame, err := m.TranslatePage(mm.PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return frame.Address() + PageOffset(virtAddr), nil
}

// MapTo establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated from alloc. The leaf
// entry always gets FlagPresent in addition to flags.
//
// MapTo returns an error if the page is already mapped.
func (m *Mapper) MapTo(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	var (
		virtAddr = page.Address()
		tblAddr  = tableAddr(recursiveIndex, 0, virtAddr)
		tbl      *pageTable
		err      *kernel.Error
	)

	for level := uint8(0); level < pageLevels-1; level++ {
		if tbl, tblAddr, err = nextTableCreate(tblAddr, entryIndex(level, virtAddr), alloc); err != nil {
			return err
		}
	}

	pte := &tbl[entryIndex(pageLevels-1, virtAddr)]
	if !pte.IsUnused() {
		return errPageAlreadyMapped
	}

	pte.Set(frame, flags|FlagPresent)
	flushTLBEntryFn(virtAddr)
	return nil
}

// Map maps page to a newly allocated frame.
func (m *Mapper) Map(page mm.Page, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return err
	}

	return m.MapTo(page, frame, flags, alloc)
}

// IdentityMap maps frame to the page with the same number so that the
// frame's physical address is also its virtual address.
func (m *Mapper) IdentityMap(frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	return m.MapTo(mm.PageFromAddress(frame.Address()), frame, flags, alloc)
}

// Unmap removes the mapping for page and invalidates its TLB entry. The
// frame that backed the page is not returned to any allocator and tables
// that become empty are not released.
//
// Unmap returns ErrInvalidMapping if the page is not mapped.
func (m *Mapper) Unmap(page mm.Page) *kernel.Error {
	p1, err := m.p1ForPage(page)
	if err != nil {
		return err
	}

	pte := &p1[entryIndex(pageLevels-1, page.Address())]
	if !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	pte.SetUnused()
	flushTLBEntryFn(page.Address())
	return nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
