package vmm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. An entry whose raw value is
// zero is unused.
type pageTableEntry uintptr

// IsUnused returns true if no frame or flag has ever been stored in the entry.
func (pte pageTableEntry) IsUnused() bool {
	return pte == 0
}

// SetUnused clears the entry.
func (pte *pageTableEntry) SetUnused() {
	*pte = 0
}

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// Flags returns the flag bits of the entry.
func (pte pageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) &^ ptePhysPageMask)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// PointedFrame returns the frame that this entry points to or
// mm.InvalidFrame if the entry is not present.
func (pte pageTableEntry) PointedFrame() mm.Frame {
	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame
	}

	return pte.Frame()
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// Set replaces the entry contents with the given frame and flags.
func (pte *pageTableEntry) Set(frame mm.Frame, flags PageTableEntryFlag) {
	*pte = pageTableEntry((frame.Address() & ptePhysPageMask) | uintptr(flags))
}
