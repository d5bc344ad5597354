package vmm

import (
	"unsafe"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/mm"
)

var (
	// ptrFn returns a pointer to the supplied virtual address. It is used
	// by tests to route table accesses through a software MMU. When
	// compiling the kernel this function will be automatically inlined.
	ptrFn = func(virtAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(virtAddr)
	}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// pageTable is the in-memory layout of a table at any paging level.
type pageTable [entriesPerTable]pageTableEntry

// zero clears every entry in the table.
func (t *pageTable) zero() {
	kernel.Memset(uintptr(unsafe.Pointer(t)), 0, mm.PageSize)
}

// tableAt returns the table that lives at the given virtual address.
func tableAt(virtAddr uintptr) *pageTable {
	return (*pageTable)(ptrFn(virtAddr))
}

// entryIndex returns the index into the table at the given level (0 = P4,
// 3 = P1) that virtAddr selects.
func entryIndex(level uint8, virtAddr uintptr) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// signExtend copies bit 47 of addr into bits 48-63.
func signExtend(addr uintptr) uintptr {
	if addr&signExtendBit != 0 {
		return addr | signExtendMask
	}
	return addr &^ signExtendMask
}

// tableAddr returns the virtual address at which the table of the given
// level (0 = P4, 3 = P1) used to translate virtAddr is visible, assuming
// P4 entry recIndex points back to the P4 table.
//
// Each pass through the recursive entry removes one level from the walk,
// so the address is made up of (pageLevels - level) copies of recIndex
// followed by the top level indices of virtAddr.
func tableAddr(recIndex uintptr, level uint8, virtAddr uintptr) uintptr {
	var (
		addr      uintptr
		recursive = pageLevels - int(level)
	)

	for slot := 0; slot < pageLevels; slot++ {
		index := recIndex
		if slot >= recursive {
			index = entryIndex(uint8(slot-recursive), virtAddr)
		}
		addr |= index << pageLevelShifts[slot]
	}

	return signExtend(addr)
}

// nextTableAddr returns the virtual address of the table pointed to by entry
// index of the table visible at tblAddr. Shifting the table address left
// by one level pushes one recursive index out and leaves room for index.
func nextTableAddr(tblAddr, index uintptr) uintptr {
	return signExtend((tblAddr << pageLevelBits[0]) | (index << mm.PageShift))
}

// nextTable returns the child table that entry index of the table at
// tblAddr points to together with its virtual address. It returns
// ErrInvalidMapping if the entry is not present.
func nextTable(tblAddr, index uintptr) (*pageTable, uintptr, *kernel.Error) {
	pte := tableAt(tblAddr)[index]
	switch {
	case !pte.HasFlags(FlagPresent):
		return nil, 0, ErrInvalidMapping
	case pte.HasFlags(FlagHugePage):
		return nil, 0, errNoHugePageSupport
	}

	childAddr := nextTableAddr(tblAddr, index)
	return tableAt(childAddr), childAddr, nil
}

// nextTableCreate behaves like nextTable but allocates, clears and installs
// a new child table if the entry is not present. New tables are installed
// with FlagPresent | FlagRW | FlagUserAccessible; the leaf entry flags
// decide the effective access rights.
func nextTableCreate(tblAddr, index uintptr, alloc mm.FrameAllocator) (*pageTable, uintptr, *kernel.Error) {
	pte := &tableAt(tblAddr)[index]
	if pte.HasFlags(FlagPresent) {
		return nextTable(tblAddr, index)
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		return nil, 0, err
	}

	pte.Set(frame, FlagPresent|FlagRW|FlagUserAccessible)

	// The new table is now reachable through the recursive mapping but
	// its contents are whatever the frame held before.
	childAddr := nextTableAddr(tblAddr, index)
	flushTLBEntryFn(childAddr)
	child := tableAt(childAddr)
	child.zero()

	return child, childAddr, nil
}
