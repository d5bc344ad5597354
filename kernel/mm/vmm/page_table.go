package vmm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/cpu"
	"github.com/Nivirx/pogos/kernel/mm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBFn is used by tests to override calls to flushTLB which
	// will cause a fault if called in user-mode.
	flushTLBFn = cpu.FlushTLB
)

// InactivePageTable is a page directory table (P4) that lives in a frame but
// is not loaded into CR3.
type InactivePageTable struct {
	p4Frame mm.Frame
}

// Init clears the P4 frame and sets up its recursive entry. The frame is
// edited through the temporary page since it is not part of the active
// hierarchy.
func (pdt *InactivePageTable) Init(p4Frame mm.Frame, active *ActivePageTable, tmp *TemporaryPage) *kernel.Error {
	tbl, err := tmp.mapTable(p4Frame, active)
	if err != nil {
		return err
	}

	tbl.zero()
	tbl[recursiveIndex].Set(p4Frame, FlagPresent|FlagRW)
	pdt.p4Frame = p4Frame

	return tmp.Unmap(active)
}

// Frame returns the frame that holds the P4 table.
func (pdt InactivePageTable) Frame() mm.Frame {
	return pdt.p4Frame
}

// ActivePageTable is the page directory table currently loaded into CR3. Its
// Mapper edits whichever hierarchy the recursive P4 entry points to.
type ActivePageTable struct {
	Mapper
}

// p4 returns the P4 table reachable through the recursive mapping.
func (apt *ActivePageTable) p4() *pageTable {
	return tableAt(tableAddr(recursiveIndex, 0, 0))
}

// With runs fn against the hierarchy of inactive.
//
// The recursive entry of the active P4 is temporarily pointed at the
// inactive P4 so that every table fn touches through the Mapper belongs to
// the inactive hierarchy. The active P4 is kept reachable through tmp so
// that the recursive entry can be restored once fn returns. The code,
// stack and data in use keep working as the MMU only consults the
// recursive entry for addresses inside the recursive range.
func (apt *ActivePageTable) With(inactive *InactivePageTable, tmp *TemporaryPage, fn func(*Mapper) *kernel.Error) *kernel.Error {
	backup := mm.FrameFromAddress(activePDTFn())

	activeP4, err := tmp.mapTable(backup, apt)
	if err != nil {
		return err
	}

	apt.p4()[recursiveIndex].Set(inactive.p4Frame, FlagPresent|FlagRW)
	flushTLBFn()

	fnErr := fn(&apt.Mapper)

	activeP4[recursiveIndex].Set(backup, FlagPresent|FlagRW)
	flushTLBFn()

	if err = tmp.Unmap(apt); err != nil {
		return err
	}

	return fnErr
}

// Switch loads newTable into CR3 and returns the previously active table.
func (apt *ActivePageTable) Switch(newTable InactivePageTable) InactivePageTable {
	oldTable := InactivePageTable{
		p4Frame: mm.FrameFromAddress(activePDTFn()),
	}

	switchPDTFn(newTable.p4Frame.Address())
	return oldTable
}
