package vmm

import (
	"fmt"
	"unsafe"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/mm"
)

// junkEntry fills every frame the first time it is touched. It has both
// FlagPresent and FlagHugePage set so a table that was never cleared makes
// any walk through it fail.
const junkEntry = pageTableEntry(0xa5a5a5a5a5a5a5a5)

// fakeMMU emulates physical memory and the translation performed by the MMU
// so that table code can be exercised through the recursive mapping.
type fakeMMU struct {
	frames map[mm.Frame]*pageTable
	cr3    uintptr

	tlbEntryFlushes int
	tlbFlushes      int
	pdtSwitches     int
}

// newFakeMMU returns an MMU whose CR3 points to a P4 table in p4Frame that
// only contains the recursive entry.
func newFakeMMU(p4Frame mm.Frame) *fakeMMU {
	m := &fakeMMU{
		frames: make(map[mm.Frame]*pageTable),
		cr3:    p4Frame.Address(),
	}

	p4 := m.frame(p4Frame)
	*p4 = pageTable{}
	p4[recursiveIndex].Set(p4Frame, FlagPresent|FlagRW)

	return m
}

// install points the package hooks to the fake MMU. The returned func
// restores the original hooks.
func (m *fakeMMU) install() func() {
	origPtr, origActivePDT, origSwitchPDT := ptrFn, activePDTFn, switchPDTFn
	origFlushTLBEntry, origFlushTLB := flushTLBEntryFn, flushTLBFn

	ptrFn = m.ptr
	activePDTFn = func() uintptr { return m.cr3 }
	switchPDTFn = func(addr uintptr) {
		m.cr3 = addr
		m.pdtSwitches++
	}
	flushTLBEntryFn = func(_ uintptr) { m.tlbEntryFlushes++ }
	flushTLBFn = func() { m.tlbFlushes++ }

	return func() {
		ptrFn, activePDTFn, switchPDTFn = origPtr, origActivePDT, origSwitchPDT
		flushTLBEntryFn, flushTLBFn = origFlushTLBEntry, origFlushTLB
	}
}

// frame returns the contents of a physical frame.
func (m *fakeMMU) frame(f mm.Frame) *pageTable {
	tbl, ok := m.frames[f]
	if !ok {
		tbl = new(pageTable)
		for i := range tbl {
			tbl[i] = junkEntry
		}
		m.frames[f] = tbl
	}
	return tbl
}

// walk translates virtAddr using the hierarchy rooted at p4Frame.
func (m *fakeMMU) walk(p4Frame mm.Frame, virtAddr uintptr) (mm.Frame, bool) {
	if !mm.IsCanonical(virtAddr) {
		return mm.InvalidFrame, false
	}

	frame := p4Frame
	for level := uint8(0); level < pageLevels; level++ {
		pte := m.frame(frame)[entryIndex(level, virtAddr)]
		if !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagHugePage) {
			return mm.InvalidFrame, false
		}
		frame = pte.Frame()
	}

	return frame, true
}

// resolve translates virtAddr using the hierarchy CR3 points to.
func (m *fakeMMU) resolve(virtAddr uintptr) (mm.Frame, bool) {
	return m.walk(mm.FrameFromAddress(m.cr3), virtAddr)
}

// ptr returns a pointer to the memory backing virtAddr or panics with a
// page fault.
func (m *fakeMMU) ptr(virtAddr uintptr) unsafe.Pointer {
	frame, ok := m.resolve(virtAddr)
	if !ok {
		panic(fmt.Sprintf("page fault accessing 0x%x", virtAddr))
	}

	return unsafe.Add(unsafe.Pointer(m.frame(frame)), virtAddr&(mm.PageSize-1))
}

// entry returns the entry for virtAddr at the given level of the hierarchy
// rooted at p4Frame or nil if a table along the way is missing.
func (m *fakeMMU) entry(p4Frame mm.Frame, level uint8, virtAddr uintptr) *pageTableEntry {
	frame := p4Frame
	for l := uint8(0); l < level; l++ {
		pte := m.frame(frame)[entryIndex(l, virtAddr)]
		if !pte.HasFlags(FlagPresent) {
			return nil
		}
		frame = pte.Frame()
	}

	return &m.frame(frame)[entryIndex(level, virtAddr)]
}

// mapping describes a present leaf entry.
type mapping struct {
	Page  uintptr
	Frame uintptr
	Flags PageTableEntryFlag
}

// mappings lists the leaf entries of the hierarchy rooted at p4Frame in
// ascending virtual address order. The recursive entry is skipped.
func (m *fakeMMU) mappings(p4Frame mm.Frame) []mapping {
	var (
		out     []mapping
		collect func(frame mm.Frame, level uint8, prefix uintptr)
	)

	collect = func(frame mm.Frame, level uint8, prefix uintptr) {
		for index, pte := range m.frame(frame) {
			if level == 0 && uintptr(index) == recursiveIndex {
				continue
			}

			if !pte.HasFlags(FlagPresent) {
				continue
			}

			addr := prefix | uintptr(index)<<pageLevelShifts[level]
			if level == pageLevels-1 {
				out = append(out, mapping{
					Page:  signExtend(addr),
					Frame: pte.Frame().Address(),
					Flags: pte.Flags(),
				})
				continue
			}

			if !pte.HasFlags(FlagHugePage) {
				collect(pte.Frame(), level+1, addr)
			}
		}
	}
	collect(p4Frame, 0, 0)

	return out
}

var errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

// testAllocator hands out count consecutive frames starting at first.
type testAllocator struct {
	next, end mm.Frame
	allocated []mm.Frame
}

func newTestAllocator(first mm.Frame, count int) *testAllocator {
	return &testAllocator{next: first, end: first + mm.Frame(count)}
}

func (a *testAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.next >= a.end {
		return mm.InvalidFrame, errTestOutOfFrames
	}

	frame := a.next
	a.next++
	a.allocated = append(a.allocated, frame)
	return frame, nil
}

func (a *testAllocator) FreeFrame(_ mm.Frame) *kernel.Error {
	return errTestOutOfFrames
}
