package vmm

import (
	"unsafe"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
	"github.com/Nivirx/pogos/kernel/mm"
	"github.com/Nivirx/pogos/multiboot"
)

var (
	// visitElfSectionsFn is used by tests and is automatically inlined
	// by the compiler.
	visitElfSectionsFn = multiboot.VisitElfSections

	// infoRegionFn is used by tests and is automatically inlined by the
	// compiler.
	infoRegionFn = multiboot.InfoRegion

	errSectionNotAligned = &kernel.Error{Module: "vmm", Message: "kernel section is not page aligned"}
)

// sectionFlags converts ELF section flags into page table entry flags.
func sectionFlags(secFlags multiboot.ElfSectionFlag) PageTableEntryFlag {
	flags := FlagPresent

	if (secFlags & multiboot.ElfSectionExecutable) == 0 {
		flags |= FlagNoExecute
	}

	if (secFlags & multiboot.ElfSectionWritable) != 0 {
		flags |= FlagRW
	}

	return flags
}

// RemapKernel builds a new PDT that only maps what the kernel needs, loads
// it and turns the page of the previous P4 table into a guard page.
//
// The new PDT identity-maps the allocated ELF sections of the kernel image
// with flags derived from their attributes, the VGA text buffer and the
// boot information structure. The previous P4 frame sits right below the
// boot stack, so unmapping its page makes a stack overflow fault instead of
// silently corrupting memory.
func RemapKernel(active *ActivePageTable, alloc mm.FrameAllocator) *kernel.Error {
	var (
		tmp      TemporaryPage
		newTable InactivePageTable
		p4Frame  mm.Frame
		err      *kernel.Error
	)

	if err = tmp.Init(mm.PageFromAddress(tempMappingAddr), alloc); err != nil {
		return err
	}

	if p4Frame, err = alloc.AllocFrame(); err != nil {
		return err
	}

	if err = newTable.Init(p4Frame, active, &tmp); err != nil {
		return err
	}

	if err = active.With(&newTable, &tmp, func(m *Mapper) *kernel.Error {
		return mapKernel(m, alloc)
	}); err != nil {
		return err
	}

	oldTable := active.Switch(newTable)
	kfmt.Printf("[vmm] switched to new page table (P4 frame 0x%x)\n", newTable.p4Frame.Address())

	guardPage := mm.PageFromAddress(oldTable.p4Frame.Address())
	if err = active.Unmap(guardPage); err != nil {
		return err
	}
	kfmt.Printf("[vmm] guard page at 0x%x\n", guardPage.Address())

	return nil
}

// mapKernel installs the identity mappings for the kernel image, the VGA
// text buffer and the boot information structure using m.
func mapKernel(m *Mapper, alloc mm.FrameAllocator) *kernel.Error {
	var err *kernel.Error

	var visitor = func(name string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) {
		// Bail out if we have encountered an error; also ignore sections
		// that do not occupy memory at runtime
		if err != nil || (secFlags&multiboot.ElfSectionAllocated) == 0 {
			return
		}

		if secAddress&(mm.PageSize-1) != 0 {
			err = errSectionNotAligned
			return
		}

		kfmt.Printf("[vmm] mapping section %s at 0x%x, size: %d\n", name, secAddress, secSize)

		flags := sectionFlags(secFlags)
		curFrame := mm.FrameFromAddress(secAddress)
		lastFrame := mm.FrameFromAddress(secAddress + uintptr(secSize-1))
		for ; curFrame <= lastFrame; curFrame++ {
			if err = m.IdentityMap(curFrame, flags, alloc); err != nil {
				return
			}
		}
	}

	// Use the noescape hack to prevent the compiler from leaking the visitor
	// function literal to the heap.
	if visitErr := visitElfSectionsFn(
		*(*multiboot.ElfSectionVisitor)(noEscape(unsafe.Pointer(&visitor))),
	); visitErr != nil {
		return visitErr
	}

	// If an error occurred while maping the ELF sections bail out
	if err != nil {
		return err
	}

	if err = m.IdentityMap(mm.FrameFromAddress(vgaBufferAddr), FlagRW|FlagNoExecute, alloc); err != nil {
		return err
	}

	infoStart, infoEnd := infoRegionFn()
	kfmt.Printf("[vmm] mapping boot info at 0x%x - 0x%x\n", infoStart, infoEnd)
	for curFrame, lastFrame := mm.FrameFromAddress(infoStart), mm.FrameFromAddress(infoEnd-1); curFrame <= lastFrame; curFrame++ {
		if err = m.IdentityMap(curFrame, FlagNoExecute, alloc); err != nil {
			return err
		}
	}

	return nil
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
