// Package multiboot walks the boot information structure that a Multiboot2
// compliant loader hands to the kernel.
package multiboot

import (
	"unsafe"

	"github.com/Nivirx/pogos/kernel"
)

var (
	infoData uintptr

	errMissingMemoryMap  = &kernel.Error{Module: "multiboot", Message: "memory map tag required"}
	errMissingElfSymbols = &kernel.Error{Module: "multiboot", Message: "elf-sections tag required"}
	errNoKernelSections  = &kernel.Error{Module: "multiboot", Message: "kernel image has no allocated sections"}
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section, including this header.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at a 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// reported by the boot loader. The visitor returns false to stop the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

type elfSections struct {
	numSections        uint16
	sectionSize        uint32
	strtabSectionIndex uint32
	sectionData        [0]byte
}

type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// ElfSectionFlag defines an OR-able flag associated with an ElfSection. The
// values match the ELF SHF_* section header flags.
type ElfSectionFlag uint32

const (
	// ElfSectionWritable marks the section as writable.
	ElfSectionWritable ElfSectionFlag = 1 << iota

	// ElfSectionAllocated means that the section is allocated in memory
	// when the image is loaded (e.g .bss sections)
	ElfSectionAllocated

	// ElfSectionExecutable marks the section as executable.
	ElfSectionExecutable
)

// ElfSectionVisitor is invoked by VisitElfSections for each non-empty ELF
// section of the loaded kernel image.
type ElfSectionVisitor func(name string, flags ElfSectionFlag, address uintptr, size uint64)

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// InfoRegion returns the physical address range [start, end) occupied by
// the boot information structure itself.
func InfoRegion() (uintptr, uintptr) {
	hdr := (*info)(unsafe.Pointer(infoData))
	return infoData, infoData + uintptr(hdr.totalSize)
}

// VisitMemRegions invokes visitor for each memory region defined by the
// boot loader's memory map. Unknown region types are reported as
// MemReserved. An error is returned if the memory map tag is missing.
func VisitMemRegions(visitor MemRegionVisitor) *kernel.Error {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return errMissingMemoryMap
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += 8

	var entry *MemoryMapEntry
	for ; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry = (*MemoryMapEntry)(unsafe.Pointer(curPtr))

		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			break
		}
	}

	return nil
}

// VisitElfSections invokes visitor for each non-empty ELF section that
// belongs to the loaded kernel image. An error is returned if the
// elf-sections tag is missing.
func VisitElfSections(visitor ElfSectionVisitor) *kernel.Error {
	curPtr, size := findTagByType(tagElfSymbols)
	if size == 0 {
		return errMissingElfSymbols
	}

	var (
		ptrElfSections  = (*elfSections)(unsafe.Pointer(curPtr))
		secPtr          = uintptr(unsafe.Pointer(&ptrElfSections.sectionData))
		sizeofSection   = uintptr(ptrElfSections.sectionSize)
		strTableSection = (*elfSection64)(unsafe.Pointer(secPtr + uintptr(ptrElfSections.strtabSectionIndex)*sizeofSection))
		strTable        = uintptr(strTableSection.address)
	)

	for secIndex := uint16(0); secIndex < ptrElfSections.numSections; secIndex, secPtr = secIndex+1, secPtr+sizeofSection {
		secData := (*elfSection64)(unsafe.Pointer(secPtr))
		if secData.size == 0 {
			continue
		}

		// String table entries are C-style NULL-terminated strings
		start := strTable + uintptr(secData.nameIndex)
		end := start
		for ; *(*byte)(unsafe.Pointer(end)) != 0; end++ {
		}

		secName := unsafe.String((*byte)(unsafe.Pointer(start)), int(end-start))
		visitor(secName, ElfSectionFlag(secData.flags), uintptr(secData.address), secData.size)
	}

	return nil
}

// KernelRegion returns the physical address range [start, end) spanned by
// the allocated ELF sections of the loaded kernel image.
func KernelRegion() (uintptr, uintptr, *kernel.Error) {
	start, end := ^uintptr(0), uintptr(0)

	err := VisitElfSections(func(_ string, flags ElfSectionFlag, address uintptr, size uint64) {
		if (flags & ElfSectionAllocated) == 0 {
			return
		}

		if address < start {
			start = address
		}

		if secEnd := address + uintptr(size); secEnd > end {
			end = secEnd
		}
	})

	switch {
	case err != nil:
		return 0, 0, err
	case end == 0:
		return 0, 0, errNoKernelSections
	}

	return start, end, nil
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
//
// If the tag is not present in the multiboot info, findTagSection will return
// back (0,0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var ptrTagHeader *tagHeader

	curPtr := infoData + 8
	for ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			return curPtr + 8, ptrTagHeader.size - 8
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr(int32(ptrTagHeader.size+7) & ^7)
	}

	return 0, 0
}
