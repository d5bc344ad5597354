// Package pmm implements the physical memory manager which hands out the
// page frames backing every page table and kernel mapping.
package pmm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/multiboot"
)

var (
	// visitMemRegionsFn is used by tests to supply a synthetic memory map.
	visitMemRegionsFn = multiboot.VisitMemRegions

	errOutOfMemory          = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errFreeNotSupported     = &kernel.Error{Module: "pmm", Message: "frame deallocation is not supported"}
	errInvalidReservedRange = &kernel.Error{Module: "pmm", Message: "reserved range end must be greater than its start"}
)
