package mm

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errNonCanonicalAddress = &kernel.Error{Module: "mm", Message: "virtual address is not in canonical form"}
)

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// IsCanonical returns true if virtAddr is a canonical 48-bit address, i.e.
// it lies either below 2^47 or at/above 0xffff800000000000.
func IsCanonical(virtAddr uintptr) bool {
	return virtAddr < lowerHalfEnd || virtAddr >= upperHalfStart
}

// PageFromAddress returns the Page that contains virtAddr. Unaligned
// addresses are rounded down to their page.
//
// PageFromAddress halts the kernel via kfmt.Panic if virtAddr is not
// canonical; the MMU would reject such an address and no table walk can
// resolve it.
func PageFromAddress(virtAddr uintptr) Page {
	if !IsCanonical(virtAddr) {
		panicFn(errNonCanonicalAddress)
	}

	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}
