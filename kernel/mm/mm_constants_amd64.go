package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// lowerHalfEnd is the first address past the lower canonical half
	// (bit 47 is the last bit implemented by 48-bit virtual addressing).
	lowerHalfEnd = uintptr(1 << 47)

	// upperHalfStart is the first address of the upper canonical half;
	// bits 63-48 must be copies of bit 47.
	upperHalfStart = uintptr(0xffff800000000000)
)
