package kernel

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of looping over every byte, the first byte is set and then copied over in
// log2(size) steps, each one doubling the initialized prefix.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
