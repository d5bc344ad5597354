package kfmt

import "io"

// ringBufferSize must be a power of 2. 2K holds a full 80x25 text screen.
const ringBufferSize = 2048

// ringBuffer captures Printf output until an output sink is registered. Once
// full, the oldest bytes are overwritten.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, dropping the oldest data on overflow.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	const mask = ringBufferSize - 1

	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & mask
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & mask
		}
	}

	return len(p), nil
}

// Read copies buffered data into p and returns io.EOF once the buffer has
// been drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Read the contiguous run that starts at rIndex; a wrapped buffer needs
	// a second call to return the remainder.
	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
