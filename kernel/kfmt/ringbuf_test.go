package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	const msg = "[pmm] memory area: start 0x100000, length 0xf00000"

	specs := []struct {
		name           string
		rIndex, wIndex int
	}{
		{"empty buffer", 0, 0},
		{"write wraps around", ringBufferSize - 4, ringBufferSize - 4},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var rb ringBuffer
			rb.rIndex, rb.wIndex = spec.rIndex, spec.wIndex

			if n, err := rb.Write([]byte(msg)); err != nil || n != len(msg) {
				t.Fatalf("expected to write %d bytes; wrote %d (err: %v)", len(msg), n, err)
			}

			var buf bytes.Buffer
			if _, err := io.Copy(&buf, &rb); err != nil {
				t.Fatal(err)
			}

			if got := buf.String(); got != msg {
				t.Fatalf("expected to read %q; got %q", msg, got)
			}
		})
	}

	t.Run("overflow drops oldest bytes", func(t *testing.T) {
		var rb ringBuffer
		input := bytes.Repeat([]byte{'a'}, ringBufferSize)
		copy(input[len(input)-3:], "xyz")
		_, _ = rb.Write(input)

		var buf bytes.Buffer
		_, _ = io.Copy(&buf, &rb)

		got := buf.Bytes()
		if exp := ringBufferSize - 1; len(got) != exp {
			t.Fatalf("expected to read %d bytes; got %d", exp, len(got))
		}

		if !bytes.HasSuffix(got, []byte("xyz")) {
			t.Fatalf("expected the most recent bytes to survive; got suffix %q", got[len(got)-3:])
		}
	})

	t.Run("read from empty buffer", func(t *testing.T) {
		var rb ringBuffer
		if _, err := rb.Read(make([]byte, 1)); err != io.EOF {
			t.Fatalf("expected io.EOF; got %v", err)
		}
	})
}
