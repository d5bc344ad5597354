package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input []string
		exp   string
	}{
		{
			[]string{""},
			"",
		},
		{
			[]string{"\n"},
			"[pmm] \n",
		},
		{
			[]string{"no line break"},
			"[pmm] no line break",
		},
		{
			[]string{"one\ntwo\n"},
			"[pmm] one\n[pmm] two\n",
		},
		{
			[]string{"split ", "line\n", "next"},
			"[pmm] split line\n[pmm] next",
		},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = PrefixWriter{Sink: &buf, Prefix: []byte("[pmm] ")}
			n   int
		)

		for _, in := range spec.input {
			wrote, err := w.Write([]byte(in))
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
			n += wrote
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.exp, got)
		}

		var inLen int
		for _, in := range spec.input {
			inLen += len(in)
		}
		if n != inLen {
			t.Errorf("[spec %d] expected Write to report %d bytes; got %d", specIndex, inLen, n)
		}
	}
}

type failingWriter struct{ failAfter int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failAfter == 0 {
		return 0, errors.New("sink closed")
	}
	w.failAfter--
	return len(p), nil
}

func TestPrefixWriterSinkError(t *testing.T) {
	// the prefix write succeeds, the payload write fails
	w := PrefixWriter{Sink: &failingWriter{failAfter: 1}, Prefix: []byte("> ")}
	if _, err := w.Write([]byte("data\n")); err == nil {
		t.Fatal("expected sink error to be propagated")
	}
}
