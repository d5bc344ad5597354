package kfmt

import "io"

// PrefixWriter is an io.Writer that forwards data to Sink and emits Prefix at
// the start of every line.
type PrefixWriter struct {
	// Sink receives the prefixed output.
	Sink io.Writer

	// Prefix is written before the first byte of each line.
	Prefix []byte

	midLine bool
}

// Write forwards p to the sink, injecting the prefix in front of every new
// line. The returned byte count does not include injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineEnd := len(p)
		for i, b := range p {
			if b == '\n' {
				lineEnd = i + 1
				w.midLine = false
				break
			}
		}

		n, err := w.Sink.Write(p[:lineEnd])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineEnd:]
	}

	return written, nil
}
