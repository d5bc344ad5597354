// Package kfmt implements formatted console output that is safe to use
// before the Go allocator is available.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize is large enough for a 64-bit value in base 8 plus a sign.
const numBufSize = 24

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	hexDigits       = "0123456789abcdef"

	numBuf [numBufSize]byte

	// oneByte is a shared buffer for emitting single characters; slicing a
	// string would otherwise force a conversion that allocates.
	oneByte [1]byte

	// earlyPrintBuffer keeps Printf output produced before an output sink
	// has been registered.
	earlyPrintBuffer ringBuffer

	// outputSink receives all Printf output. While nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink routes Printf output to w and replays anything captured by
// the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer currently receiving Printf output.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf writes formatted output to the registered output sink. It supports
// the following subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer (space-padded)
//	%x  base 16 integer, lower-case (zero-padded)
//	%o  base 8 integer (zero-padded)
//	%t  bool
//	%%  literal percent sign
//
// A decimal width may precede the verb. Integers of every built-in width
// are accepted. Pointers (%p) and io.Stringer values are not supported as
// both would require reflection and therefore heap allocations.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early
// print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		inVerb   bool
	)

	for i := 0; i < len(format); i++ {
		ch := format[i]

		if !inVerb {
			if ch == '%' {
				inVerb, width = true, 0
				continue
			}
			writeByte(w, ch)
			continue
		}

		switch {
		case ch == '%':
			writeByte(w, '%')
			inVerb = false
		case ch >= '0' && ch <= '9':
			width = width*10 + int(ch-'0')
		case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
			inVerb = false
			if argIndex >= len(args) {
				write(w, errMissingArg)
				continue
			}

			arg := args[argIndex]
			argIndex++
			switch ch {
			case 'd':
				fmtInt(w, arg, 10, width)
			case 'x':
				fmtInt(w, arg, 16, width)
			case 'o':
				fmtInt(w, arg, 8, width)
			case 's':
				fmtString(w, arg, width)
			case 't':
				fmtBool(w, arg)
			}
		default:
			write(w, errNoVerb)
			inVerb = false
		}
	}

	if inVerb {
		write(w, errNoVerb)
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, errWrongArgType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		pad(w, ' ', width-len(s))
		write(w, s)
	default:
		write(w, errWrongArgType)
	}
}

func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		val uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		val = uint64(n)
	case uint16:
		val = uint64(n)
	case uint32:
		val = uint64(n)
	case uint64:
		val = n
	case uint:
		val = uint64(n)
	case uintptr:
		val = uint64(n)
	case int8:
		val, neg = abs(int64(n))
	case int16:
		val, neg = abs(int64(n))
	case int32:
		val, neg = abs(int64(n))
	case int64:
		val, neg = abs(n)
	case int:
		val, neg = abs(int64(n))
	default:
		write(w, errWrongArgType)
		return
	}

	// Digits are produced right-to-left into the tail of numBuf.
	pos := numBufSize
	for {
		pos--
		numBuf[pos] = hexDigits[val%base]
		val /= base
		if val == 0 || pos == 1 {
			break
		}
	}

	if neg {
		pos--
		numBuf[pos] = '-'
	}

	if width > numBufSize {
		width = numBufSize
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Zero padding goes between the sign and the digits; space padding goes
	// in front of the sign.
	if padCh == '0' && neg {
		writeByte(w, '-')
		pos++
		width--
	}
	pad(w, padCh, width-(numBufSize-pos))
	write(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

func writeByte(w io.Writer, ch byte) {
	oneByte[0] = ch
	write(w, oneByte[:])
}

// write hides p from escape analysis. Without it the compiler assumes that
// p leaks through the io.Writer interface call and heap-allocates every
// buffer handed to it, which crashes the kernel while the allocator is not
// yet initialized.
func write(w io.Writer, p []byte) {
	realWrite(w, noEscape(unsafe.Pointer(&p)))
}

func realWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w == nil {
		_, _ = earlyPrintBuffer.Write(p)
		return
	}
	_, _ = w.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
