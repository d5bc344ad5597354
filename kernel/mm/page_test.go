package mm

import (
	"testing"

	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/kfmt"
)

func TestPageFromAddress(t *testing.T) {
	specs := []uintptr{
		0,
		4095,
		0xb8000,
		0x4000_0123,
		lowerHalfEnd - 1,
		upperHalfStart,
		upperHalfStart + 0x1234,
		0xffffff7ffffff000,
		0xffffffffffffffff,
	}

	for specIndex, addr := range specs {
		page := PageFromAddress(addr)
		if start := page.Address(); start > addr || addr-start >= PageSize {
			t.Errorf("[spec %d] expected page start 0x%x to satisfy start <= 0x%x < start+PageSize", specIndex, start, addr)
		}
	}
}

func TestPageFromNonCanonicalAddress(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
	}()

	var panicErr *kernel.Error
	panicFn = func(err *kernel.Error) {
		panicErr = err
	}

	specs := []uintptr{
		lowerHalfEnd,
		lowerHalfEnd + PageSize,
		0x0000_ffff_ffff_f000,
		0x8000_0000_0000_0000,
		upperHalfStart - 1,
	}

	for specIndex, addr := range specs {
		panicErr = nil
		PageFromAddress(addr)

		if panicErr != errNonCanonicalAddress {
			t.Errorf("[spec %d] expected PageFromAddress(0x%x) to halt with %v; got %v", specIndex, addr, errNonCanonicalAddress, panicErr)
		}
	}
}

func TestIsCanonical(t *testing.T) {
	specs := []struct {
		addr uintptr
		exp  bool
	}{
		{0, true},
		{0x7fff_ffff_ffff, true},
		{0x8000_0000_0000, false},
		{0xffff_7fff_ffff_ffff, false},
		{0xffff_8000_0000_0000, true},
	}

	for specIndex, spec := range specs {
		if got := IsCanonical(spec.addr); got != spec.exp {
			t.Errorf("[spec %d] expected IsCanonical(0x%x) to return %t; got %t", specIndex, spec.addr, spec.exp, got)
		}
	}
}
