package cpu

import "testing"

func TestSupportsNoExecute(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		maxExtLeaf, extEDX uint32
		exp                bool
	}{
		// extended leaf 0x80000001 missing
		{0x80000000, 0xffffffff, false},
		// NX bit clear
		{0x80000008, 0x2c100800 &^ extFeatureNX, false},
		// NX bit set
		{0x80000008, 0x2c100800, true},
	}

	for specIndex, spec := range specs {
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			switch leaf {
			case 0x80000000:
				return spec.maxExtLeaf, 0, 0, 0
			case 0x80000001:
				return 0, 0, 0, spec.extEDX
			}
			t.Fatalf("[spec %d] unexpected cpuid leaf 0x%x", specIndex, leaf)
			return 0, 0, 0, 0
		}

		if got := SupportsNoExecute(); got != spec.exp {
			t.Errorf("[spec %d] expected SupportsNoExecute to return %t; got %t", specIndex, spec.exp, got)
		}
	}
}

func TestEnableNoExecute(t *testing.T) {
	defer func() {
		readMSRFn = ReadMSR
		writeMSRFn = WriteMSR
	}()

	const efer = uint64(0x501)
	readMSRFn = func(msr uint32) uint64 {
		if msr != msrEFER {
			t.Fatalf("expected EFER (0x%x) to be read; got 0x%x", msrEFER, msr)
		}
		return efer
	}

	var written uint64
	writeMSRFn = func(msr uint32, value uint64) {
		if msr != msrEFER {
			t.Fatalf("expected EFER (0x%x) to be written; got 0x%x", msrEFER, msr)
		}
		written = value
	}

	EnableNoExecute()

	if exp := efer | eferNXE; written != exp {
		t.Fatalf("expected EFER to be set to 0x%x; got 0x%x", exp, written)
	}
}

func TestEnableWriteProtect(t *testing.T) {
	defer func() {
		readCR0Fn = ReadCR0
		writeCR0Fn = WriteCR0
	}()

	const cr0 = uint64(0x80000011)
	readCR0Fn = func() uint64 { return cr0 }

	var written uint64
	writeCR0Fn = func(value uint64) { written = value }

	EnableWriteProtect()

	if exp := cr0 | cr0WP; written != exp {
		t.Fatalf("expected CR0 to be set to 0x%x; got 0x%x", exp, written)
	}
}
