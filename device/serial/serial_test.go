package serial

import (
	"bytes"
	"testing"

	"github.com/Nivirx/pogos/device"
	"github.com/Nivirx/pogos/kernel/cpu"
	"github.com/google/go-cmp/cmp"
)

type portWrite struct {
	Port  uint16
	Value uint8
}

// fakeUART records port writes and answers line status reads.
type fakeUART struct {
	writes      []portWrite
	scratch     uint8
	busyReads   int
	statusReads int
	present     bool
}

func (u *fakeUART) install() func() {
	portWriteByteFn = func(port uint16, val uint8) {
		if port == com1Base+regScratch {
			u.scratch = val
		}
		u.writes = append(u.writes, portWrite{port, val})
	}
	portReadByteFn = func(port uint16) uint8 {
		switch port {
		case com1Base + regScratch:
			if !u.present {
				return 0xff
			}
			return u.scratch
		case com1Base + regLineStatus:
			u.statusReads++
			if u.busyReads > 0 {
				u.busyReads--
				return 0
			}
			return lineStatusTxEmpty
		}
		return 0
	}

	return func() {
		portWriteByteFn = cpu.PortWriteByte
		portReadByteFn = cpu.PortReadByte
	}
}

func TestDriverInit(t *testing.T) {
	uart := &fakeUART{present: true}
	defer uart.install()()

	var (
		drv device.Driver = ProbeCOM1()
		buf bytes.Buffer
	)

	if err := drv.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	exp := []portWrite{
		{0x3ff, scratchProbe},
		{0x3f9, 0},
		{0x3fb, lineControlDLAB},
		{0x3f8, 3},
		{0x3f9, 0},
		{0x3fb, lineControl8N1},
		{0x3fa, fifoEnableClear},
		{0x3fc, modemDTRRTSOut2},
	}
	if diff := cmp.Diff(exp, uart.writes); diff != "" {
		t.Fatalf("port write sequence mismatch (-want +got):\n%s", diff)
	}

	if exp := "[serial] UART at port 0x3f8: 38400 8N1\n"; buf.String() != exp {
		t.Fatalf("expected init log %q; got %q", exp, buf.String())
	}

	if drv.DriverName() != "serial_16550" {
		t.Fatalf("unexpected driver name %q", drv.DriverName())
	}

	if major, minor, patch := drv.DriverVersion(); major != 0 || minor != 0 || patch != 1 {
		t.Fatalf("unexpected driver version %d.%d.%d", major, minor, patch)
	}
}

func TestDriverInitWithoutUART(t *testing.T) {
	uart := &fakeUART{}
	defer uart.install()()

	if err := ProbeCOM1().DriverInit(nil); err != errNoUART {
		t.Fatalf("expected errNoUART; got %v", err)
	}

	if len(uart.writes) != 1 {
		t.Fatalf("expected the UART not to be programmed; got %d port writes", len(uart.writes))
	}
}

func TestWrite(t *testing.T) {
	uart := &fakeUART{present: true, busyReads: 2}
	defer uart.install()()

	n, err := COM1().Write([]byte("ok\n"))
	if err != nil || n != 3 {
		t.Fatalf("expected Write to return (3, nil); got (%d, %v)", n, err)
	}

	exp := []portWrite{
		{0x3f8, 'o'},
		{0x3f8, 'k'},
		{0x3f8, '\r'},
		{0x3f8, '\n'},
	}
	if diff := cmp.Diff(exp, uart.writes); diff != "" {
		t.Fatalf("transmitted bytes mismatch (-want +got):\n%s", diff)
	}

	// 4 bytes plus the 2 polls while the transmitter was busy
	if uart.statusReads != 6 {
		t.Fatalf("expected 6 line status reads; got %d", uart.statusReads)
	}
}
