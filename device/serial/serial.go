// Package serial drives the 16550 compatible UART behind the first legacy
// serial port (COM1).
package serial

import (
	"io"

	"github.com/Nivirx/pogos/device"
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/cpu"
	"github.com/Nivirx/pogos/kernel/kfmt"
)

const (
	// com1Base is the I/O port of the first serial port.
	com1Base = uint16(0x3f8)

	// baudDivisor selects 38400 baud (115200 / 3).
	baudDivisor = 3

	// register offsets from the port base
	regData        = 0
	regIntEnable   = 1
	regFifoControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regScratch     = 7

	lineControlDLAB = 0x80
	lineControl8N1  = 0x03
	fifoEnableClear = 0xc7
	modemDTRRTSOut2 = 0x0b

	lineStatusTxEmpty = 0x20

	scratchProbe = 0xa5
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	com1 = Port{base: com1Base}

	errNoUART = &kernel.Error{Module: "serial", Message: "no UART found at port"}
)

// Port is a UART that is written to using port I/O. Line feeds are sent as
// CR+LF so that the output renders on terminal emulators.
type Port struct {
	base uint16
}

// DriverName implements device.Driver.
func (p *Port) DriverName() string {
	return "serial_16550"
}

// DriverVersion implements device.Driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit implements device.Driver. It programs the UART for 38400 baud,
// 8 data bits, no parity and one stop bit.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	// The scratch register exists on every 16450/16550 part; a floating
	// bus reads back 0xff.
	portWriteByteFn(p.base+regScratch, scratchProbe)
	if portReadByteFn(p.base+regScratch) != scratchProbe {
		return errNoUART
	}

	portWriteByteFn(p.base+regIntEnable, 0)
	portWriteByteFn(p.base+regLineControl, lineControlDLAB)
	portWriteByteFn(p.base+regData, baudDivisor&0xff)
	portWriteByteFn(p.base+regIntEnable, baudDivisor>>8)
	portWriteByteFn(p.base+regLineControl, lineControl8N1)
	portWriteByteFn(p.base+regFifoControl, fifoEnableClear)
	portWriteByteFn(p.base+regModemCtrl, modemDTRRTSOut2)

	kfmt.Fprintf(w, "[serial] UART at port 0x%x: 38400 8N1\n", p.base)
	return nil
}

// WriteByte implements io.ByteWriter.
func (p *Port) WriteByte(b byte) error {
	if b == '\n' {
		p.send('\r')
	}
	p.send(b)
	return nil
}

// Write implements io.Writer.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		_ = p.WriteByte(b)
	}
	return len(data), nil
}

// send waits for the transmit holding register to drain and then queues b.
func (p *Port) send(b byte) {
	for portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty == 0 {
	}
	portWriteByteFn(p.base+regData, b)
}

// ProbeCOM1 returns the driver for the first serial port.
func ProbeCOM1() device.Driver {
	return &com1
}

// COM1 returns the first serial port.
func COM1() *Port {
	return &com1
}
