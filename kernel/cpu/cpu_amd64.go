// Package cpu exposes the privileged amd64 instructions used by the kernel.
// Every function without a body is implemented in cpu_amd64.s and faults if
// executed outside ring 0.
package cpu

const (
	// msrEFER is the extended feature enable register.
	msrEFER = uint32(0xc0000080)

	// eferNXE enables the no-execute page protection bit.
	eferNXE = uint64(1 << 11)

	// cr0WP makes supervisor-mode writes honor read-only page mappings.
	cr0WP = uint64(1 << 16)

	// extFeatureNX is the CPUID.80000001h:EDX bit that advertises NX support.
	extFeatureNX = uint32(1 << 20)
)

var (
	cpuidFn    = ID
	readMSRFn  = ReadMSR
	writeMSRFn = WriteMSR
	readCR0Fn  = ReadCR0
	writeCR0Fn = WriteCR0
)

// Halt disables interrupts and stops instruction execution. It never returns.
func Halt()

// FlushTLBEntry invalidates the TLB entry for the page containing virtAddr.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB invalidates all non-global TLB entries by reloading CR3.
func FlushTLB()

// SwitchPDT loads the physical address of a P4 table into CR3. The address
// must be page-aligned and point to a table whose last entry maps the table
// itself; the TLB is implicitly flushed.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active P4 table.
func ActivePDT() uintptr

// ReadMSR returns the value of a model specific register.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value into a model specific register.
func WriteMSR(msr uint32, value uint64)

// ReadCR0 returns the value stored in the CR0 register.
func ReadCR0() uint64

// WriteCR0 stores value into the CR0 register.
func WriteCR0(value uint64)

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (eax, ebx, ecx, edx uint32)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// SupportsNoExecute returns true if the CPU can enforce no-execute pages.
func SupportsNoExecute() bool {
	if maxLeaf, _, _, _ := cpuidFn(0x80000000); maxLeaf < 0x80000001 {
		return false
	}

	_, _, _, edx := cpuidFn(0x80000001)
	return edx&extFeatureNX != 0
}

// EnableNoExecute sets EFER.NXE so that page table entries with the
// no-execute bit set trap on instruction fetches.
func EnableNoExecute() {
	writeMSRFn(msrEFER, readMSRFn(msrEFER)|eferNXE)
}

// EnableWriteProtect sets CR0.WP so that ring-0 writes to read-only pages
// cause a page fault.
func EnableWriteProtect() {
	writeCR0Fn(readCR0Fn() | cr0WP)
}
