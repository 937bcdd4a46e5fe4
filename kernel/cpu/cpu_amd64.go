package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// DisableInterruptsSave disables interrupt handling and reports whether
// interrupts were enabled (RFLAGS.IF set) before the call.
func DisableInterruptsSave() bool

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// HasFXSR returns true if the CPU supports the FXSAVE/FXRSTOR instructions
// (CPUID leaf 1, EDX bit 24).
func HasFXSR() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&(1<<24) != 0
}

// FXSave stores the x87/MMX/SSE register state to the 512-byte, 16-byte
// aligned area at addr.
func FXSave(addr uintptr)

// FXRstor loads the x87/MMX/SSE register state from the 512-byte, 16-byte
// aligned area at addr.
func FXRstor(addr uintptr)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
