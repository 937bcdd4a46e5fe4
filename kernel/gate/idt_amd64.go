package gate

import "unsafe"

const (
	idtEntryCount = 256

	// kernelCodeSelector is the GDT selector of the 64-bit kernel code
	// segment installed by the boot code.
	kernelCodeSelector = 0x08

	gateTypeInterrupt = 0x0e
	gatePresent       = 1 << 7
	gateDPLShift      = 5
)

// idtEntry is the 16-byte long mode interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

var (
	idt [idtEntryCount]idtEntry

	// the following functions are mocked by tests.
	gateEntryAddrFn = gateEntryAddr
	loadIDTFn       = loadIDT
)

// installIDT points every gate at its entry stub and loads the table to the
// CPU. Vectors without a registered handler still reach Dispatch, which
// reports them.
func installIDT() {
	for i := range idt {
		var istOffset uint8
		if InterruptNumber(i) == DoubleFault {
			istOffset = DoubleFaultIST
		}
		setIDTEntry(InterruptNumber(i), istOffset)
	}

	loadIDTFn(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))
}

// setIDTEntry points the gate for intNumber at its assembly entry stub and
// marks it present.
func setIDTEntry(intNumber InterruptNumber, istOffset uint8) {
	var (
		entry = &idt[intNumber]
		addr  = gateEntryAddrFn(uint8(intNumber))
		dpl   uint8
	)

	if intNumber == SyscallVector {
		dpl = 3
	}

	entry.offsetLow = uint16(addr)
	entry.offsetMid = uint16(addr >> 16)
	entry.offsetHigh = uint32(addr >> 32)
	entry.selector = kernelCodeSelector
	entry.ist = istOffset & 0x7
	entry.typeAttr = gatePresent | dpl<<gateDPLShift | gateTypeInterrupt
}

// gateEntryAddr returns the address of the assembly entry stub for vector.
func gateEntryAddr(vector uint8) uintptr

// loadIDT loads the IDT register with the table at base.
func loadIDT(base uintptr, limit uint16)
