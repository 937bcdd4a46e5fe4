package irq

import "unsafe"

const (
	// lapicEOIReg is the offset of the local APIC end-of-interrupt
	// register.
	lapicEOIReg = 0xb0

	// ioapicRegSel and ioapicWin are the offsets of the IO APIC register
	// select and data window registers.
	ioapicRegSel = 0x00
	ioapicWin    = 0x10

	// ioapicRedirTable is the index of the low dword of the first
	// redirection entry; each entry spans two registers.
	ioapicRedirTable = 0x10

	// ioapicMasked masks a redirection entry.
	ioapicMasked = 1 << 16
)

var (
	// mmioWrite32Fn is used by tests.
	mmioWrite32Fn = func(addr uintptr, val uint32) {
		*(*uint32)(unsafe.Pointer(addr)) = val
	}
)

// APIC acknowledges interrupts through the local APIC of the current
// processor and routes lines through an IO APIC. IO APIC input n is delivered
// as Line(offset+n) to the processor with APIC ID 0.
type APIC struct {
	// localBase and ioBase are the virtual addresses of the memory mapped
	// local APIC and IO APIC register blocks.
	localBase uintptr
	ioBase    uintptr

	offset Line
}

// NewAPIC returns an APIC using the register blocks mapped at localBase and
// ioBase.
func NewAPIC(localBase, ioBase uintptr, offset Line) *APIC {
	return &APIC{localBase: localBase, ioBase: ioBase, offset: offset}
}

// SendEOI acknowledges the in-service interrupt on the local APIC.
func (a *APIC) SendEOI(_ Line) {
	mmioWrite32Fn(a.localBase+lapicEOIReg, 0)
}

// EnableLine programs the redirection entry for line as a fixed,
// edge-triggered interrupt delivered to vector line.
func (a *APIC) EnableLine(line Line) {
	a.writeRedirection(line, uint32(line))
}

// DisableLine masks the redirection entry for line.
func (a *APIC) DisableLine(line Line) {
	a.writeRedirection(line, uint32(line)|ioapicMasked)
}

func (a *APIC) writeRedirection(line Line, low uint32) {
	if line < a.offset {
		log.Warnf("ignoring request to route line %d below the IO APIC range", uint8(line))
		return
	}

	reg := uint32(ioapicRedirTable) + 2*uint32(line-a.offset)
	a.writeIO(reg, low)
	a.writeIO(reg+1, 0)
}

func (a *APIC) writeIO(reg, val uint32) {
	mmioWrite32Fn(a.ioBase+ioapicRegSel, reg)
	mmioWrite32Fn(a.ioBase+ioapicWin, val)
}
