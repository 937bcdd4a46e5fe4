package irq

import "kcore/kernel/cpu"

const (
	picPrimaryCmdPort    = 0x20
	picPrimaryDataPort   = 0x21
	picSecondaryCmdPort  = 0xa0
	picSecondaryDataPort = 0xa1

	// picInitCmd starts the initialization sequence (ICW1) and announces
	// that ICW4 follows.
	picInitCmd = 0x11

	// picMode8086 selects 8086 mode (ICW4).
	picMode8086 = 0x01

	// picEOI is the non-specific end-of-interrupt command.
	picEOI = 0x20

	// picCascadePin is the primary controller pin that the secondary
	// controller is wired to.
	picCascadePin = 2

	// picSecondaryIdentity is the cascade identity of the secondary
	// controller (ICW3).
	picSecondaryIdentity = 2

	picPinsPerChip = 8

	// PICLineCount is the number of lines served by the cascaded pair.
	PICLineCount = 2 * picPinsPerChip
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// PIC drives a cascaded pair of 8259 programmable interrupt controllers.
// Controller pin n is delivered as Line(offset+n).
//
// A PIC is accessed by a single processor during boot and from interrupt
// handlers; it performs no locking.
type PIC struct {
	offset Line

	// masks caches the interrupt mask registers of the primary and
	// secondary controller. A set bit masks the pin.
	masks [2]uint8
}

// Remap reprograms both controllers so that pin 0 of the primary controller
// raises vector offset and pin 0 of the secondary controller raises vector
// offset+8. The mask registers are preserved.
func (p *PIC) Remap(offset Line) {
	p.masks[0] = portReadByteFn(picPrimaryDataPort)
	p.masks[1] = portReadByteFn(picSecondaryDataPort)
	p.offset = offset

	portWriteByteFn(picPrimaryCmdPort, picInitCmd)
	portWriteByteFn(picSecondaryCmdPort, picInitCmd)
	portWriteByteFn(picPrimaryDataPort, uint8(offset))
	portWriteByteFn(picSecondaryDataPort, uint8(offset)+picPinsPerChip)
	portWriteByteFn(picPrimaryDataPort, 1<<picCascadePin)
	portWriteByteFn(picSecondaryDataPort, picSecondaryIdentity)
	portWriteByteFn(picPrimaryDataPort, picMode8086)
	portWriteByteFn(picSecondaryDataPort, picMode8086)

	p.writeMasks()
}

// Offset returns the line that pin 0 of the primary controller is mapped to.
func (p *PIC) Offset() Line {
	return p.offset
}

// LineForPin returns the line raised by the given controller pin.
func (p *PIC) LineForPin(pin uint8) Line {
	return p.offset + Line(pin)
}

// MaskAll masks all 16 lines.
func (p *PIC) MaskAll() {
	p.masks[0], p.masks[1] = 0xff, 0xff
	p.writeMasks()
}

// IsMasked returns true if line is masked. Lines that are not served by this
// controller are always reported as masked.
func (p *PIC) IsMasked(line Line) bool {
	pin, ok := p.pin(line)
	if !ok {
		return true
	}
	return p.masks[pin/picPinsPerChip]&(1<<(pin%picPinsPerChip)) != 0
}

// EnableLine unmasks line. Enabling a line served by the secondary controller
// also unmasks the cascade pin on the primary controller.
func (p *PIC) EnableLine(line Line) {
	pin, ok := p.pin(line)
	if !ok {
		log.Warnf("ignoring request to enable line %d outside the PIC range", uint8(line))
		return
	}

	p.masks[pin/picPinsPerChip] &^= 1 << (pin % picPinsPerChip)
	if pin >= picPinsPerChip {
		p.masks[0] &^= 1 << picCascadePin
	}
	p.writeMasks()
}

// DisableLine masks line.
func (p *PIC) DisableLine(line Line) {
	pin, ok := p.pin(line)
	if !ok {
		log.Warnf("ignoring request to disable line %d outside the PIC range", uint8(line))
		return
	}

	p.masks[pin/picPinsPerChip] |= 1 << (pin % picPinsPerChip)
	p.writeMasks()
}

// SendEOI acknowledges line. Lines served by the secondary controller must be
// acknowledged by both controllers, secondary first.
func (p *PIC) SendEOI(line Line) {
	pin, ok := p.pin(line)
	if !ok {
		return
	}

	if pin >= picPinsPerChip {
		portWriteByteFn(picSecondaryCmdPort, picEOI)
	}
	portWriteByteFn(picPrimaryCmdPort, picEOI)
}

// pin converts line into a controller pin number in [0, 16).
func (p *PIC) pin(line Line) (uint8, bool) {
	if line < p.offset || line-p.offset >= PICLineCount {
		return 0, false
	}
	return uint8(line - p.offset), true
}

func (p *PIC) writeMasks() {
	portWriteByteFn(picPrimaryDataPort, p.masks[0])
	portWriteByteFn(picSecondaryDataPort, p.masks[1])
}
