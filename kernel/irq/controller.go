// Package irq provides the interrupt controller abstraction used to enable,
// disable and acknowledge hardware interrupt lines, together with the legacy
// 8259 PIC, the APIC and the PIT timer that drives preemption.
package irq

import (
	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
)

// Line identifies a system-wide interrupt source after the controller has
// remapped it, i.e. the interrupt vector the CPU sees. Raw controller pin
// numbers are never represented as a Line.
type Line uint8

// Controller is implemented by interrupt controllers.
type Controller interface {
	// SendEOI acknowledges the interrupt on line so the controller can
	// deliver further interrupts.
	SendEOI(line Line)

	// EnableLine unmasks line.
	EnableLine(line Line)

	// DisableLine masks line.
	DisableLine(line Line)
}

var (
	// activeController acknowledges interrupts dispatched via HandleIRQ.
	activeController Controller

	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt

	log = kfmt.Logger{Module: "irq"}
)

// SetController selects the controller used by HandleIRQ.
func SetController(c Controller) {
	activeController = c
}

// ActiveController returns the controller selected via SetController.
func ActiveController() Controller {
	return activeController
}

// HandleIRQ installs handler for line, unmasks the line and arranges for the
// active controller to be acknowledged after each handler invocation.
func HandleIRQ(line Line, handler func(*gate.Registers)) {
	handleInterruptFn(gate.InterruptNumber(line), 0, func(regs *gate.Registers) {
		handler(regs)
		if activeController != nil {
			activeController.SendEOI(line)
		}
	})

	if activeController != nil {
		activeController.EnableLine(line)
	}
}
