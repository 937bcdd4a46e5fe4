package vmm

import (
	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm"
)

var (
	// handleInterruptFn is used by tests.
	handleInterruptFn = gate.HandleInterrupt

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// Page fault error code bits pushed by the CPU.
const (
	faultPresent     = 1 << 0
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultFetch       = 1 << 4
)

// InstallFaultHandlers registers the page fault and general protection
// fault handlers with the gate package.
func InstallFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a PDT or PDT-entry is not present or when a
// RW protection check fails. Regions are always backed eagerly, so every
// page fault is fatal.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info&faultReservedBit != 0:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info&faultFetch != 0:
		kfmt.Printf("instruction fetch")
	case regs.Info&(faultPresent|faultWrite) == faultPresent|faultWrite:
		kfmt.Printf("page protection violation (write)")
	case regs.Info&faultPresent != 0:
		kfmt.Printf("page protection violation (read)")
	case regs.Info&faultWrite != 0:
		kfmt.Printf("write to non-present page")
	default:
		kfmt.Printf("read from non-present page")
	}
	if regs.Info&faultUser != 0 {
		kfmt.Printf(" in user-mode")
	}

	if activeSpace != nil {
		if region, ok := activeSpace.FindRegion(mm.VirtAddr(faultAddress)); ok {
			kfmt.Printf("\nRegion: [0x%16x, 0x%16x) flags: %d", uintptr(region.Base), uintptr(region.End()), uint8(region.Flags))
		} else {
			kfmt.Printf("\nRegion: none")
		}
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}
