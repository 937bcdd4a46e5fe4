// Package gate routes CPU exceptions, hardware interrupts and software traps
// to Go handlers.
package gate

import (
	"io"
	"kcore/kernel"
	"kcore/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. The field order matches the layout built on
// the stack by the assembly entry stubs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions and zero for
	// everything else.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1.
	SIMDFloatingPointException = InterruptNumber(19)

	// SyscallVector is the software interrupt used by user tasks to enter
	// the kernel. It is the only gate callable from ring 3.
	SyscallVector = InterruptNumber(0x80)
)

var (
	// handlers holds the Go handler registered for each vector.
	handlers [idtEntryCount]func(*Registers)

	// userEntryHook, if set, runs before the handler for every vector
	// raised while the CPU was executing in ring 3.
	userEntryHook func(*Registers)

	log = kfmt.Logger{Module: "gate"}

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "unhandled interrupt"}
)

// Init runs the appropriate CPU-specific initialization code for enabling
// support for interrupt handling: it loads a GDT with a task state segment
// and installs the IDT.
func Init() {
	installGDT()
	installIDT()
}

// SetUserEntryHook registers fn to run on every interrupt, exception or
// syscall taken while the CPU was executing in ring 3, before the vector's
// handler. It receives the registers saved by the entry stub.
func SetUserEntryHook(fn func(*Registers)) {
	userEntryHook = fn
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used).
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlers[intNumber] = handler
	setIDTEntry(intNumber, istOffset)
}

// Dispatch invokes the handler registered for intNumber. Vectors without a
// handler are fatal.
func Dispatch(intNumber InterruptNumber, regs *Registers) {
	handler := handlers[intNumber]
	if handler == nil {
		log.Errorf("no handler for interrupt %d (info: 0x%x)", uint8(intNumber), regs.Info)
		regs.DumpTo(kfmt.GetOutputSink())
		panic(errUnhandledInterrupt)
	}

	handler(regs)
}

// dispatchInterrupt is invoked by the common assembly entry point with the
// vector number and a pointer to the saved registers.
func dispatchInterrupt(vector uint64, regs *Registers) {
	if regs.CS&3 == 3 && userEntryHook != nil {
		userEntryHook(regs)
	}

	Dispatch(InterruptNumber(vector), regs)
}
