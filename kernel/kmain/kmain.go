// Package kmain contains the kernel entrypoint that brings up memory
// management, the Go runtime, the hardware and the first user task.
package kmain

import (
	"kcore/kernel"
	"kcore/kernel/exec"
	"kcore/kernel/gate"
	"kcore/kernel/goruntime"
	"kcore/kernel/hal"
	"kcore/kernel/irq"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm"
	"kcore/kernel/mm/pmm"
	"kcore/kernel/mm/vmm"
	"kcore/kernel/multiboot"
	"kcore/kernel/task"

	// drivers register themselves with the device package when linked in.
	_ "kcore/device/serial"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	visitMemRegionsFn      = multiboot.VisitMemRegions
	visitModulesFn         = multiboot.VisitModules
	visitElfSectionsFn     = multiboot.VisitElfSections
	cmdLineFn              = multiboot.CmdLine
	physSliceFn            = physMapSlice
	pmmInitFn              = pmm.Init
	initKernelSpaceFn      = vmm.InitKernelSpace
	activateFn             = (*vmm.AddressSpace).Activate
	enablePhysMapFn        = vmm.EnablePhysMap
	goruntimeInitFn        = goruntime.Init
	detectHardwareFn       = hal.DetectHardware
	gateInitFn             = gate.Init
	setUserEntryHookFn     = gate.SetUserEntryHook
	installFaultHandlersFn = vmm.InstallFaultHandlers
	initIRQFn              = irq.InitLegacy
	handleIRQFn            = irq.HandleIRQ
	createUserTaskFn       = exec.CreateUserTask
	switchToFn             = task.SwitchTo
	kernelPanicFn          = kfmt.Panic

	log = kfmt.Logger{Module: "kmain"}

	// tickCount is the number of system timer interrupts since boot.
	tickCount uint64

	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoUsableMemory = &kernel.Error{Module: "kmain", Message: "no usable memory region reported by the bootloader"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and setting up a minimal g0 struct that allows Go
// code using the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end
// and the offset at which the kernel image is linked.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, kernelPageOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	initTask, err := boot(kernelStart, kernelEnd, kernelPageOffset)
	if err != nil {
		panic(err)
	}

	switchToFn(initTask)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kernelPanicFn(errKmainReturned)
}

// boot runs the initialization sequence and returns the first user task.
func boot(kernelStart, kernelEnd, kernelPageOffset uintptr) (*task.Task, *kernel.Error) {
	reservedEnd := bootReservedEnd(kernelEnd)

	memStart, memEnd, ok := usableMemory(kernelStart)
	if !ok {
		return nil, errNoUsableMemory
	}

	if err := pmmInitFn(mm.PhysAddr(memStart), mm.PhysAddr(memEnd), mm.PhysAddr(kernelStart), mm.PhysAddr(reservedEnd)); err != nil {
		return nil, err
	}

	window := (max(memEnd, reservedEnd) + bootWindowAlign - 1) &^ (bootWindowAlign - 1)
	layout, err := kernelLayout(kernelPageOffset, window)
	if err != nil {
		return nil, err
	}

	kernelSpace, err := initKernelSpaceFn(layout)
	if err != nil {
		return nil, err
	}
	activateFn(kernelSpace)
	enablePhysMapFn()

	if err = goruntimeInitFn(); err != nil {
		return nil, err
	}

	detectHardwareFn()
	cfg := parseCmdLine(cmdLineFn())

	gateInitFn()
	setUserEntryHookFn(task.SuspendCurrent)
	installFaultHandlersFn()

	if _, err = initIRQFn(cfg.irq); err != nil {
		return nil, err
	}
	handleIRQFn(irq.TimerLine(), onTimerTick)

	exec.SetFilesystem(loadInitrd())
	initTask, err := createUserTaskFn(cfg.initPath)
	if err != nil {
		return nil, err
	}

	log.Printf("starting %s", cfg.initPath)
	return initTask, nil
}

func onTimerTick(_ *gate.Registers) {
	tickCount++
}
