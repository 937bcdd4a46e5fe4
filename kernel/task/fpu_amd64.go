package task

import (
	"kcore/kernel"
	"kcore/kernel/cpu"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"unsafe"
)

const (
	// fpuStateSize is the size of the FXSAVE area.
	fpuStateSize = 512

	// default control values loaded by FINIT and at processor reset.
	defaultFCW   = 0x037f
	defaultMXCSR = 0x1f80

	fcwOffset   = 0
	mxcsrOffset = 24
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	fxSaveFn        = cpu.FXSave
	fxRstorFn       = cpu.FXRstor
	hasFXSRFn       = cpu.HasFXSR
	allocFPUStateFn = allocFPUState

	errNoFXSR        = &kernel.Error{Module: "task", Message: "processor does not support FXSAVE/FXRSTOR"}
	errKernelTaskFPU = &kernel.Error{Module: "task", Message: "kernel tasks do not own FPU state"}
)

// FPUState holds the x87/SSE register file in FXSAVE format. It must be
// 16-byte aligned.
type FPUState [fpuStateSize]byte

// reset loads the power-on control words so that restoring a fresh state
// yields a usable FPU.
func (f *FPUState) reset() {
	for i := range f {
		f[i] = 0
	}
	*(*uint16)(unsafe.Pointer(&f[fcwOffset])) = defaultFCW
	*(*uint32)(unsafe.Pointer(&f[mxcsrOffset])) = defaultMXCSR
}

// Save stores the live FPU registers into f. Interrupts must be disabled.
func (f *FPUState) Save() {
	fxSaveFn(uintptr(unsafe.Pointer(f)))
}

// Load restores the live FPU registers from f. Interrupts must be disabled.
func (f *FPUState) Load() {
	fxRstorFn(uintptr(unsafe.Pointer(f)))
}

// allocFPUState carves a page-aligned FPUState out of a fresh kernel space
// region.
func allocFPUState() (*FPUState, *kernel.Error) {
	var base mm.VirtAddr

	err := vmm.WithKernelSpace(func(as *vmm.AddressSpace) *kernel.Error {
		var err *kernel.Error
		base, err = as.AllocateRegion(mm.PageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return (*FPUState)(unsafe.Pointer(uintptr(base))), nil
}
