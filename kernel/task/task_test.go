package task

import (
	"kcore/kernel"
	"kcore/kernel/cpu"
	"kcore/kernel/gate"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"testing"
	"unsafe"
)

func kernelEntry() {}

func TestCreateKernelTask(t *testing.T) {
	defer func() {
		kernelSpaceFn = vmm.KernelSpace
		allocKernelStackFn = AllocKernelStack
	}()

	var (
		sharedSpace = new(vmm.AddressSpace)
		stack       = vmm.Region{Base: 0xffffc00000000000, Length: KernelStackSize, Flags: vmm.RegionReadable | vmm.RegionWritable}
		allocCount  int
	)

	kernelSpaceFn = func() *vmm.AddressSpace { return sharedSpace }
	allocKernelStackFn = func() (vmm.Region, *kernel.Error) {
		allocCount++
		return stack, nil
	}

	task, err := CreateKernelTask(kernelEntry)
	if err != nil {
		t.Fatal(err)
	}

	if task.Space != sharedSpace {
		t.Fatal("expected kernel task to share the kernel address space")
	}

	if allocCount != 1 || task.Stack != stack {
		t.Fatalf("expected a single kernel stack allocation; got %d", allocCount)
	}

	if task.User || task.State.IsUser() {
		t.Error("expected a kernel-mode task")
	}

	if exp := uint64(funcAddr(kernelEntry)); task.State.RIP != exp || uint64(task.Entry) != exp {
		t.Errorf("expected RIP and Entry to be 0x%x; got 0x%x and 0x%x", exp, task.State.RIP, uintptr(task.Entry))
	}

	if exp := uint64(0xffffc00000002000); task.State.RSP != exp {
		t.Errorf("expected RSP to point to the stack top 0x%x; got 0x%x", exp, task.State.RSP)
	}

	if task.State.CS != kernelCodeSelector || task.State.SS != kernelDataSelector {
		t.Errorf("expected kernel selectors; got CS=0x%x SS=0x%x", task.State.CS, task.State.SS)
	}

	if task.State.RFlags&rflagsIF == 0 {
		t.Error("expected interrupts to be enabled in the initial RFLAGS")
	}

	if task.fpu != nil {
		t.Error("expected kernel task not to have FPU state")
	}

	if _, err = task.FPU(); err != errKernelTaskFPU {
		t.Errorf("expected errKernelTaskFPU; got %v", err)
	}
}

func TestCreateKernelTaskErrors(t *testing.T) {
	defer func() {
		kernelSpaceFn = vmm.KernelSpace
		allocKernelStackFn = AllocKernelStack
	}()

	kernelSpaceFn = func() *vmm.AddressSpace { return nil }
	if _, err := CreateKernelTask(kernelEntry); err != errNoKernelSpace {
		t.Fatalf("expected errNoKernelSpace; got %v", err)
	}

	kernelSpaceFn = func() *vmm.AddressSpace { return new(vmm.AddressSpace) }
	allocKernelStackFn = func() (vmm.Region, *kernel.Error) { return vmm.Region{}, mm.ErrOutOfMemory }
	if _, err := CreateKernelTask(kernelEntry); err != mm.ErrOutOfMemory {
		t.Fatalf("expected mm.ErrOutOfMemory; got %v", err)
	}
}

func TestNewUserTask(t *testing.T) {
	var (
		space       = new(vmm.AddressSpace)
		kernelStack = vmm.Region{Base: 0xffffc00000000000, Length: KernelStackSize}
	)

	task, err := NewUserTask(0x401000, space, 0x7ffffff000, kernelStack)
	if err != nil {
		t.Fatal(err)
	}

	if !task.User || !task.State.IsUser() {
		t.Fatal("expected a user-mode task")
	}

	if task.Space != space || task.Stack != kernelStack {
		t.Fatal("expected the supplied space and kernel stack to be used")
	}

	if task.State.RIP != 0x401000 || task.State.RSP != 0x7ffffff000 {
		t.Fatalf("unexpected initial RIP/RSP: 0x%x/0x%x", task.State.RIP, task.State.RSP)
	}

	if task.State.CS != userCodeSelector || task.State.SS != userDataSelector {
		t.Fatalf("expected user selectors; got CS=0x%x SS=0x%x", task.State.CS, task.State.SS)
	}

	if _, err = NewUserTask(0x401000, nil, 0, kernelStack); err != errNoAddrSpace {
		t.Fatalf("expected errNoAddrSpace; got %v", err)
	}
}

func TestTaskFPU(t *testing.T) {
	defer func() {
		allocFPUStateFn = allocFPUState
		hasFXSRFn = cpu.HasFXSR
		fxSaveFn = cpu.FXSave
		fxRstorFn = cpu.FXRstor
	}()

	var (
		backing    FPUState
		allocCount int
	)

	backing[100] = 0xff
	hasFXSRFn = func() bool { return true }
	allocFPUStateFn = func() (*FPUState, *kernel.Error) {
		allocCount++
		return &backing, nil
	}

	task, _ := NewUserTask(0x401000, new(vmm.AddressSpace), 0, vmm.Region{})
	if task.fpu != nil {
		t.Fatal("expected FPU state to be allocated lazily")
	}

	fpu, err := task.FPU()
	if err != nil {
		t.Fatal(err)
	}

	if again, _ := task.FPU(); again != fpu || allocCount != 1 {
		t.Fatalf("expected FPU state to be allocated once; got %d allocations", allocCount)
	}

	if fcw := *(*uint16)(unsafe.Pointer(&fpu[fcwOffset])); fcw != defaultFCW {
		t.Errorf("expected FCW to be reset to 0x%x; got 0x%x", defaultFCW, fcw)
	}
	if mxcsr := *(*uint32)(unsafe.Pointer(&fpu[mxcsrOffset])); mxcsr != defaultMXCSR {
		t.Errorf("expected MXCSR to be reset to 0x%x; got 0x%x", defaultMXCSR, mxcsr)
	}
	if fpu[100] != 0 {
		t.Error("expected the remaining FPU state to be cleared")
	}

	var savedAt, loadedAt uintptr
	fxSaveFn = func(addr uintptr) { savedAt = addr }
	fxRstorFn = func(addr uintptr) { loadedAt = addr }

	regs := gate.Registers{RAX: 42}
	task.Suspend(&regs)
	fpu.Load()

	exp := uintptr(unsafe.Pointer(&backing))
	if savedAt != exp || loadedAt != exp {
		t.Fatalf("expected FXSAVE/FXRSTOR to use 0x%x; got 0x%x/0x%x", exp, savedAt, loadedAt)
	}

	if task.State.RAX != 42 {
		t.Fatal("expected Suspend to capture the trap registers")
	}
}

func TestTaskFPUErrors(t *testing.T) {
	defer func() {
		allocFPUStateFn = allocFPUState
		hasFXSRFn = cpu.HasFXSR
	}()

	task, _ := NewUserTask(0x401000, new(vmm.AddressSpace), 0, vmm.Region{})

	hasFXSRFn = func() bool { return false }
	if _, err := task.FPU(); err != errNoFXSR {
		t.Fatalf("expected errNoFXSR; got %v", err)
	}

	hasFXSRFn = func() bool { return true }
	allocFPUStateFn = func() (*FPUState, *kernel.Error) { return nil, mm.ErrOutOfMemory }
	if _, err := task.FPU(); err != mm.ErrOutOfMemory {
		t.Fatalf("expected mm.ErrOutOfMemory; got %v", err)
	}

	if task.fpu != nil {
		t.Fatal("expected FPU state to remain unset after a failed allocation")
	}
}
