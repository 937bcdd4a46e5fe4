// Package task defines schedulable execution contexts, their saved register
// state and the primitive that resumes them.
package task

import (
	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"unsafe"
)

// KernelStackSize is the size of the stack allocated for each kernel task
// and of the trap stack of each user task.
const KernelStackSize = 2 * mm.PageSize

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	kernelSpaceFn      = vmm.KernelSpace
	allocKernelStackFn = AllocKernelStack

	log = kfmt.Logger{Module: "task"}

	errNoKernelSpace = &kernel.Error{Module: "task", Message: "kernel address space not initialized"}
	errNoAddrSpace   = &kernel.Error{Module: "task", Message: "user task requires an address space"}
)

// Task is a schedulable execution context.
type Task struct {
	// Entry is the address execution starts at.
	Entry mm.VirtAddr

	// Stack is the kernel-mode stack of the task. User tasks run on their
	// own user stack and only use it while handling traps.
	Stack vmm.Region

	// User is true for tasks that execute in ring 3.
	User bool

	// Space is the shared kernel space for kernel tasks and the task's
	// own address space for user tasks.
	Space *vmm.AddressSpace

	State State

	// fpu is nil until FPU is first called for a user task.
	fpu *FPUState
}

// AllocKernelStack allocates a KernelStackSize region in the kernel address
// space.
func AllocKernelStack() (vmm.Region, *kernel.Error) {
	var stack vmm.Region

	err := vmm.WithKernelSpace(func(as *vmm.AddressSpace) *kernel.Error {
		base, err := as.AllocateRegion(KernelStackSize)
		if err != nil {
			return err
		}

		stack, _ = as.FindRegion(base)
		return nil
	})

	return stack, err
}

// CreateKernelTask returns a ring 0 task that starts executing entry on a
// fresh kernel stack. The task shares the kernel address space.
func CreateKernelTask(entry func()) (*Task, *kernel.Error) {
	space := kernelSpaceFn()
	if space == nil {
		return nil, errNoKernelSpace
	}

	stack, err := allocKernelStackFn()
	if err != nil {
		return nil, err
	}

	t := &Task{
		Entry: funcAddr(entry),
		Stack: stack,
		Space: space,
	}

	t.State.RIP = uint64(t.Entry)
	t.State.RSP = uint64(stack.End())
	t.State.CS = kernelCodeSelector
	t.State.SS = kernelDataSelector
	t.State.RFlags = rflagsReserved | rflagsIF

	log.Printf("created kernel task: entry=0x%x stack=0x%x", uintptr(t.Entry), uintptr(stack.Base))
	return t, nil
}

// NewUserTask returns a ring 3 task that starts executing at entry with its
// stack pointer at userStackTop inside space. kernelStack is used while the
// task is handling traps.
func NewUserTask(entry mm.VirtAddr, space *vmm.AddressSpace, userStackTop mm.VirtAddr, kernelStack vmm.Region) (*Task, *kernel.Error) {
	if space == nil {
		return nil, errNoAddrSpace
	}

	t := &Task{
		Entry: entry,
		Stack: kernelStack,
		User:  true,
		Space: space,
	}

	t.State.RIP = uint64(entry)
	t.State.RSP = uint64(userStackTop)
	t.State.CS = userCodeSelector
	t.State.SS = userDataSelector
	t.State.RFlags = rflagsReserved | rflagsIF

	return t, nil
}

// FPU returns the FPU state of a user task, allocating it on first use.
func (t *Task) FPU() (*FPUState, *kernel.Error) {
	if !t.User {
		return nil, errKernelTaskFPU
	}

	if t.fpu != nil {
		return t.fpu, nil
	}

	if !hasFXSRFn() {
		return nil, errNoFXSR
	}

	fpu, err := allocFPUStateFn()
	if err != nil {
		return nil, err
	}

	fpu.reset()
	t.fpu = fpu
	return fpu, nil
}

// Suspend records the registers saved by a trap entry and, if the task owns
// FPU state, the live FPU registers. Interrupts must be disabled.
func (t *Task) Suspend(regs *gate.Registers) {
	t.State.Capture(regs)
	if t.fpu != nil {
		t.fpu.Save()
	}
}

// funcAddr returns the code address of fn.
func funcAddr(fn func()) mm.VirtAddr {
	// a func value points to a closure whose first word is the code pointer
	return mm.VirtAddr(**(**uintptr)(unsafe.Pointer(&fn)))
}
