package task

import (
	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/mm/vmm"
)

var (
	// the following functions are mocked by tests.
	activeSpaceFn    = vmm.ActiveSpace
	activateFn       = (*vmm.AddressSpace).Activate
	setKernelStackFn = gate.SetKernelStack
	restoreFn        = restore

	// current is the task most recently resumed by SwitchTo.
	current *Task

	errSwitchReturned = &kernel.Error{Module: "task", Message: "context switch returned"}
)

// SwitchTo resumes t and never returns. It installs the task's address space
// if it is not already active, points the CPU's ring 0 stack at the kernel
// stack of a user task, restores its FPU state (if any) and then its
// registers. Interrupts must be disabled; they are re-enabled by the restored
// RFLAGS.
func SwitchTo(t *Task) {
	if activeSpaceFn() != t.Space {
		activateFn(t.Space)
	}

	if t.User {
		setKernelStackFn(uintptr(t.Stack.End()))
	}

	current = t

	if t.fpu != nil {
		t.fpu.Load()
	}

	restoreFn(&t.State.Registers)

	panic(errSwitchReturned)
}

// Current returns the task most recently resumed by SwitchTo or nil if no
// task has run yet.
func Current() *Task {
	return current
}

// SuspendCurrent saves the registers of a trap taken in ring 3 into the
// current task. It is installed as the gate user entry hook.
func SuspendCurrent(regs *gate.Registers) {
	if current == nil || !current.User {
		return
	}

	current.Suspend(regs)
}

// restore loads the general purpose registers from regs and executes IRETQ
// using the trap frame stored after them.
func restore(regs *gate.Registers)
