package task

import (
	"kcore/kernel"
	"kcore/kernel/gate"
)

// GDT selectors installed by the boot code.
const (
	kernelCodeSelector = 0x08
	kernelDataSelector = 0x10
	userCodeSelector   = 0x18 | 3
	userDataSelector   = 0x20 | 3

	// privilegeMask extracts the requested privilege level of a selector.
	privilegeMask = 3

	rflagsReserved = 1 << 1
	rflagsIF       = 1 << 9
)

// syscallArgCount is the number of register-passed syscall arguments.
const syscallArgCount = 6

var errBadSyscallArg = &kernel.Error{Module: "task", Message: "syscall argument index out of range"}

// State is the register file of a suspended task. It is captured on every
// trap entry and restored by SwitchTo.
//
// Syscalls follow a fixed register convention: the syscall number is passed
// in RAX and the arguments in RDI, RSI, RDX, R10, R8 and R9. On return RAX
// holds the result payload and RDX is zero on success or the error code on
// failure.
type State struct {
	gate.Registers
}

// IsUser returns true if the state was captured while running in ring 3.
func (s *State) IsUser() bool {
	return s.CS&privilegeMask == 3
}

// SyscallNumber returns the requested syscall number.
func (s *State) SyscallNumber() uint64 {
	return s.RAX
}

// SyscallArg returns syscall argument n, where n is in [0, 6).
func (s *State) SyscallArg(n int) uint64 {
	switch n {
	case 0:
		return s.RDI
	case 1:
		return s.RSI
	case 2:
		return s.RDX
	case 3:
		return s.R10
	case 4:
		return s.R8
	case 5:
		return s.R9
	}

	panic(errBadSyscallArg)
}

// SetSyscallResult reports a successful syscall returning value.
func (s *State) SetSyscallResult(value uint64) {
	s.RAX = value
	s.RDX = 0
}

// SetSyscallError reports a failed syscall. errno must be non-zero.
func (s *State) SetSyscallError(errno uint64) {
	s.RAX = 0
	s.RDX = errno
}

// Capture copies the registers saved by a trap entry into s.
func (s *State) Capture(regs *gate.Registers) {
	s.Registers = *regs
}

// Restore copies s into regs so that the trap return path resumes the task
// described by s.
func (s *State) Restore(regs *gate.Registers) {
	*regs = s.Registers
}
