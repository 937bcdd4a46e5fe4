package kfmt

import (
	"kcore/kernel"
	"kcore/kernel/cpu"
)

// panicBanner frames the panic report on the console.
const panicBanner = "\n-----------------------------------\n"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn           = cpu.Halt
	disableInterruptsFn = cpu.DisableInterrupts

	// panicking is set once a panic report is being printed. A panic raised
	// while printing the report halts the CPU without printing again.
	panicking bool
)

// Panic disables interrupts, outputs the supplied error (if not nil) to the
// console and halts the CPU. Calls to Panic never return. Panic also works
// as a redirection target for calls to panic() (resolved via
// runtime.gopanic) so fatal invariant violations raised with panic(err) end
// up here.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	disableInterruptsFn()

	if panicking {
		cpuHaltFn()
		return
	}
	panicking = true

	Printf(panicBanner)
	switch t := e.(type) {
	case *kernel.Error:
		if t != nil {
			Printf("[%s] unrecoverable error: %s\n", t.Module, t.Message)
		}
	case error:
		Printf("[rt] unrecoverable error: %s\n", t.Error())
	case string:
		Printf("[rt] unrecoverable error: %s\n", t)
	}
	Printf("*** kernel panic: system halted ***")
	Printf(panicBanner)

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}
