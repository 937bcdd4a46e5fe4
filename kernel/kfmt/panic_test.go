package kfmt

import (
	"bytes"
	"errors"
	"kcore/kernel"
	"kcore/kernel/cpu"
	"testing"
)

func mockPanicHooks(haltCount *int) func() {
	cpuHaltFn = func() { *haltCount++ }
	disableInterruptsFn = func() {}
	panicking = false

	return func() {
		cpuHaltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
		panicking = false
		SetOutputSink(nil)
	}
}

func TestPanic(t *testing.T) {
	var (
		buf       bytes.Buffer
		haltCount int
	)
	defer mockPanicHooks(&haltCount)()
	SetOutputSink(&buf)

	report := func(line string) string {
		return panicBanner + line + "*** kernel panic: system halted ***" + panicBanner
	}

	specs := []struct {
		name string
		fn   func()
		exp  string
	}{
		{
			"with *kernel.Error",
			func() { Panic(&kernel.Error{Module: "exec", Message: "unexpected program header entry size"}) },
			report("[exec] unrecoverable error: unexpected program header entry size\n"),
		},
		{
			"with error",
			func() { Panic(errors.New("index out of range")) },
			report("[rt] unrecoverable error: index out of range\n"),
		},
		{
			"with string",
			func() { Panic("nil map write") },
			report("[rt] unrecoverable error: nil map write\n"),
		},
		{
			"from runtime.throw",
			func() { panicString("stack overflow") },
			report("[rt] unrecoverable error: stack overflow\n"),
		},
		{
			"without error",
			func() { Panic(nil) },
			report(""),
		},
		{
			"with nil *kernel.Error",
			func() { Panic((*kernel.Error)(nil)) },
			report(""),
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			buf.Reset()
			haltCount = 0
			panicking = false

			spec.fn()

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if haltCount != 1 {
				t.Fatalf("expected cpu.Halt() to be called once; got %d", haltCount)
			}
		})
	}
}

func TestPanicWhilePanicking(t *testing.T) {
	var (
		buf       bytes.Buffer
		haltCount int
	)
	defer mockPanicHooks(&haltCount)()
	SetOutputSink(&buf)

	Panic(&kernel.Error{Module: "vmm", Message: "page fault in kernel space"})
	firstReport := buf.String()

	Panic(&kernel.Error{Module: "vmm", Message: "fault while reporting"})

	if got := buf.String(); got != firstReport {
		t.Fatalf("expected nested panic to produce no output; got:\n%q", got[len(firstReport):])
	}

	if haltCount != 2 {
		t.Fatalf("expected cpu.Halt() to be called for each panic; got %d", haltCount)
	}
}
