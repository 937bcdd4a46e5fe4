package irq

import (
	"bytes"
	"kcore/kernel"
	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
	"strings"
	"testing"
)

func TestInitLegacy(t *testing.T) {
	_, restore := recordPorts(0x00, 0x00)
	defer restore()
	defer SetController(nil)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	pic, err := InitLegacy(Config{Offset: 32, TimerHz: 100, PeripheralPin: 4})
	if err != nil {
		t.Fatal(err)
	}

	for line := Line(32); line < 32+PICLineCount; line++ {
		expMasked := line != 32 && line != 36
		if got := pic.IsMasked(line); got != expMasked {
			t.Errorf("expected IsMasked(%d) to return %t; got %t", line, expMasked, got)
		}
	}

	if ActiveController() != Controller(pic) {
		t.Error("expected the PIC to become the active controller")
	}

	if TimerLine() != 32 {
		t.Errorf("expected timer line 32; got %d", TimerLine())
	}

	if systemTimer.Frequency() != 100 {
		t.Errorf("expected timer frequency 100; got %d", systemTimer.Frequency())
	}

	if got := buf.String(); !strings.Contains(got, "[irq] PIC remapped to 32, timer at 100 Hz, peripheral line 36") {
		t.Errorf("unexpected log output: %q", got)
	}
}

func TestInitLegacyErrors(t *testing.T) {
	_, restore := recordPorts(0x00, 0x00)
	defer restore()
	defer SetController(nil)

	specs := []struct {
		cfg    Config
		expErr *kernel.Error
	}{
		{Config{Offset: 0, TimerHz: 100, PeripheralPin: 4}, errBadOffset},
		{Config{Offset: 36, TimerHz: 100, PeripheralPin: 4}, errBadOffset},
		{Config{Offset: 248, TimerHz: 100, PeripheralPin: 4}, errBadOffset},
		{Config{Offset: 32, TimerHz: 100, PeripheralPin: TimerPin}, errBadPin},
		{Config{Offset: 32, TimerHz: 100, PeripheralPin: picCascadePin}, errBadPin},
		{Config{Offset: 32, TimerHz: 100, PeripheralPin: 12}, errBadPin},
		{Config{Offset: 32, TimerHz: 100, PeripheralPin: 16}, errBadPin},
		{Config{Offset: 32, TimerHz: 0, PeripheralPin: 4}, errBadTimerFrequency},
	}

	for specIndex, spec := range specs {
		if _, err := InitLegacy(spec.cfg); err == nil || err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

type mockController struct {
	calls []string
}

func (c *mockController) SendEOI(line Line)     { c.calls = append(c.calls, "eoi") }
func (c *mockController) EnableLine(line Line)  { c.calls = append(c.calls, "enable") }
func (c *mockController) DisableLine(line Line) { c.calls = append(c.calls, "disable") }

func TestHandleIRQ(t *testing.T) {
	defer func() {
		handleInterruptFn = gate.HandleInterrupt
		SetController(nil)
	}()

	var (
		ctrl        mockController
		installedNo gate.InterruptNumber
		installed   func(*gate.Registers)
	)
	SetController(&ctrl)

	handleInterruptFn = func(intNumber gate.InterruptNumber, _ uint8, handler func(*gate.Registers)) {
		installedNo, installed = intNumber, handler
	}

	HandleIRQ(36, func(*gate.Registers) {
		ctrl.calls = append(ctrl.calls, "handler")
	})

	if installedNo != 36 {
		t.Fatalf("expected handler to be installed for vector 36; got %d", installedNo)
	}

	installed(&gate.Registers{})

	exp := []string{"enable", "handler", "eoi"}
	if len(ctrl.calls) != len(exp) {
		t.Fatalf("expected calls %v; got %v", exp, ctrl.calls)
	}
	for i := range exp {
		if ctrl.calls[i] != exp[i] {
			t.Fatalf("expected calls %v; got %v", exp, ctrl.calls)
		}
	}
}
