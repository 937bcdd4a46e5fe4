package vmm

import (
	"bytes"
	"kcore/kernel/cpu"
	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
	"strings"
	"testing"
)

func TestInstallFaultHandlers(t *testing.T) {
	defer func() {
		handleInterruptFn = gate.HandleInterrupt
	}()

	installed := map[gate.InterruptNumber]bool{}
	handleInterruptFn = func(intNumber gate.InterruptNumber, istOffset uint8, handler func(*gate.Registers)) {
		if handler == nil {
			t.Errorf("expected a non-nil handler for interrupt %d", intNumber)
		}
		installed[intNumber] = true
	}

	InstallFaultHandlers()

	for _, intNumber := range []gate.InterruptNumber{gate.PageFaultException, gate.GPFException} {
		if !installed[intNumber] {
			t.Errorf("expected a handler for interrupt %d to be installed", intNumber)
		}
	}
}

func TestPageFaultHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		activeSpace = nil
		kfmt.SetOutputSink(nil)
	}()

	as := &AddressSpace{}
	_ = as.regions.Insert(Region{Base: 0x400000, Length: 0x1000, Flags: RegionReadable | RegionUser})
	activeSpace = as

	specs := []struct {
		errCode   uint64
		faultAddr uint64
		expReason string
	}{
		{0, 0xbadf00d000, "read from non-present page\nRegion: none"},
		{faultWrite, 0xbadf00d000, "write to non-present page"},
		{faultPresent, 0x400010, "page protection violation (read)"},
		{faultPresent | faultWrite | faultUser, 0x400010, "page protection violation (write) in user-mode\nRegion: [0x0000000000400000, 0x0000000000401000) flags: 9"},
		{faultReservedBit | faultPresent, 0x400010, "page table has reserved bit set"},
		{faultFetch | faultPresent, 0x400010, "instruction fetch"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)
		readCR2Fn = func() uint64 { return spec.faultAddr }

		func() {
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("[spec %d] expected a panic with errUnrecoverableFault; got %v", specIndex, err)
				}
			}()

			pageFaultHandler(&gate.Registers{Info: spec.errCode})
		}()

		if got := buf.String(); !strings.Contains(got, "Reason: "+spec.expReason) {
			t.Errorf("[spec %d] expected output to contain reason %q; got:\n%s", specIndex, spec.expReason, got)
		}
	}
}

func TestGPFHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	readCR2Fn = func() uint64 { return 0xbadf00d }

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Fatalf("expected a panic with errUnrecoverableFault; got %v", err)
		}

		if got := buf.String(); !strings.Contains(got, "General protection fault while accessing address: 0xbadf00d") {
			t.Fatalf("unexpected output:\n%s", got)
		}
	}()

	generalProtectionFaultHandler(&gate.Registers{})
}
