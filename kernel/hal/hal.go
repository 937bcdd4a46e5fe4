// Package hal probes for the devices the kernel depends on and connects the
// console to the kfmt output sink.
package hal

import (
	"bytes"
	"io"
	"kcore/device"
	"kcore/kernel/kfmt"
	"sort"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole io.Writer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	driverListFn    = device.DriverList
	setOutputSinkFn = kfmt.SetOutputSink
)

// sinkWriter forwards writes to whatever kfmt output sink is active at the
// time of the write so that driver init output emitted before a console is
// found lands in the early ring buffer.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	kfmt.Fprintf(kfmt.GetOutputSink(), "%s", p)
	return len(p), nil
}

// ActiveConsole returns the console that receives kernel output or nil if
// no console driver was initialized.
func ActiveConsole() io.Writer {
	return devices.activeConsole
}

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := driverListFn()
	sort.Stable(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: sinkWriter{}}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		onDriverInit(drv)
		kfmt.Fprintf(&w, "initialized\n")
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first driver that can accept output
// becomes the active console.
func onDriverInit(drv device.Driver) {
	cons, ok := drv.(io.Writer)
	if !ok || devices.activeConsole != nil {
		return
	}

	devices.activeConsole = cons
	setOutputSinkFn(cons)
}
