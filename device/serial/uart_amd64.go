// Package serial provides a driver for 16550-compatible UARTs that serves as
// the kernel console.
package serial

import (
	"io"
	"kcore/device"
	"kcore/kernel"
	"kcore/kernel/cpu"
	"kcore/kernel/kfmt"
)

const (
	// COM1 is the I/O base port of the first serial port.
	COM1 = uint16(0x3f8)

	// DefaultBaudRate is the line speed used by the probed console.
	DefaultBaudRate = uint32(38400)

	// uartClock is the baud rate obtained with a divisor of 1.
	uartClock = uint32(115200)

	regData        = 0
	regIntEnable   = 1
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regScratch     = 7

	lineControlDLAB = 0x80
	lineControl8N1  = 0x03
	fifoEnableClear = 0xc7
	modemDTRRTSOut2 = 0x0b

	lineStatusTHRE = 0x20

	scratchProbeValue = 0xae
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errBadBaudRate = &kernel.Error{Module: "serial", Message: "baud rate must evenly divide 115200"}
)

// UART drives a 16550-compatible serial port in polled mode. It implements
// io.Writer so it can be used as the kfmt output sink.
type UART struct {
	port     uint16
	baudRate uint32
}

// NewUART returns a driver for the UART at the supplied I/O base port.
func NewUART(port uint16, baudRate uint32) *UART {
	return &UART{port: port, baudRate: baudRate}
}

// DriverName returns the name of this driver.
func (u *UART) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (u *UART) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the line speed and an 8N1 frame format and enables the
// FIFOs. Interrupts stay disabled; output is polled.
func (u *UART) DriverInit(w io.Writer) *kernel.Error {
	if u.baudRate == 0 || uartClock%u.baudRate != 0 {
		return errBadBaudRate
	}

	divisor := uint16(uartClock / u.baudRate)

	portWriteByteFn(u.port+regIntEnable, 0)
	portWriteByteFn(u.port+regLineControl, lineControlDLAB)
	portWriteByteFn(u.port+regData, uint8(divisor))
	portWriteByteFn(u.port+regIntEnable, uint8(divisor>>8))
	portWriteByteFn(u.port+regLineControl, lineControl8N1)
	portWriteByteFn(u.port+regFIFOControl, fifoEnableClear)
	portWriteByteFn(u.port+regModemCtrl, modemDTRRTSOut2)

	kfmt.Fprintf(w, "port 0x%x, %d baud, 8N1\n", u.port, u.baudRate)
	return nil
}

// Write transmits p, translating each '\n' into "\r\n".
func (u *UART) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			u.writeByte('\r')
		}
		u.writeByte(b)
	}

	return len(p), nil
}

func (u *UART) writeByte(b byte) {
	for portReadByteFn(u.port+regLineStatus)&lineStatusTHRE == 0 {
	}
	portWriteByteFn(u.port+regData, b)
}

// probeForCOM1 detects a UART at COM1 by checking that its scratch register
// retains a written value.
func probeForCOM1() device.Driver {
	portWriteByteFn(COM1+regScratch, scratchProbeValue)
	if portReadByteFn(COM1+regScratch) != scratchProbeValue {
		return nil
	}

	return NewUART(COM1, DefaultBaudRate)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForCOM1,
	})
}
