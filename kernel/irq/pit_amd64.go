package irq

import "kcore/kernel"

const (
	// pitInputFrequency is the frequency (in Hz) of the oscillator that
	// drives the PIT.
	pitInputFrequency = 1193182

	pitCommandPort  = 0x43
	pitChannel0Port = 0x40

	// pitSquareWaveCmd selects channel 0, lobyte/hibyte access and mode 3
	// (square wave generator).
	pitSquareWaveCmd = 0x36

	// TimerPin is the PIC pin the PIT channel 0 output is wired to.
	TimerPin = 0
)

var errBadTimerFrequency = &kernel.Error{Module: "irq", Message: "timer frequency cannot be represented by a 16-bit PIT divisor"}

// PIT programs channel 0 of the programmable interval timer.
type PIT struct {
	hz uint32
}

// SetFrequency programs the timer to raise interrupts at roughly hz times per
// second. The reload value is pitInputFrequency/hz truncated to an integer;
// frequencies whose divisor does not fit in 16 bits are rejected.
func (t *PIT) SetFrequency(hz uint32) *kernel.Error {
	if hz == 0 {
		return errBadTimerFrequency
	}

	divisor := uint32(pitInputFrequency) / hz
	if divisor == 0 || divisor > 0xffff {
		return errBadTimerFrequency
	}

	portWriteByteFn(pitCommandPort, pitSquareWaveCmd)
	portWriteByteFn(pitChannel0Port, uint8(divisor))
	portWriteByteFn(pitChannel0Port, uint8(divisor>>8))

	t.hz = hz
	return nil
}

// Frequency returns the frequency set by the last successful SetFrequency
// call.
func (t *PIT) Frequency() uint32 {
	return t.hz
}
