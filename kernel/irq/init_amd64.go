package irq

import "kcore/kernel"

var (
	// legacyPIC and systemTimer are the controller and timer configured by
	// InitLegacy.
	legacyPIC   PIC
	systemTimer PIT

	errBadOffset = &kernel.Error{Module: "irq", Message: "PIC offset must be a multiple of 8 in [32, 240]"}
	errBadPin    = &kernel.Error{Module: "irq", Message: "peripheral pin must be a primary PIC pin other than the timer and cascade pins"}
)

// Config describes the legacy interrupt setup performed at boot.
type Config struct {
	// Offset is the line that PIC pin 0 is remapped to.
	Offset Line

	// TimerHz is the system timer tick rate.
	TimerHz uint32

	// PeripheralPin is the primary PIC pin of the legacy device line that
	// is unmasked at boot (e.g. 4 for the first serial port). Secondary
	// pins are rejected because reaching them needs the cascade pin
	// unmasked as well.
	PeripheralPin uint8
}

// InitLegacy remaps the PIC to cfg.Offset, masks all lines, programs the
// system timer and unmasks exactly the timer line and the peripheral line.
// The PIC becomes the active controller.
func InitLegacy(cfg Config) (*PIC, *kernel.Error) {
	if cfg.Offset < 32 || cfg.Offset%picPinsPerChip != 0 || uint16(cfg.Offset)+PICLineCount > 256 {
		return nil, errBadOffset
	}

	if cfg.PeripheralPin >= picPinsPerChip || cfg.PeripheralPin == TimerPin || cfg.PeripheralPin == picCascadePin {
		return nil, errBadPin
	}

	legacyPIC.Remap(cfg.Offset)
	legacyPIC.MaskAll()

	if err := systemTimer.SetFrequency(cfg.TimerHz); err != nil {
		return nil, err
	}

	legacyPIC.EnableLine(legacyPIC.LineForPin(TimerPin))
	legacyPIC.EnableLine(legacyPIC.LineForPin(cfg.PeripheralPin))
	SetController(&legacyPIC)

	log.Printf("PIC remapped to %d, timer at %d Hz, peripheral line %d", uint8(cfg.Offset), cfg.TimerHz, uint8(legacyPIC.LineForPin(cfg.PeripheralPin)))
	return &legacyPIC, nil
}

// TimerLine returns the line raised by the system timer after InitLegacy.
func TimerLine() Line {
	return legacyPIC.LineForPin(TimerPin)
}
