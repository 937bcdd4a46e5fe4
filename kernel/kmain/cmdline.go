package kmain

import (
	"kcore/kernel/irq"
	"strconv"
	"strings"
)

const (
	defaultIRQOffset     = irq.Line(32)
	defaultTimerHz       = uint32(100)
	defaultPeripheralPin = uint8(1)
	defaultInitPath      = "/sbin/init"
)

// bootConfig holds the settings that can be overridden from the kernel
// command line.
type bootConfig struct {
	irq      irq.Config
	initPath string
}

func defaultBootConfig() bootConfig {
	return bootConfig{
		irq: irq.Config{
			Offset:        defaultIRQOffset,
			TimerHz:       defaultTimerHz,
			PeripheralPin: defaultPeripheralPin,
		},
		initPath: defaultInitPath,
	}
}

// parseCmdLine applies the key=value pairs of cmdLine on top of the default
// configuration. Recognized keys are:
//
//	timerHz=N        system timer tick rate
//	irqOffset=N      line the legacy PIC is remapped to
//	peripheralIRQ=N  legacy PIC pin unmasked at boot
//	init=PATH        executable started as the first user task
//
// Unknown keys are ignored and malformed values keep their default.
func parseCmdLine(cmdLine string) bootConfig {
	cfg := defaultBootConfig()

	for _, field := range strings.Fields(cmdLine) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}

		switch key {
		case "timerHz":
			if hz, err := strconv.ParseUint(value, 10, 32); err == nil && hz > 0 {
				cfg.irq.TimerHz = uint32(hz)
				continue
			}
		case "irqOffset":
			if offset, err := strconv.ParseUint(value, 10, 8); err == nil {
				cfg.irq.Offset = irq.Line(offset)
				continue
			}
		case "peripheralIRQ":
			if pin, err := strconv.ParseUint(value, 10, 8); err == nil {
				cfg.irq.PeripheralPin = uint8(pin)
				continue
			}
		case "init":
			if strings.HasPrefix(value, "/") {
				cfg.initPath = value
				continue
			}
		default:
			continue
		}

		log.Warnf("ignoring invalid value %s for %s", value, key)
	}

	return cfg
}
