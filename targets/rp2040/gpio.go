//go:build rp2040 || rp2350

package main

import (
	"machine"

	"stagefw/core"
)

// rpGPIO implements core.GPIO. Pins map directly to GPIO numbers.
type rpGPIO struct {
	cfg core.Config
}

func newGPIO(cfg core.Config) *rpGPIO {
	p := cfg.Pins
	for _, out := range []core.Pin{p.Step, p.Dir, p.Enable, p.MS1, p.MS2, p.MS3, p.Heartbeat} {
		machine.Pin(out).Configure(machine.PinConfig{Mode: machine.PinOutput})
	}

	// Normally-closed switches pull up to their inactive level
	mode := machine.PinInputPulldown
	if cfg.SwitchesActiveLow {
		mode = machine.PinInputPullup
	}
	for _, in := range []core.Pin{p.Limit1, p.Limit2, p.EStop} {
		machine.Pin(in).Configure(machine.PinConfig{Mode: mode})
	}
	return &rpGPIO{cfg: cfg}
}

func (g *rpGPIO) SetPin(pin core.Pin, high bool) {
	machine.Pin(pin).Set(high)
}

func (g *rpGPIO) ReadPin(pin core.Pin) bool {
	return machine.Pin(pin).Get()
}

// enableSwitchInterrupts reports every edge on the switch inputs
func (g *rpGPIO) enableSwitchInterrupts(onChange func(core.Pin)) {
	p := g.cfg.Pins
	for _, in := range []core.Pin{p.Limit1, p.Limit2, p.EStop} {
		err := machine.Pin(in).SetInterrupt(machine.PinToggle, func(mp machine.Pin) {
			onChange(core.Pin(mp))
		})
		if err != nil {
			DebugPrintln("gpio: no interrupt for switch pin: " + err.Error())
		}
	}
}
