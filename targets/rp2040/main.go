//go:build rp2040 || rp2350

package main

import (
	"machine"

	"stagefw/core"
)

// Pico carrier wiring
var pins = core.Pins{
	Step:      2,
	Dir:       3,
	Enable:    4,
	MS1:       5,
	MS2:       6,
	MS3:       7,
	Limit1:    10,
	Limit2:    11,
	EStop:     12,
	Heartbeat: 25, // on-board LED
}

const (
	ledPin        = 15
	ledCycleTicks = 1000 // 1 kHz
	sensorChannel = 0    // ADC0 on GPIO26
	baudRate      = 115200
)

var (
	fw *core.Firmware

	// Main loop panics, reported in the event dump
	loopPanics uint32
)

func main() {
	// CRITICAL: Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitDebugUART()
	core.SetDebugWriter(DebugPrintln)
	core.SetDebugEnabled(true)

	uart := machine.UART0
	if err := uart.Configure(machine.UARTConfig{
		BaudRate: baudRate,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	}); err != nil {
		DebugPrintln("uart: " + err.Error())
		return
	}

	cfg := core.DefaultConfig()
	cfg.Pins = pins
	// Soft timers count the 1 MHz hardware timer
	cfg.StepTimerClockHz = 1000000

	gpio := newGPIO(cfg)
	sensor, err := core.NewADCDriverSensor(NewRPAdcDriver(), sensorChannel, 3300)
	if err != nil {
		DebugPrintln("adc: " + err.Error())
		return
	}

	fw = core.New(cfg, core.Board{
		GPIO:      gpio,
		StepTimer: newPeriodicTimer(func() { fw.OnMotorTick() }),
		LEDTimer:  newPeriodicTimer(func() { fw.OnLEDTick() }),
		Debounce:  newOneShot(func() { fw.OnDebounceTimer() }),
		LED:       core.NewPWMOutput(NewRP2040PWMDriver(), ledPin, ledCycleTicks),
		Sensor:    sensor,
		UART:      uart,
		Delay:     busyWait,
	})
	gpio.enableSwitchInterrupts(fw.OnPinChange)

	DebugPrintln("stage controller ready")

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					loopPanics++
					core.RecordEvent(core.EvtPanic, -1, int32(loopPanics))
					core.DumpEvents()
					fw.DumpState()
				}
			}()

			UpdateSystemTime()

			fw.PumpUART()
			for fw.Poll() {
			}
		}()
	}
}
