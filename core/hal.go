package core

import "tinygo.org/x/drivers"

// Pin identifies a board GPIO line
type Pin uint8

// GPIO is the digital pin interface the controllers drive.
// Targets implement it over their machine package; the simulator over plain memory.
type GPIO interface {
	// SetPin drives an output pin high (true) or low (false)
	SetPin(pin Pin, high bool)

	// ReadPin samples an input pin
	ReadPin(pin Pin) bool
}

// PWM is the LED output channel
type PWM interface {
	Start()
	Stop()

	// SetDuty sets the fraction of each period the output is on, 0..1
	SetDuty(duty float32)
}

// PeriodicTimer is a hardware timer whose update interrupt calls back into the core
type PeriodicTimer interface {
	Start()
	Stop()

	// Configure loads the prescaler and auto-reload registers. Values are
	// register values, so the timer divides by prescaler+1 and period+1.
	Configure(prescaler, period uint32)
}

// OneShot is a timer that fires once, after Arm, unless cancelled
type OneShot interface {
	Arm(ms uint32)
	Cancel()
}

// Photosensor measures the illumination feedback.
// Update(drivers.Voltage) samples the sensor; Volts returns the last sample.
type Photosensor interface {
	drivers.Sensor
	Volts() float32
}

// Delay busy-waits. Only the motor setup settle uses it.
type Delay func(us uint32)

// Board bundles the peripherals the firmware needs
type Board struct {
	GPIO      GPIO
	StepTimer PeriodicTimer
	LEDTimer  PeriodicTimer
	Debounce  OneShot
	LED       PWM
	Sensor    Photosensor

	// UART carries frames in both directions. The receive interrupt or
	// PumpUART feeds inbound bytes; replies are written to it.
	UART drivers.UART

	Delay Delay
}
