package core

import (
	"math"

	"tinygo.org/x/drivers"

	"stagefw/protocol"
)

// ErrorWindow is the number of recent errors the integral term sums
const ErrorWindow = 20

// LED drives the illumination PWM either directly or in a closed loop on the
// photosensor voltage. The loop runs from the LED timer interrupt.
type LED struct {
	pwm    PWM
	sensor Photosensor
	timer  PeriodicTimer

	cs Critical

	// Guarded by cs
	on         bool
	duty       float32
	closedLoop bool
	target     float32
	kp, ki, kd float32
	window     [ErrorWindow]float32
	idx        int
	prevError  float32
}

// NewLED creates a dark LED with the gains from cfg. The LED timer is loaded
// for cfg.LEDTickHz but only runs in closed-loop mode.
func NewLED(cfg Config, pwm PWM, sensor Photosensor, timer PeriodicTimer) *LED {
	l := &LED{
		pwm:    pwm,
		sensor: sensor,
		timer:  timer,
		kp:     cfg.KP,
		ki:     cfg.KI,
		kd:     cfg.KD,
	}
	if psc, arr, ok := TimerSettings(cfg.StepTimerClockHz, cfg.LEDTickHz); ok {
		timer.Configure(psc, arr)
	}
	return l
}

func clampDuty(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func badFloat(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// apply drives the output stage. Must be called with cs held.
func (l *LED) apply(duty float32) {
	l.duty = duty
	if duty == 0 {
		if l.on {
			l.pwm.Stop()
			l.on = false
		}
		return
	}
	if !l.on {
		l.pwm.Start()
		l.on = true
	}
	l.pwm.SetDuty(duty)
}

// Set leaves closed-loop mode and sets the duty cycle, clamped to [0, 1].
// Zero turns the output off.
func (l *LED) Set(duty float32) Status {
	if badFloat(duty) {
		return StatusInvalidArgument
	}
	l.cs.Lock()
	wasClosed := l.closedLoop
	l.closedLoop = false
	l.apply(clampDuty(duty))
	l.cs.Unlock()

	if wasClosed {
		l.timer.Stop()
	}
	return StatusSuccess
}

// HoldVoltage regulates the output so the photosensor reads target volts.
// The error history starts over.
func (l *LED) HoldVoltage(target float32) Status {
	if badFloat(target) || target < 0 {
		return StatusInvalidArgument
	}
	l.cs.Lock()
	wasClosed := l.closedLoop
	l.target = target
	l.window = [ErrorWindow]float32{}
	l.idx = 0
	l.prevError = 0
	l.closedLoop = true
	l.cs.Unlock()

	if !wasClosed {
		l.timer.Start()
	}
	return StatusSuccess
}

// Tick runs one closed-loop correction. Called from the LED timer interrupt.
func (l *LED) Tick() {
	l.cs.Lock()
	closed := l.closedLoop
	l.cs.Unlock()
	if !closed {
		return
	}

	if err := l.sensor.Update(drivers.Voltage); err != nil {
		return
	}
	sample := l.sensor.Volts()

	l.cs.Lock()
	defer l.cs.Unlock()
	if !l.closedLoop {
		return
	}

	e := l.target - sample
	l.window[l.idx] = e
	l.idx = (l.idx + 1) % ErrorWindow

	var integral float32
	for _, v := range l.window {
		integral += v
	}
	derivative := e - l.prevError
	l.prevError = e

	l.apply(clampDuty(l.kp*e + l.ki*integral + l.kd*derivative))
}

// SetGain changes one loop gain. It takes effect on the next tick.
func (l *LED) SetGain(term protocol.PIDTerm, v float32) Status {
	if badFloat(v) {
		return StatusInvalidArgument
	}
	l.cs.Lock()
	defer l.cs.Unlock()
	switch term {
	case protocol.PIDProportional:
		l.kp = v
	case protocol.PIDIntegral:
		l.ki = v
	case protocol.PIDDerivative:
		l.kd = v
	default:
		return StatusInvalidArgument
	}
	return StatusSuccess
}

// Gains returns the loop gains
func (l *LED) Gains() (kp, ki, kd float32) {
	l.cs.Lock()
	defer l.cs.Unlock()
	return l.kp, l.ki, l.kd
}

// IsOn reports whether the output stage is energized
func (l *LED) IsOn() bool {
	l.cs.Lock()
	defer l.cs.Unlock()
	return l.on
}

// Duty returns the duty cycle last applied
func (l *LED) Duty() float32 {
	l.cs.Lock()
	defer l.cs.Unlock()
	return l.duty
}

// ClosedLoop reports whether the voltage loop is active
func (l *LED) ClosedLoop() bool {
	l.cs.Lock()
	defer l.cs.Unlock()
	return l.closedLoop
}

// Target returns the closed-loop setpoint
func (l *LED) Target() float32 {
	l.cs.Lock()
	defer l.cs.Unlock()
	return l.target
}
