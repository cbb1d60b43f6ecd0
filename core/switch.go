// Limit switch and emergency stop handling.
// Limit switches are debounced with a one-shot timer before they stop the
// motor; the e-stop input acts on the first edge and latches until cleared.
package core

import (
	"sync/atomic"
)

// Switches monitors the two limit inputs and the e-stop input
type Switches struct {
	gpio      GPIO
	pins      Pins
	activeLow bool
	timer     OneShot
	motor     *Motor

	debounceMS uint32 // atomic
	armed      uint32 // atomic bool, debounce in progress
	armedPin   uint32 // atomic, pin the debounce re-reads
	latched    uint32 // atomic bool, e-stop fault held
}

// NewSwitches creates the monitor and connects it to motor
func NewSwitches(cfg Config, gpio GPIO, timer OneShot, motor *Motor) *Switches {
	s := &Switches{
		gpio:       gpio,
		pins:       cfg.Pins,
		activeLow:  cfg.SwitchesActiveLow,
		timer:      timer,
		motor:      motor,
		debounceMS: cfg.DebounceMS,
	}
	if motor != nil {
		motor.AttachSwitches(s)
	}
	return s
}

func (s *Switches) active(pin Pin) bool {
	return s.gpio.ReadPin(pin) != s.activeLow
}

// Limit1 reports the live state of the first limit switch
func (s *Switches) Limit1() bool { return s.active(s.pins.Limit1) }

// Limit2 reports the live state of the second limit switch
func (s *Switches) Limit2() bool { return s.active(s.pins.Limit2) }

// EStop reports the live state of the e-stop input
func (s *Switches) EStop() bool { return s.active(s.pins.EStop) }

// EStopActive is true while the e-stop input is asserted or the fault is latched
func (s *Switches) EStopActive() bool {
	return s.Latched() || s.EStop()
}

// Latched reports whether an e-stop fault is held
func (s *Switches) Latched() bool {
	return atomic.LoadUint32(&s.latched) != 0
}

// SetDebounce sets the limit switch debounce window
func (s *Switches) SetDebounce(ms uint32) {
	atomic.StoreUint32(&s.debounceMS, ms)
}

// Debounce returns the limit switch debounce window
func (s *Switches) Debounce() uint32 {
	return atomic.LoadUint32(&s.debounceMS)
}

// OnTransition handles an edge on one of the switch inputs.
// Called from the pin change interrupt.
func (s *Switches) OnTransition(pin Pin) {
	switch pin {
	case s.pins.EStop:
		if s.EStop() {
			s.EmergencyStop()
			return
		}
		// A clear issued while the button was held takes effect on release
		if !s.Latched() && s.motor != nil {
			s.motor.ClearEStop()
		}

	case s.pins.Limit1, s.pins.Limit2:
		if !s.active(pin) {
			return
		}
		// One debounce at a time; edges while armed are bounce
		if !atomic.CompareAndSwapUint32(&s.armed, 0, 1) {
			return
		}
		atomic.StoreUint32(&s.armedPin, uint32(pin))
		ms := s.Debounce()
		if ms == 0 {
			s.OnDebounceExpired()
			return
		}
		s.timer.Arm(ms)
	}
}

// OnDebounceExpired confirms or discards a limit edge.
// Called from the debounce timer interrupt.
func (s *Switches) OnDebounceExpired() {
	if atomic.LoadUint32(&s.armed) == 0 {
		return
	}
	pin := Pin(atomic.LoadUint32(&s.armedPin))
	confirmed := s.active(pin)
	atomic.StoreUint32(&s.armed, 0)

	if confirmed {
		RecordEvent(EvtDebounce, int32(pin), 1)
		if s.motor != nil {
			RecordEvent(EvtLimitTrip, int32(pin), s.motor.Position())
			s.motor.StopForLimit()
		}
		return
	}
	RecordEvent(EvtDebounce, int32(pin), 0)
}

// EmergencyStop latches the e-stop fault and halts the motor
func (s *Switches) EmergencyStop() {
	s.timer.Cancel()
	atomic.StoreUint32(&s.armed, 0)
	if atomic.SwapUint32(&s.latched, 1) == 0 {
		RecordEvent(EvtEStop, 1, 0)
	}
	if s.motor != nil {
		s.motor.EmergencyStop()
	}
}

// EmergencyClear releases the latched fault. While the e-stop input is still
// asserted the call reports blocked and the motor stays in ESTOP until the
// input is released.
func (s *Switches) EmergencyClear() Status {
	if atomic.SwapUint32(&s.latched, 0) != 0 {
		RecordEvent(EvtEStop, 0, 0)
	}
	if s.EStop() {
		return StatusBlockedByEStop
	}
	if s.motor != nil {
		s.motor.ClearEStop()
	}
	return StatusSuccess
}
