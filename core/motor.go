package core

// Stepper motor control for a microstepping driver with STEP/DIR/ENABLE and
// MS1..MS3 inputs. One motion request runs at a time; the step timer drives
// a four-tick state machine per step.

import (
	"sync/atomic"

	"stagefw/protocol"
)

// MotorState is the step state machine position
type MotorState uint8

const (
	MotorIdle MotorState = iota
	MotorSetup
	MotorStepRising
	MotorStepHighHold
	MotorStepFalling
	MotorStepLowHold
	MotorEStop
	MotorExit
)

var motorStateNames = [...]string{
	MotorIdle:         "IDLE",
	MotorSetup:        "SETUP",
	MotorStepRising:   "STEP_RISING",
	MotorStepHighHold: "STEP_HIGH_HOLD",
	MotorStepFalling:  "STEP_FALLING",
	MotorStepLowHold:  "STEP_LOW_HOLD",
	MotorEStop:        "ESTOP",
	MotorExit:         "EXIT",
}

func (s MotorState) String() string {
	if int(s) < len(motorStateNames) {
		return motorStateNames[s]
	}
	return "UNKNOWN"
}

// Status is the outcome of a controller request
type Status uint8

const (
	StatusSuccess Status = iota
	StatusBusy
	StatusInvalidSize
	StatusBlockedByLimit
	StatusBlockedByEStop
	StatusInvalidArgument
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBusy:
		return "busy"
	case StatusInvalidSize:
		return "invalid step size"
	case StatusBlockedByLimit:
		return "blocked by limit"
	case StatusBlockedByEStop:
		return "blocked by e-stop"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusFailure:
		return "failure"
	}
	return "unknown"
}

// Result maps s to the reply argument code
func (s Status) Result() uint32 {
	switch s {
	case StatusSuccess:
		return protocol.ResultSuccess
	case StatusBusy:
		return protocol.ResultBusy
	case StatusInvalidSize:
		return protocol.ResultInvalidStepSize
	case StatusBlockedByLimit:
		return protocol.ResultBlockedByLimit
	case StatusBlockedByEStop:
		return protocol.ResultBlockedByEStop
	case StatusInvalidArgument:
		return protocol.ResultInvalidArgument
	}
	return protocol.ResultFailure
}

// MotionResult is passed to the completion callback of a motion
type MotionResult uint8

const (
	MotionSucceeded MotionResult = iota
	MotionFailed
)

// MotionCallback runs on the step timer context when a motion ends.
// It may start a new motion.
type MotionCallback func(MotionResult)

// SwitchInputs are the live switch conditions the step state machine checks every tick
type SwitchInputs interface {
	// EStopActive is true while the e-stop pin is asserted or the fault is latched
	EStopActive() bool
	Limit1() bool
	Limit2() bool
}

type motorRequest struct {
	size         protocol.StepSize
	delta        int32 // signed position change per step
	count        uint32
	reversed     bool
	ignoreLimits bool
	onDone       MotionCallback
}

type stepOffConfig struct {
	size  protocol.StepSize
	count uint32
}

// motionEnd carries the work a finished motion leaves for outside the critical section
type motionEnd struct {
	settle     bool
	done       bool
	result     MotionResult
	onDone     MotionCallback
	limitAbort bool
	reversed   bool
}

// Motor runs one motion request at a time.
//
// Field ownership: running is claimed by Step and released by the step
// timer context (or Stop). state, req and stepOff are guarded by cs.
// position is written by the step timer and by SetPosition.
type Motor struct {
	gpio  GPIO
	timer PeriodicTimer
	delay Delay

	pins            Pins
	enableActiveLow bool
	settleUS        uint32
	clockHz         uint32

	inputs SwitchInputs

	cs Critical

	running uint32 // atomic bool

	state   MotorState
	req     motorRequest
	stepOff stepOffConfig

	position   int32  // atomic
	failed     uint32 // atomic bool, outcome of the last motion
	calibrated uint32 // atomic bool, position was set explicitly

	stepHz uint32 // poll loop only
}

// NewMotor creates an idle motor with the driver disabled and the step timer
// loaded for cfg.StepHz
func NewMotor(cfg Config, gpio GPIO, timer PeriodicTimer, delay Delay) *Motor {
	m := &Motor{
		gpio:            gpio,
		timer:           timer,
		delay:           delay,
		pins:            cfg.Pins,
		enableActiveLow: cfg.EnableActiveLow,
		settleUS:        cfg.SettleDelayUS,
		clockHz:         cfg.StepTimerClockHz,
	}
	if m.delay == nil {
		m.delay = func(uint32) {}
	}

	gpio.SetPin(m.pins.Step, false)
	m.setDriverEnabled(false)

	hz := cfg.StepHz
	if hz == 0 {
		hz = DefaultStepHz
	}
	m.SetSpeed(hz)
	return m
}

// AttachSwitches connects the limit and e-stop inputs
func (m *Motor) AttachSwitches(inputs SwitchInputs) {
	m.inputs = inputs
}

func (m *Motor) setDriverEnabled(enabled bool) {
	// Active-low drivers are energized by a low enable pin
	m.gpio.SetPin(m.pins.Enable, enabled != m.enableActiveLow)
}

func (m *Motor) programStepSize(size protocol.StepSize) {
	sel := uint8(size)
	m.gpio.SetPin(m.pins.MS1, sel&0x1 != 0)
	m.gpio.SetPin(m.pins.MS2, sel&0x2 != 0)
	m.gpio.SetPin(m.pins.MS3, sel&0x4 != 0)
}

func (m *Motor) estopActive() bool {
	return m.inputs != nil && m.inputs.EStopActive()
}

func (m *Motor) limitActive() bool {
	return m.inputs != nil && (m.inputs.Limit1() || m.inputs.Limit2())
}

// Step starts a motion of count steps at size.
// onDone may be nil. With ignoreLimits the motion runs through active limit
// switches but never through an e-stop.
func (m *Motor) Step(size protocol.StepSize, count uint32, reversed bool, onDone MotionCallback, ignoreLimits bool) Status {
	if !size.Valid() {
		return StatusInvalidSize
	}

	// Claim the request before touching anything else
	if !atomic.CompareAndSwapUint32(&m.running, 0, 1) {
		return StatusBusy
	}

	if m.estopActive() || m.State() == MotorEStop {
		atomic.StoreUint32(&m.running, 0)
		return StatusBlockedByEStop
	}
	if !ignoreLimits && m.limitActive() {
		atomic.StoreUint32(&m.running, 0)
		return StatusBlockedByLimit
	}

	delta := size.Distance()
	if reversed {
		delta = -delta
	}

	m.cs.Lock()
	// An e-stop interrupt may have landed since the check above
	if m.state == MotorEStop {
		m.cs.Unlock()
		atomic.StoreUint32(&m.running, 0)
		return StatusBlockedByEStop
	}
	m.req = motorRequest{
		size:         size,
		delta:        delta,
		count:        count,
		reversed:     reversed,
		ignoreLimits: ignoreLimits,
		onDone:       onDone,
	}
	m.state = MotorSetup
	m.cs.Unlock()

	atomic.StoreUint32(&m.failed, 0)
	RecordEvent(EvtMotionStart, int32(count), delta)
	m.timer.Start()
	return StatusSuccess
}

// Tick advances the state machine. Called from the step timer interrupt.
func (m *Motor) Tick() {
	estop := m.estopActive()
	limit := m.limitActive()

	m.cs.Lock()
	end := m.advance(estop, limit)
	m.cs.Unlock()

	m.complete(end)
}

// advance runs one state machine transition. Must be called with cs held.
func (m *Motor) advance(estop, limit bool) motionEnd {
	if m.state == MotorIdle {
		return motionEnd{}
	}

	if estop || m.state == MotorEStop {
		m.setDriverEnabled(false)
		if m.state == MotorEStop {
			return motionEnd{}
		}
		m.state = MotorEStop
		return m.finish(MotionFailed, false)
	}

	if limit && !m.req.ignoreLimits {
		m.state = MotorExit
	}

	switch m.state {
	case MotorSetup:
		m.programStepSize(m.req.size)
		m.gpio.SetPin(m.pins.Dir, m.req.reversed)
		m.gpio.SetPin(m.pins.Step, false)
		m.setDriverEnabled(true)
		m.state = MotorStepRising
		return motionEnd{settle: true}

	case MotorStepRising:
		if m.req.count == 0 {
			return m.finish(MotionSucceeded, false)
		}
		// The driver steps on this edge
		m.gpio.SetPin(m.pins.Step, true)
		atomic.AddInt32(&m.position, m.req.delta)
		m.state = MotorStepHighHold

	case MotorStepHighHold:
		m.state = MotorStepFalling

	case MotorStepFalling:
		m.gpio.SetPin(m.pins.Step, false)
		m.req.count--
		m.state = MotorStepLowHold

	case MotorStepLowHold:
		m.state = MotorStepRising

	case MotorExit:
		return m.finish(MotionFailed, true)
	}
	return motionEnd{}
}

// finish clears the request. Must be called with cs held.
func (m *Motor) finish(result MotionResult, limitAbort bool) motionEnd {
	end := motionEnd{
		done:       true,
		result:     result,
		onDone:     m.req.onDone,
		limitAbort: limitAbort,
		reversed:   m.req.reversed,
	}
	m.gpio.SetPin(m.pins.Step, false)
	m.req = motorRequest{}
	if m.state != MotorEStop {
		m.state = MotorIdle
	}
	return end
}

// complete performs the side effects of a transition outside the critical section
func (m *Motor) complete(end motionEnd) {
	if end.settle {
		m.delay(m.settleUS)
	}
	if !end.done {
		return
	}

	m.timer.Stop()
	if end.result == MotionFailed {
		atomic.StoreUint32(&m.failed, 1)
	} else {
		atomic.StoreUint32(&m.failed, 0)
	}
	atomic.StoreUint32(&m.running, 0)
	RecordEvent(EvtMotionDone, m.Position(), int32(end.result))

	if end.onDone != nil {
		end.onDone(end.result)
	}
	if end.limitAbort {
		m.stepOffLimit(end.reversed)
	}
}

// stepOffLimit backs away from the switch that aborted a motion in the reversed direction
func (m *Motor) stepOffLimit(abortedReversed bool) {
	m.cs.Lock()
	cfg := m.stepOff
	m.cs.Unlock()

	if cfg.count == 0 {
		return
	}
	if m.Step(cfg.size, cfg.count, !abortedReversed, nil, true) == StatusSuccess {
		RecordEvent(EvtStepOff, int32(cfg.count), cfg.size.Distance())
	}
}

func (m *Motor) abort(limitAbort bool) {
	m.cs.Lock()
	var end motionEnd
	if m.state != MotorIdle && m.state != MotorEStop && (!limitAbort || !m.req.ignoreLimits) {
		end = m.finish(MotionFailed, limitAbort)
	}
	m.cs.Unlock()

	m.complete(end)
}

// Stop aborts the current motion. The completion callback receives
// MotionFailed exactly once. Stopping an idle motor does nothing.
func (m *Motor) Stop() {
	m.abort(false)
}

// StopForLimit aborts a motion that does not ignore limits, as a tick that
// sees an active limit would, including the configured step-off.
func (m *Motor) StopForLimit() {
	m.abort(true)
}

// EmergencyStop disables the driver, aborts any motion and latches ESTOP
func (m *Motor) EmergencyStop() {
	m.cs.Lock()
	m.setDriverEnabled(false)
	var end motionEnd
	if m.state != MotorIdle && m.state != MotorEStop {
		m.state = MotorEStop
		end = m.finish(MotionFailed, false)
	}
	m.state = MotorEStop
	m.cs.Unlock()

	m.complete(end)
}

// ClearEStop returns a latched motor to IDLE. The driver is re-enabled by the next motion.
func (m *Motor) ClearEStop() {
	m.cs.Lock()
	if m.state == MotorEStop {
		m.state = MotorIdle
	}
	m.cs.Unlock()
}

// SetSpeed reprograms the step timer for hz steps per second
func (m *Motor) SetSpeed(hz uint32) Status {
	if m.IsRunning() {
		return StatusBusy
	}
	psc, arr, ok := StepTimerSettings(m.clockHz, hz)
	if !ok {
		return StatusInvalidArgument
	}
	m.timer.Configure(psc, arr)
	m.stepHz = hz
	return StatusSuccess
}

// Speed returns the configured step rate
func (m *Motor) Speed() uint32 {
	return m.stepHz
}

// ConfigureStepOff sets the motion issued after a limit abort. A zero count disables it.
func (m *Motor) ConfigureStepOff(size protocol.StepSize, count uint32) Status {
	if count > 0 && !size.Valid() {
		return StatusInvalidSize
	}
	m.cs.Lock()
	m.stepOff = stepOffConfig{size: size, count: count}
	m.cs.Unlock()
	return StatusSuccess
}

// Position returns the accumulated position in sixteenth steps
func (m *Motor) Position() int32 {
	return atomic.LoadInt32(&m.position)
}

// SetPosition rebases the position without moving
func (m *Motor) SetPosition(position int32) {
	atomic.StoreInt32(&m.position, position)
	atomic.StoreUint32(&m.calibrated, 1)
}

// IsRunning reports whether a motion request is in flight
func (m *Motor) IsRunning() bool {
	return atomic.LoadUint32(&m.running) != 0
}

// State returns the state machine position
func (m *Motor) State() MotorState {
	m.cs.Lock()
	defer m.cs.Unlock()
	return m.state
}

// Remaining returns the steps left in the current motion
func (m *Motor) Remaining() uint32 {
	m.cs.Lock()
	defer m.cs.Unlock()
	return m.req.count
}

// LastFailed reports whether the last motion ended in failure
func (m *Motor) LastFailed() bool {
	return atomic.LoadUint32(&m.failed) != 0
}

// Calibrated reports whether the position has been set since boot
func (m *Motor) Calibrated() bool {
	return atomic.LoadUint32(&m.calibrated) != 0
}
