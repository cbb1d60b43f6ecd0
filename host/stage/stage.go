// Package stage is the host-side client of the stage controller.
//
// Every method sends one request frame and waits for its reply. The reply
// flags refresh the cached Status, so Status is as fresh as the last exchange.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"stagefw/protocol"
)

// HomeSteps is the move length used to drive into a limit switch
const HomeSteps = 100000

// MaxLEDVolts is the photosensor ADC reference
const MaxLEDVolts = 3.3

var (
	ErrBusy            = errors.New("motor busy")
	ErrInvalidStepSize = errors.New("invalid step size")
	ErrBlockedByLimit  = errors.New("blocked by limit switch")
	ErrBlockedByEStop  = errors.New("blocked by emergency stop")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFailed          = errors.New("request failed")

	ErrOutOfRange    = errors.New("value out of range")
	ErrMotionTimeout = errors.New("motion timed out")
	ErrLimitHit      = errors.New("motion hit a limit switch")
)

// resultError maps a reply result code to an error
func resultError(code uint32) error {
	switch code {
	case protocol.ResultSuccess:
		return nil
	case protocol.ResultBusy:
		return ErrBusy
	case protocol.ResultInvalidStepSize:
		return ErrInvalidStepSize
	case protocol.ResultBlockedByLimit:
		return ErrBlockedByLimit
	case protocol.ResultBlockedByEStop:
		return ErrBlockedByEStop
	case protocol.ResultInvalidArgument:
		return ErrInvalidArgument
	}
	return ErrFailed
}

// Status is the controller state carried in reply flags
type Status struct {
	Limit1     bool
	Limit2     bool
	EStop      bool
	Running    bool
	LED        bool
	Failure    bool
	Calibrated bool
}

// StatusFromFlags decodes reply flags
func StatusFromFlags(flags uint8) Status {
	return Status{
		Limit1:     flags&protocol.StatusLimit1 != 0,
		Limit2:     flags&protocol.StatusLimit2 != 0,
		EStop:      flags&protocol.StatusEStop != 0,
		Running:    flags&protocol.StatusRunning != 0,
		LED:        flags&protocol.StatusLEDOn != 0,
		Failure:    flags&protocol.StatusFailure != 0,
		Calibrated: flags&protocol.StatusCalibrated != 0,
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func (s Status) String() string {
	return fmt.Sprintf("LIMIT 1: %s\nLIMIT 2: %s\nE-STOP: %s\nRUNNING: %s\nLED: %s\nFAILURE: %s\nCALIBRATED: %s",
		onOff(s.Limit1), onOff(s.Limit2), onOff(s.EStop), onOff(s.Running),
		onOff(s.LED), onOff(s.Failure), onOff(s.Calibrated))
}

// Stage talks to one controller
type Stage struct {
	tr *protocol.HostTransport

	mu     sync.Mutex
	status Status
}

// New starts a client on port. Closing the stage closes the port.
func New(port io.ReadWriteCloser) *Stage {
	return &Stage{tr: protocol.NewHostTransport(port)}
}

// SetReplyTimeout bounds each exchange when the context has no deadline
func (s *Stage) SetReplyTimeout(d time.Duration) {
	s.tr.Timeout = d
}

// Close stops the client and closes the port
func (s *Stage) Close() error {
	return s.tr.Close()
}

// Status returns the flags of the last reply
func (s *Stage) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send performs one exchange and refreshes Status. The reply argument is not
// interpreted; see Do for requests that reply with a result code.
func (s *Stage) Send(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	reply, err := s.tr.Transact(ctx, req)
	if err != nil {
		return reply, fmt.Errorf("%v: %w", req.Opcode, err)
	}

	st := StatusFromFlags(reply.Flags)
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	glog.V(2).Infof("%v arg=%#x flags=%#x -> arg=%#x flags=%#x", req.Opcode, req.Arg, req.Flags, reply.Arg, reply.Flags)
	return reply, nil
}

// Do sends c and converts a failure result code to an error
func (s *Stage) Do(ctx context.Context, c protocol.Command) error {
	reply, err := s.Send(ctx, protocol.EncodeCommand(c))
	if err != nil {
		return err
	}
	if err := resultError(reply.Arg); err != nil {
		glog.Warningf("%v rejected: %v", c.Opcode(), err)
		return fmt.Errorf("%v: %w", c.Opcode(), err)
	}
	return nil
}

// Idle refreshes Status
func (s *Stage) Idle(ctx context.Context) (Status, error) {
	err := s.Do(ctx, protocol.Idle{})
	return s.Status(), err
}

// Wait polls until the motor stops. A positive timeout stops the motion and
// fails with ErrMotionTimeout when it runs out. With faultOnLimit a motion
// that ended in failure returns ErrLimitHit.
func (s *Stage) Wait(ctx context.Context, timeout, granularity time.Duration, faultOnLimit bool) error {
	if granularity <= 0 {
		granularity = 100 * time.Millisecond
	}
	start := time.Now()

	st, err := s.Idle(ctx)
	for err == nil && st.Running {
		if timeout > 0 && time.Since(start) > timeout {
			if err := s.Stop(ctx); err != nil {
				glog.Errorf("stopping timed out motion: %v", err)
			}
			return fmt.Errorf("%w after %v", ErrMotionTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(granularity):
		}
		st, err = s.Idle(ctx)
	}
	if err != nil {
		return err
	}
	if faultOnLimit && st.Failure {
		return ErrLimitHit
	}
	return nil
}

// Relative moves n steps of size; negative n moves in reverse
func (s *Stage) Relative(ctx context.Context, n int32, size protocol.StepSize, ignoreLimits bool) error {
	count := uint32(n)
	if n < 0 {
		count = uint32(-int64(n))
	}
	return s.Do(ctx, protocol.Relative{Size: size, Count: count, Reversed: n < 0, IgnoreLimits: ignoreLimits})
}

// Absolute moves to position, in sixteenth steps, with steps of size.
// The move stops at the last whole step before position.
func (s *Stage) Absolute(ctx context.Context, position int32, size protocol.StepSize, ignoreLimits bool) error {
	return s.Do(ctx, protocol.Absolute{Target: position, Size: size, IgnoreLimits: ignoreLimits})
}

// Home drives toward one end of travel until a limit switch stops the motion
func (s *Stage) Home(ctx context.Context, forward bool, size protocol.StepSize) error {
	n := int32(HomeSteps)
	if !forward {
		n = -n
	}
	return s.Relative(ctx, n, size, false)
}

// Speed sets the step rate in Hz
func (s *Stage) Speed(ctx context.Context, hz uint32) error {
	return s.Do(ctx, protocol.Speed{Hz: hz})
}

// Stop aborts the running motion
func (s *Stage) Stop(ctx context.Context) error {
	return s.Do(ctx, protocol.Stop{})
}

// SetPosition rebases the position counter without moving
func (s *Stage) SetPosition(ctx context.Context, position int32) error {
	return s.Do(ctx, protocol.SetPosition{Position: position})
}

// Position returns the position counter in sixteenth steps
func (s *Stage) Position(ctx context.Context) (int32, error) {
	reply, err := s.Send(ctx, protocol.EncodeCommand(protocol.GetPosition{}))
	if err != nil {
		return 0, err
	}
	return reply.Int(), nil
}

// LEDPWM sets the light duty cycle directly, 0..1
func (s *Stage) LEDPWM(ctx context.Context, duty float32) error {
	if !(duty >= 0 && duty <= 1) {
		return fmt.Errorf("duty %v: %w", duty, ErrOutOfRange)
	}
	return s.Do(ctx, protocol.LEDPWM{Duty: duty})
}

// LEDVoltage holds the photosensor at volts, 0..3.3
func (s *Stage) LEDVoltage(ctx context.Context, volts float32) error {
	if !(volts >= 0 && volts <= MaxLEDVolts) {
		return fmt.Errorf("voltage %vV must be between 0V and %vV: %w", volts, MaxLEDVolts, ErrOutOfRange)
	}
	return s.Do(ctx, protocol.LEDVoltage{Volts: volts})
}

// LEDGain sets one gain of the light loop
func (s *Stage) LEDGain(ctx context.Context, term protocol.PIDTerm, gain float32) error {
	return s.Do(ctx, protocol.LEDPID{Term: term, Gain: gain})
}

// EmergencyStop latches the software e-stop
func (s *Stage) EmergencyStop(ctx context.Context) error {
	return s.Do(ctx, protocol.EmergencyStop{})
}

// EmergencyClear releases the software e-stop. A held hardware e-stop
// keeps the controller blocked.
func (s *Stage) EmergencyClear(ctx context.Context) error {
	return s.Do(ctx, protocol.EmergencyClear{})
}

// StepOff configures the motion run after a limit switch aborts a move.
// Zero steps disables it.
func (s *Stage) StepOff(ctx context.Context, size protocol.StepSize, steps uint32) error {
	return s.Do(ctx, protocol.LimitStepOff{Size: size, Count: steps})
}

// Debounce sets the limit switch debounce window
func (s *Stage) Debounce(ctx context.Context, d time.Duration) error {
	return s.Do(ctx, protocol.SwitchDebounce{Millis: uint32(d / time.Millisecond)})
}
