package protocol

import "math"

// StepSize is the microstep selector carried in the low bits of request flags.
// Bits 0..2 drive the MS1..MS3 driver inputs.
type StepSize uint8

const (
	StepFull      StepSize = 0
	StepHalf      StepSize = 1
	StepQuarter   StepSize = 2
	StepEighth    StepSize = 3
	StepSixteenth StepSize = 7
)

// Valid reports whether s is one of the five supported selectors
func (s StepSize) Valid() bool {
	return s.Distance() != 0
}

// Distance returns the position change of one step at size s, in sixteenth steps.
// It returns 0 for unsupported selectors.
func (s StepSize) Distance() int32 {
	switch s {
	case StepFull:
		return 16
	case StepHalf:
		return 8
	case StepQuarter:
		return 4
	case StepEighth:
		return 2
	case StepSixteenth:
		return 1
	}
	return 0
}

func (s StepSize) String() string {
	switch s {
	case StepFull:
		return "FULL"
	case StepHalf:
		return "HALF"
	case StepQuarter:
		return "QUARTER"
	case StepEighth:
		return "EIGHTH"
	case StepSixteenth:
		return "SIXTEENTH"
	}
	return "INVALID"
}

// StepSizeFromDivisor maps 1, 2, 4, 8 or 16 to the matching selector
func StepSizeFromDivisor(d int) (StepSize, bool) {
	switch d {
	case 1:
		return StepFull, true
	case 2:
		return StepHalf, true
	case 4:
		return StepQuarter, true
	case 8:
		return StepEighth, true
	case 16:
		return StepSixteenth, true
	}
	return 0, false
}

// PIDTerm selects which LED loop gain a LED_PID frame sets
type PIDTerm uint8

const (
	PIDProportional PIDTerm = 0
	PIDIntegral     PIDTerm = 1
	PIDDerivative   PIDTerm = 2
)

func (p PIDTerm) String() string {
	switch p {
	case PIDProportional:
		return "P"
	case PIDIntegral:
		return "I"
	case PIDDerivative:
		return "D"
	}
	return "?"
}

// Command is a request decoded from a frame. Each opcode has its own type
// so handlers receive typed arguments instead of raw bit patterns.
type Command interface {
	Opcode() Opcode
}

type (
	Idle struct{}

	Relative struct {
		Size         StepSize
		Count        uint32
		Reversed     bool
		IgnoreLimits bool
	}

	Absolute struct {
		Target       int32
		Size         StepSize
		IgnoreLimits bool
	}

	Speed struct {
		Hz uint32
	}

	Stop struct{}

	SetPosition struct {
		Position int32
	}

	GetPosition struct{}

	LEDPWM struct {
		Duty float32
	}

	LEDVoltage struct {
		Volts float32
	}

	LEDPID struct {
		Term PIDTerm
		Gain float32
	}

	SwitchDebounce struct {
		Millis uint32
	}

	EmergencyStop struct{}

	EmergencyClear struct{}

	LimitStepOff struct {
		Size  StepSize
		Count uint32
	}

	// Unknown carries an opcode outside the command table
	Unknown struct {
		Code Opcode
	}
)

func (Idle) Opcode() Opcode           { return OpIdle }
func (Relative) Opcode() Opcode       { return OpRelative }
func (Absolute) Opcode() Opcode       { return OpAbsolute }
func (Speed) Opcode() Opcode          { return OpSpeed }
func (Stop) Opcode() Opcode           { return OpStop }
func (SetPosition) Opcode() Opcode    { return OpSetPosition }
func (GetPosition) Opcode() Opcode    { return OpGetPosition }
func (LEDPWM) Opcode() Opcode         { return OpLEDPWM }
func (LEDVoltage) Opcode() Opcode     { return OpLEDVoltage }
func (LEDPID) Opcode() Opcode         { return OpLEDPID }
func (SwitchDebounce) Opcode() Opcode { return OpSwitchDebounce }
func (EmergencyStop) Opcode() Opcode  { return OpEmergencyStop }
func (EmergencyClear) Opcode() Opcode { return OpEmergencyClear }
func (LimitStepOff) Opcode() Opcode   { return OpLimitStepOff }
func (u Unknown) Opcode() Opcode      { return u.Code }

func motionFlags(size StepSize, reversed, ignoreLimits bool) uint8 {
	flags := uint8(size) & FlagStepSizeMask
	if reversed {
		flags |= FlagReversed
	}
	if ignoreLimits {
		flags |= FlagIgnoreLimits
	}
	return flags
}

// NewFloatFrame builds a frame whose argument is the bit pattern of v
func NewFloatFrame(op Opcode, v float32, flags uint8) Frame {
	return Frame{Opcode: op, Arg: math.Float32bits(v), Flags: flags}
}

// DecodeCommand interprets a validated frame
func DecodeCommand(f Frame) Command {
	size := StepSize(f.Flags & FlagStepSizeMask)
	switch f.Opcode {
	case OpIdle:
		return Idle{}
	case OpRelative:
		return Relative{
			Size:         size,
			Count:        f.Arg,
			Reversed:     f.Flags&FlagReversed != 0,
			IgnoreLimits: f.Flags&FlagIgnoreLimits != 0,
		}
	case OpAbsolute:
		return Absolute{Target: f.Int(), Size: size, IgnoreLimits: f.Flags&FlagIgnoreLimits != 0}
	case OpSpeed:
		return Speed{Hz: f.Arg}
	case OpStop:
		return Stop{}
	case OpSetPosition:
		return SetPosition{Position: f.Int()}
	case OpGetPosition:
		return GetPosition{}
	case OpLEDPWM:
		return LEDPWM{Duty: f.Float()}
	case OpLEDVoltage:
		return LEDVoltage{Volts: f.Float()}
	case OpLEDPID:
		return LEDPID{Term: PIDTerm(f.Flags & FlagPIDTermMask), Gain: f.Float()}
	case OpSwitchDebounce:
		return SwitchDebounce{Millis: f.Arg}
	case OpEmergencyStop:
		return EmergencyStop{}
	case OpEmergencyClear:
		return EmergencyClear{}
	case OpLimitStepOff:
		return LimitStepOff{Size: size, Count: f.Arg}
	}
	return Unknown{Code: f.Opcode}
}

// EncodeCommand builds the request frame for c
func EncodeCommand(c Command) Frame {
	switch c := c.(type) {
	case Relative:
		return Frame{Opcode: OpRelative, Arg: c.Count, Flags: motionFlags(c.Size, c.Reversed, c.IgnoreLimits)}
	case Absolute:
		return Frame{Opcode: OpAbsolute, Arg: uint32(c.Target), Flags: motionFlags(c.Size, false, c.IgnoreLimits)}
	case Speed:
		return Frame{Opcode: OpSpeed, Arg: c.Hz}
	case SetPosition:
		return Frame{Opcode: OpSetPosition, Arg: uint32(c.Position)}
	case LEDPWM:
		return NewFloatFrame(OpLEDPWM, c.Duty, 0)
	case LEDVoltage:
		return NewFloatFrame(OpLEDVoltage, c.Volts, 0)
	case LEDPID:
		return NewFloatFrame(OpLEDPID, c.Gain, uint8(c.Term)&FlagPIDTermMask)
	case SwitchDebounce:
		return Frame{Opcode: OpSwitchDebounce, Arg: c.Millis}
	case LimitStepOff:
		return Frame{Opcode: OpLimitStepOff, Arg: c.Count, Flags: uint8(c.Size) & FlagStepSizeMask}
	}
	return Frame{Opcode: c.Opcode()}
}
