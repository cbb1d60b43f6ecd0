package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// Frame layout, 12 bytes, multi-byte fields little-endian:
//
//	0..1   start marker 0xDE 0xAD
//	2..3   opcode
//	4..7   argument
//	8      flags
//	9      CRC8 over bytes 0..8
//	10..11 stop marker 0xBE 0xEF
const (
	FrameSize = 12

	StartByte0 = 0xDE
	StartByte1 = 0xAD
	StopByte0  = 0xBE
	StopByte1  = 0xEF

	FramePositionOpcode   = 2
	FramePositionArg      = 4
	FramePositionFlags    = 8
	FramePositionChecksum = 9
	FramePositionStop     = 10
)

// Request flag layout
const (
	FlagStepSizeMask = 0x0F
	FlagReversed     = 1 << 5
	FlagIgnoreLimits = 1 << 6
	FlagPIDTermMask  = 0x03
)

// Reply flag layout, recomputed from live state for every reply
const (
	StatusLimit1     = 1 << 0
	StatusLimit2     = 1 << 1
	StatusEStop      = 1 << 2
	StatusRunning    = 1 << 3
	StatusLEDOn      = 1 << 4
	StatusFailure    = 1 << 5
	StatusCalibrated = 1 << 6
)

// Result codes carried in the reply argument
const (
	ResultSuccess         uint32 = 0
	ResultBusy            uint32 = 1
	ResultInvalidStepSize uint32 = 2
	ResultBlockedByLimit  uint32 = 3
	ResultBlockedByEStop  uint32 = 4
	ResultInvalidArgument uint32 = 5
	ResultFailure         uint32 = 0xFFFFFFFF
)

var (
	ErrFrameLength   = errors.New("frame: wrong length")
	ErrFrameStart    = errors.New("frame: bad start marker")
	ErrFrameStop     = errors.New("frame: bad stop marker")
	ErrFrameChecksum = errors.New("frame: checksum mismatch")
)

// Opcode selects the operation a frame requests
type Opcode uint16

const (
	OpIdle Opcode = iota
	OpRelative
	OpAbsolute
	OpSpeed
	OpStop
	OpSetPosition
	OpGetPosition
	OpLEDPWM
	OpLEDVoltage
	OpLEDPID
	OpSwitchDebounce
	OpEmergencyStop
	OpEmergencyClear
	OpLimitStepOff

	// OpcodeCount is the size of the command table
	OpcodeCount
)

var opcodeNames = [OpcodeCount]string{
	"IDLE", "RELATIVE", "ABSOLUTE", "SPEED", "STOP", "SET_POSITION", "GET_POSITION",
	"LED_PWM", "LED_VOLTAGE", "LED_PID", "SWITCH_DEBOUNCE", "EMERGENCY_STOP",
	"EMERGENCY_CLEAR", "LIMIT_STEP_OFF",
}

func (o Opcode) String() string {
	if o < OpcodeCount {
		return opcodeNames[o]
	}
	return "UNKNOWN"
}

// Known reports whether the opcode is in the command table
func (o Opcode) Known() bool {
	return o < OpcodeCount
}

// Frame is a decoded request or reply. Markers and checksum are implied.
type Frame struct {
	Opcode Opcode
	Arg    uint32
	Flags  uint8
}

// Int returns the argument as a signed position or count
func (f Frame) Int() int32 {
	return int32(f.Arg)
}

// Float returns the argument as an IEEE-754 single
func (f Frame) Float() float32 {
	return math.Float32frombits(f.Arg)
}

// Encode writes the 12-byte wire form into dst, which must hold FrameSize bytes
func (f Frame) Encode(dst []byte) {
	_ = dst[FrameSize-1]
	dst[0] = StartByte0
	dst[1] = StartByte1
	binary.LittleEndian.PutUint16(dst[FramePositionOpcode:], uint16(f.Opcode))
	binary.LittleEndian.PutUint32(dst[FramePositionArg:], f.Arg)
	dst[FramePositionFlags] = f.Flags
	dst[FramePositionChecksum] = CRC8(dst[:FramePositionChecksum])
	dst[FramePositionStop] = StopByte0
	dst[FramePositionStop+1] = StopByte1
}

// Bytes returns the wire form of f
func (f Frame) Bytes() [FrameSize]byte {
	var b [FrameSize]byte
	f.Encode(b[:])
	return b
}

// DecodeFrame validates markers and checksum and decodes the fields
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, ErrFrameLength
	}
	if b[0] != StartByte0 || b[1] != StartByte1 {
		return Frame{}, ErrFrameStart
	}
	if b[FramePositionStop] != StopByte0 || b[FramePositionStop+1] != StopByte1 {
		return Frame{}, ErrFrameStop
	}
	if !ValidateCRC8(b[:FramePositionChecksum], b[FramePositionChecksum]) {
		return Frame{}, ErrFrameChecksum
	}
	return Frame{
		Opcode: Opcode(binary.LittleEndian.Uint16(b[FramePositionOpcode:])),
		Arg:    binary.LittleEndian.Uint32(b[FramePositionArg:]),
		Flags:  b[FramePositionFlags],
	}, nil
}

// Reply builds the reply to f carrying result and the live status flags
func (f Frame) Reply(result uint32, status uint8) Frame {
	return Frame{Opcode: f.Opcode, Arg: result, Flags: status}
}
