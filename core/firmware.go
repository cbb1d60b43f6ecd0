package core

import (
	"sync/atomic"

	"stagefw/protocol"
)

// Firmware ties the controllers to the serial link.
//
// Interrupt handlers call the On* entry points; the main loop calls Poll (and
// PumpUART when the UART has no receive interrupt). Replies are written from
// Poll only, after the handler returns.
type Firmware struct {
	cfg   Config
	board Board

	Motor    *Motor
	Switches *Switches
	LED      *LED

	receiver *protocol.Receiver
	registry CommandRegistry
	critical Critical

	rx [protocol.FrameSize]byte
	tx [protocol.FrameSize]byte

	heartbeat uint32 // atomic bool, heartbeat pin level
	sent      uint32 // atomic
	errors    uint32 // atomic, transmit errors and recovered panics
}

// New builds the controllers on board and registers the command table
func New(cfg Config, board Board) *Firmware {
	fw := &Firmware{cfg: cfg, board: board}

	fw.Motor = NewMotor(cfg, board.GPIO, board.StepTimer, board.Delay)
	fw.Switches = NewSwitches(cfg, board.GPIO, board.Debounce, fw.Motor)
	fw.LED = NewLED(cfg, board.LED, board.Sensor, board.LEDTimer)

	size := cfg.RxBufferSize
	if size < protocol.FrameSize {
		size = 4 * protocol.FrameSize
	}
	fw.receiver = protocol.NewReceiver(make([]byte, size), &fw.critical)

	fw.registerCommands()
	return fw
}

func (fw *Firmware) registerCommands() {
	r := &fw.registry
	r.Register(protocol.OpIdle, fw.handleIdle)
	r.Register(protocol.OpRelative, fw.handleRelative)
	r.Register(protocol.OpAbsolute, fw.handleAbsolute)
	r.Register(protocol.OpSpeed, fw.handleSpeed)
	r.Register(protocol.OpStop, fw.handleStop)
	r.Register(protocol.OpSetPosition, fw.handleSetPosition)
	r.Register(protocol.OpGetPosition, fw.handleGetPosition)
	r.Register(protocol.OpLEDPWM, fw.handleLEDPWM)
	r.Register(protocol.OpLEDVoltage, fw.handleLEDVoltage)
	r.Register(protocol.OpLEDPID, fw.handleLEDPID)
	r.Register(protocol.OpSwitchDebounce, fw.handleSwitchDebounce)
	r.Register(protocol.OpEmergencyStop, fw.handleEmergencyStop)
	r.Register(protocol.OpEmergencyClear, fw.handleEmergencyClear)
	r.Register(protocol.OpLimitStepOff, fw.handleLimitStepOff)
}

// Interrupt entry points

// OnByte queues one byte from the UART receive interrupt
func (fw *Firmware) OnByte(b byte) { fw.receiver.PushByte(b) }

// OnFrame hands over a 12-byte block from a DMA receive-complete interrupt
func (fw *Firmware) OnFrame(b []byte) { fw.receiver.DeliverFrame(b) }

// OnMotorTick is the step timer update interrupt
func (fw *Firmware) OnMotorTick() { fw.Motor.Tick() }

// OnLEDTick is the LED timer update interrupt
func (fw *Firmware) OnLEDTick() { fw.LED.Tick() }

// OnPinChange is the switch input edge interrupt
func (fw *Firmware) OnPinChange(pin Pin) { fw.Switches.OnTransition(pin) }

// OnDebounceTimer is the debounce one-shot expiry
func (fw *Firmware) OnDebounceTimer() { fw.Switches.OnDebounceExpired() }

// OnTransmitComplete toggles the heartbeat output once per reply
func (fw *Firmware) OnTransmitComplete() {
	level := atomic.AddUint32(&fw.heartbeat, 1)&1 != 0
	fw.board.GPIO.SetPin(fw.cfg.Pins.Heartbeat, level)
}

// Main loop

// PumpUART moves buffered UART bytes into the receiver
func (fw *Firmware) PumpUART() int {
	if fw.board.UART == nil {
		return 0
	}
	total := 0
	for fw.board.UART.Buffered() > 0 {
		n, err := fw.board.UART.Read(fw.rx[:])
		for _, b := range fw.rx[:n] {
			fw.receiver.PushByte(b)
		}
		total += n
		if err != nil || n == 0 {
			break
		}
	}
	return total
}

// Poll handles at most one received frame and transmits its reply.
// It reports whether a frame was handled.
func (fw *Firmware) Poll() bool {
	f, ok := fw.receiver.Poll()
	if !ok {
		return false
	}
	fw.transmit(fw.Handle(f))
	return true
}

func (fw *Firmware) transmit(reply protocol.Frame) {
	if fw.board.UART == nil {
		return
	}
	reply.Encode(fw.tx[:])
	if _, err := fw.board.UART.Write(fw.tx[:]); err != nil {
		atomic.AddUint32(&fw.errors, 1)
		return
	}
	atomic.AddUint32(&fw.sent, 1)
	fw.OnTransmitComplete()
}

// Handle executes a validated frame and builds its reply.
// A panicking handler is reported as a failure instead of taking the loop down.
func (fw *Firmware) Handle(f protocol.Frame) (reply protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint32(&fw.errors, 1)
			RecordEvent(EvtPanic, int32(f.Opcode), 0)
			reply = f.Reply(protocol.ResultFailure, fw.Status(true))
		}
	}()

	arg, status, err := fw.registry.Dispatch(protocol.DecodeCommand(f))
	failed := err != nil || status != StatusSuccess
	if failed {
		RecordEvent(EvtFrameRejected, int32(f.Opcode), int32(arg))
	} else {
		RecordEvent(EvtFrameAccepted, int32(f.Opcode), int32(f.Arg))
	}
	return f.Reply(arg, fw.Status(failed))
}

// Status builds the reply flags from live state.
// failed marks the current request; a failed last motion sets the bit too.
func (fw *Firmware) Status(failed bool) uint8 {
	var s uint8
	if fw.Switches.Limit1() {
		s |= protocol.StatusLimit1
	}
	if fw.Switches.Limit2() {
		s |= protocol.StatusLimit2
	}
	if fw.Switches.EStopActive() {
		s |= protocol.StatusEStop
	}
	if fw.Motor.IsRunning() {
		s |= protocol.StatusRunning
	}
	if fw.LED.IsOn() {
		s |= protocol.StatusLEDOn
	}
	if failed || fw.Motor.LastFailed() {
		s |= protocol.StatusFailure
	}
	if fw.Motor.Calibrated() {
		s |= protocol.StatusCalibrated
	}
	return s
}

// Stats are the link counters
type Stats struct {
	protocol.ReceiverStats
	Sent   uint32
	Errors uint32
}

// Stats returns a snapshot of the link counters
func (fw *Firmware) Stats() Stats {
	return Stats{
		ReceiverStats: fw.receiver.Stats(),
		Sent:          atomic.LoadUint32(&fw.sent),
		Errors:        atomic.LoadUint32(&fw.errors),
	}
}

// DumpState writes the controller and link state through the debug writer.
// Main loop only.
func (fw *Firmware) DumpState() {
	st := fw.Stats()
	DebugPrintln("[STATE] motor " + fw.Motor.State().String() +
		" pos=" + itoa(int(fw.Motor.Position())) +
		" hz=" + itoa(int(fw.Motor.Speed())))
	DebugPrintln("[STATE] led duty=" + ftoa(fw.LED.Duty()) +
		" target=" + ftoa(fw.LED.Target()))
	DebugPrintln("[STATE] link accepted=" + itoa(int(st.Accepted)) +
		" dropped=" + itoa(int(st.Dropped)) +
		" sent=" + itoa(int(st.Sent)) +
		" errors=" + itoa(int(st.Errors)))
}

// Command handlers

func (fw *Firmware) handleIdle(protocol.Command) (uint32, Status) {
	return result(StatusSuccess)
}

func (fw *Firmware) handleRelative(c protocol.Command) (uint32, Status) {
	cmd := c.(protocol.Relative)
	return result(fw.Motor.Step(cmd.Size, cmd.Count, cmd.Reversed, nil, cmd.IgnoreLimits))
}

func (fw *Firmware) handleAbsolute(c protocol.Command) (uint32, Status) {
	cmd := c.(protocol.Absolute)
	distance := int64(cmd.Size.Distance())
	if distance == 0 {
		return result(StatusInvalidSize)
	}

	delta := int64(cmd.Target) - int64(fw.Motor.Position())
	reversed := delta < 0
	if reversed {
		delta = -delta
	}
	// A target between two steps at this size rounds toward the current position
	count := uint32(delta / distance)
	if count == 0 {
		return result(StatusSuccess)
	}
	return result(fw.Motor.Step(cmd.Size, count, reversed, nil, cmd.IgnoreLimits))
}

func (fw *Firmware) handleSpeed(c protocol.Command) (uint32, Status) {
	return result(fw.Motor.SetSpeed(c.(protocol.Speed).Hz))
}

func (fw *Firmware) handleStop(protocol.Command) (uint32, Status) {
	fw.Motor.Stop()
	return result(StatusSuccess)
}

func (fw *Firmware) handleSetPosition(c protocol.Command) (uint32, Status) {
	if fw.Motor.IsRunning() {
		return result(StatusBusy)
	}
	fw.Motor.SetPosition(c.(protocol.SetPosition).Position)
	return result(StatusSuccess)
}

func (fw *Firmware) handleGetPosition(protocol.Command) (uint32, Status) {
	return uint32(fw.Motor.Position()), StatusSuccess
}

func (fw *Firmware) handleLEDPWM(c protocol.Command) (uint32, Status) {
	return result(fw.LED.Set(c.(protocol.LEDPWM).Duty))
}

func (fw *Firmware) handleLEDVoltage(c protocol.Command) (uint32, Status) {
	return result(fw.LED.HoldVoltage(c.(protocol.LEDVoltage).Volts))
}

func (fw *Firmware) handleLEDPID(c protocol.Command) (uint32, Status) {
	cmd := c.(protocol.LEDPID)
	return result(fw.LED.SetGain(cmd.Term, cmd.Gain))
}

func (fw *Firmware) handleSwitchDebounce(c protocol.Command) (uint32, Status) {
	fw.Switches.SetDebounce(c.(protocol.SwitchDebounce).Millis)
	return result(StatusSuccess)
}

func (fw *Firmware) handleEmergencyStop(protocol.Command) (uint32, Status) {
	fw.Switches.EmergencyStop()
	return result(StatusSuccess)
}

func (fw *Firmware) handleEmergencyClear(protocol.Command) (uint32, Status) {
	return result(fw.Switches.EmergencyClear())
}

func (fw *Firmware) handleLimitStepOff(c protocol.Command) (uint32, Status) {
	cmd := c.(protocol.LimitStepOff)
	return result(fw.Motor.ConfigureStepOff(cmd.Size, cmd.Count))
}
