package core

import (
	"bytes"
	"math"
	"testing"

	"stagefw/protocol"
)

type fakeUART struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (u *fakeUART) Read(p []byte) (int, error)  { return u.in.Read(p) }
func (u *fakeUART) Write(p []byte) (int, error) { return u.out.Write(p) }
func (u *fakeUART) Buffered() int               { return u.in.Len() }

type firmwareRig struct {
	gpio      *fakeGPIO
	stepTimer *fakeTimer
	oneShot   *fakeOneShot
	pwm       *fakePWM
	sensor    *fakeSensor
	uart      *fakeUART
	fw        *Firmware
}

func newFirmwareRig() *firmwareRig {
	r := &firmwareRig{
		gpio:      newFakeGPIO(),
		stepTimer: &fakeTimer{},
		oneShot:   &fakeOneShot{},
		pwm:       &fakePWM{},
		sensor:    &fakeSensor{},
		uart:      &fakeUART{},
	}
	r.fw = New(DefaultConfig(), Board{
		GPIO:      r.gpio,
		StepTimer: r.stepTimer,
		LEDTimer:  &fakeTimer{},
		Debounce:  r.oneShot,
		LED:       r.pwm,
		Sensor:    r.sensor,
		UART:      r.uart,
	})
	return r
}

// send feeds a request through the UART and returns the reply, if any
func (r *firmwareRig) send(t *testing.T, req protocol.Frame) (protocol.Frame, bool) {
	t.Helper()
	b := req.Bytes()
	r.uart.in.Write(b[:])
	r.fw.PumpUART()
	if !r.fw.Poll() {
		return protocol.Frame{}, false
	}
	reply, err := protocol.DecodeFrame(r.uart.out.Next(protocol.FrameSize))
	if err != nil {
		t.Fatalf("bad reply: %v", err)
	}
	return reply, true
}

func (r *firmwareRig) runMotor() {
	for i := 0; r.stepTimer.running && i < 100000; i++ {
		r.fw.OnMotorTick()
	}
}

func TestFirmwareRelativeAndPosition(t *testing.T) {
	r := newFirmwareRig()

	reply, ok := r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 200}))
	if !ok {
		t.Fatal("no reply")
	}
	if reply.Opcode != protocol.OpRelative || reply.Arg != protocol.ResultSuccess {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Flags&protocol.StatusRunning == 0 {
		t.Error("reply should report the motor running")
	}

	r.runMotor()
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.GetPosition{}))
	if reply.Int() != 3200 {
		t.Errorf("position = %d, want 3200", reply.Int())
	}
	if reply.Flags&(protocol.StatusRunning|protocol.StatusFailure|protocol.StatusCalibrated) != 0 {
		t.Errorf("flags = %#x", reply.Flags)
	}
}

func TestFirmwareAbsolute(t *testing.T) {
	r := newFirmwareRig()
	r.send(t, protocol.EncodeCommand(protocol.SetPosition{Position: 100}))

	reply, _ := r.send(t, protocol.EncodeCommand(protocol.Absolute{Target: -60, Size: protocol.StepEighth}))
	if reply.Arg != protocol.ResultSuccess {
		t.Fatalf("reply arg = %d", reply.Arg)
	}
	r.runMotor()
	if got := r.fw.Motor.Position(); got != -60 {
		t.Errorf("position = %d, want -60", got)
	}

	// Already there
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Absolute{Target: -60, Size: protocol.StepFull}))
	if reply.Arg != protocol.ResultSuccess || r.fw.Motor.IsRunning() {
		t.Error("zero-distance move should succeed without motion")
	}
	if reply.Flags&protocol.StatusCalibrated == 0 {
		t.Error("position was set, reply should report calibrated")
	}
}

func TestFirmwareCommandErrors(t *testing.T) {
	r := newFirmwareRig()

	reply, _ := r.send(t, protocol.Frame{Opcode: protocol.OpRelative, Arg: 1, Flags: 5})
	if reply.Arg != protocol.ResultInvalidStepSize || reply.Flags&protocol.StatusFailure == 0 {
		t.Errorf("invalid size reply = %+v", reply)
	}

	reply, _ = r.send(t, protocol.Frame{Opcode: 42})
	if reply.Opcode != 42 || reply.Arg != protocol.ResultFailure {
		t.Errorf("unknown opcode reply = %+v", reply)
	}

	r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 5}))
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 5}))
	if reply.Arg != protocol.ResultBusy {
		t.Errorf("busy reply arg = %d", reply.Arg)
	}
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Speed{Hz: 1000}))
	if reply.Arg != protocol.ResultBusy {
		t.Errorf("speed while running arg = %d", reply.Arg)
	}
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.SetPosition{Position: 1}))
	if reply.Arg != protocol.ResultBusy {
		t.Errorf("set position while running arg = %d", reply.Arg)
	}

	r.gpio.pins[DefaultConfig().Pins.Limit1] = true
	r.send(t, protocol.EncodeCommand(protocol.Stop{}))
	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 5}))
	if reply.Arg != protocol.ResultBlockedByLimit || reply.Flags&protocol.StatusLimit1 == 0 {
		t.Errorf("limit reply = %+v", reply)
	}
}

func TestFirmwareCorruptFrameIgnored(t *testing.T) {
	r := newFirmwareRig()

	b := protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 10}).Bytes()
	b[protocol.FramePositionChecksum] ^= 0xFF
	r.uart.in.Write(b[:])
	r.fw.PumpUART()
	if r.fw.Poll() {
		t.Error("corrupt frame should not be handled")
	}
	if r.uart.out.Len() != 0 || r.fw.Motor.IsRunning() {
		t.Error("corrupt frame must not reply or move")
	}
	if r.fw.Stats().Dropped == 0 {
		t.Error("drop not counted")
	}

	// The link keeps working
	if _, ok := r.send(t, protocol.EncodeCommand(protocol.Idle{})); !ok {
		t.Error("no reply after a corrupt frame")
	}
}

func TestFirmwareLEDCommands(t *testing.T) {
	r := newFirmwareRig()

	reply, _ := r.send(t, protocol.EncodeCommand(protocol.LEDPWM{Duty: 0.4}))
	if reply.Flags&protocol.StatusLEDOn == 0 || r.pwm.duty != 0.4 {
		t.Errorf("flags=%#x duty=%v", reply.Flags, r.pwm.duty)
	}

	r.send(t, protocol.EncodeCommand(protocol.LEDPID{Term: protocol.PIDIntegral, Gain: 0.25}))
	if _, ki, _ := r.fw.LED.Gains(); ki != 0.25 {
		t.Errorf("ki = %v", ki)
	}

	r.send(t, protocol.EncodeCommand(protocol.LEDVoltage{Volts: 1.5}))
	if !r.fw.LED.ClosedLoop() || r.fw.LED.Target() != 1.5 {
		t.Error("voltage command should enter closed loop")
	}

	reply, _ = r.send(t, protocol.NewFloatFrame(protocol.OpLEDPWM, float32(math.Inf(1)), 0))
	if reply.Arg != protocol.ResultInvalidArgument {
		t.Errorf("infinite duty arg = %d", reply.Arg)
	}
}

func TestFirmwareEStopCommands(t *testing.T) {
	r := newFirmwareRig()

	r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 100}))
	reply, _ := r.send(t, protocol.EncodeCommand(protocol.EmergencyStop{}))
	if reply.Flags&protocol.StatusEStop == 0 || reply.Flags&protocol.StatusRunning != 0 {
		t.Errorf("estop flags = %#x", reply.Flags)
	}

	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 1}))
	if reply.Arg != protocol.ResultBlockedByEStop {
		t.Errorf("move while latched arg = %d", reply.Arg)
	}

	reply, _ = r.send(t, protocol.EncodeCommand(protocol.EmergencyClear{}))
	if reply.Arg != protocol.ResultSuccess || reply.Flags&protocol.StatusEStop != 0 {
		t.Errorf("clear reply = %+v", reply)
	}
}

func TestFirmwareSettings(t *testing.T) {
	r := newFirmwareRig()

	r.send(t, protocol.EncodeCommand(protocol.SwitchDebounce{Millis: 25}))
	if r.fw.Switches.Debounce() != 25 {
		t.Errorf("debounce = %d", r.fw.Switches.Debounce())
	}

	reply, _ := r.send(t, protocol.EncodeCommand(protocol.LimitStepOff{Size: protocol.StepSize(9), Count: 2}))
	if reply.Arg != protocol.ResultInvalidStepSize {
		t.Errorf("step-off arg = %d", reply.Arg)
	}

	reply, _ = r.send(t, protocol.EncodeCommand(protocol.Speed{Hz: 250}))
	if reply.Arg != protocol.ResultSuccess || r.fw.Motor.Speed() != 250 {
		t.Errorf("speed reply = %+v", reply)
	}
}

func TestFirmwareHeartbeatAndFrameMode(t *testing.T) {
	r := newFirmwareRig()
	hb := DefaultConfig().Pins.Heartbeat

	b := protocol.EncodeCommand(protocol.Idle{}).Bytes()
	r.fw.OnFrame(b[:])
	if !r.fw.Poll() {
		t.Fatal("frame-mode block not handled")
	}
	if !r.gpio.pins[hb] {
		t.Error("heartbeat should toggle high after the first reply")
	}
	r.fw.OnFrame(b[:])
	r.fw.Poll()
	if r.gpio.pins[hb] {
		t.Error("heartbeat should toggle low after the second reply")
	}
	if r.fw.Stats().Sent != 2 {
		t.Errorf("sent = %d", r.fw.Stats().Sent)
	}
}

func TestFirmwareRecoversHandlerPanic(t *testing.T) {
	r := newFirmwareRig()
	r.fw.registry.Register(protocol.OpIdle, func(protocol.Command) (uint32, Status) {
		panic("boom")
	})

	reply := r.fw.Handle(protocol.Frame{Opcode: protocol.OpIdle})
	if reply.Arg != protocol.ResultFailure || reply.Flags&protocol.StatusFailure == 0 {
		t.Errorf("reply = %+v", reply)
	}
	if r.fw.Stats().Errors != 1 {
		t.Error("panic not counted")
	}
}

func TestFirmwareDumpState(t *testing.T) {
	r := newFirmwareRig()
	r.send(t, protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 2}))
	r.runMotor()
	r.send(t, protocol.EncodeCommand(protocol.LEDPWM{Duty: 0.25}))

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	SetDebugEnabled(true)
	defer func() {
		SetDebugEnabled(false)
		SetDebugWriter(func(string) {})
	}()

	r.fw.DumpState()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", lines)
	}
	if lines[0] != "[STATE] motor IDLE pos=32 hz=500" {
		t.Errorf("unexpected motor line %q", lines[0])
	}
	if lines[1] != "[STATE] led duty=0.250 target=0.000" {
		t.Errorf("unexpected led line %q", lines[1])
	}
	if lines[2] != "[STATE] link accepted=2 dropped=0 sent=2 errors=0" {
		t.Errorf("unexpected link line %q", lines[2])
	}
}
