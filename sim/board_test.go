package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagefw/core"
	"stagefw/protocol"
)

func newBoard(t *testing.T, opts Options) *Board {
	t.Helper()
	core.ClearEvents()
	return New(core.DefaultConfig(), opts)
}

// exchange writes req to the port and runs the main loop once
func exchange(t *testing.T, b *Board, req protocol.Frame) (protocol.Frame, bool) {
	t.Helper()
	buf := req.Bytes()
	_, err := b.Port().Write(buf[:])
	require.NoError(t, err)
	b.Advance(time.Millisecond)
	return takeReply(t, b)
}

func takeReply(t *testing.T, b *Board) (protocol.Frame, bool) {
	t.Helper()
	b.link.mu.Lock()
	defer b.link.mu.Unlock()

	if len(b.link.toHost) < protocol.FrameSize {
		return protocol.Frame{}, false
	}
	f, err := protocol.DecodeFrame(b.link.toHost[:protocol.FrameSize])
	b.link.toHost = b.link.toHost[protocol.FrameSize:]
	require.NoError(t, err)
	return f, true
}

func mustExchange(t *testing.T, b *Board, c protocol.Command) protocol.Frame {
	t.Helper()
	reply, ok := exchange(t, b, protocol.EncodeCommand(c))
	require.True(t, ok, "no reply to %v", c.Opcode())
	require.Equal(t, c.Opcode(), reply.Opcode)
	return reply
}

func TestRelativeFullSteps(t *testing.T) {
	b := newBoard(t, DefaultOptions())

	reply := mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 200})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)

	b.Advance(time.Second)
	assert.False(t, b.FW.Motor.IsRunning())
	assert.EqualValues(t, 3200, b.FW.Motor.Position())
	assert.EqualValues(t, 3200, b.Carriage())
	assert.EqualValues(t, 200, b.StepEdges())
	assert.True(t, b.DriverEnabled())

	reply = mustExchange(t, b, protocol.GetPosition{})
	assert.EqualValues(t, 3200, reply.Int())
	assert.Zero(t, reply.Flags&protocol.StatusFailure)
}

func TestMotionTakesStepPeriods(t *testing.T) {
	b := newBoard(t, DefaultOptions())
	mustExchange(t, b, protocol.Speed{Hz: 1000})
	mustExchange(t, b, protocol.Relative{Size: protocol.StepHalf, Count: 100, Reversed: true})

	// 100 steps at 1 kHz
	b.Advance(50 * time.Millisecond)
	require.True(t, b.FW.Motor.IsRunning())
	b.Advance(60 * time.Millisecond)
	require.False(t, b.FW.Motor.IsRunning())
	assert.EqualValues(t, -800, b.Carriage())
}

func TestCorruptChecksumNoReply(t *testing.T) {
	b := newBoard(t, DefaultOptions())

	req := protocol.EncodeCommand(protocol.Relative{Size: protocol.StepFull, Count: 10}).Bytes()
	req[protocol.FramePositionChecksum]++
	_, err := b.Port().Write(req[:])
	require.NoError(t, err)
	b.Advance(100 * time.Millisecond)

	_, ok := takeReply(t, b)
	assert.False(t, ok)
	assert.Zero(t, b.StepEdges())
	assert.NotZero(t, b.FW.Stats().Dropped)

	reply := mustExchange(t, b, protocol.Idle{})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)
}

func TestLimitDuringMotion(t *testing.T) {
	opts := DefaultOptions()
	opts.Limit2Pos = 100 * 16
	b := newBoard(t, opts)

	mustExchange(t, b, protocol.LimitStepOff{Size: protocol.StepFull, Count: 5})
	reply := mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 200})
	require.Equal(t, protocol.ResultSuccess, reply.Arg)

	b.Advance(time.Second)
	assert.False(t, b.FW.Motor.IsRunning())
	assert.EqualValues(t, 1600-5*16, b.FW.Motor.Position())
	assert.EqualValues(t, b.FW.Motor.Position(), b.Carriage())

	reply = mustExchange(t, b, protocol.GetPosition{})
	assert.Zero(t, reply.Flags&protocol.StatusLimit2, "step-off should clear the switch")

	// The aborted move is what tripped; a new move toward the limit is allowed again
	reply = mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 1})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)
}

func TestLimitBlocksWithoutStepOff(t *testing.T) {
	opts := DefaultOptions()
	opts.Limit1Pos = -10 * 16
	b := newBoard(t, opts)

	mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 50, Reversed: true})
	b.Advance(time.Second)
	assert.EqualValues(t, -160, b.Carriage())

	reply := mustExchange(t, b, protocol.GetPosition{})
	assert.NotZero(t, reply.Flags&protocol.StatusLimit1)
	assert.NotZero(t, reply.Flags&protocol.StatusFailure)

	reply = mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 1, Reversed: true})
	assert.Equal(t, protocol.ResultBlockedByLimit, reply.Arg)

	// Driving off the switch needs ignore-limits
	reply = mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 2, IgnoreLimits: true})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)
	b.Advance(100 * time.Millisecond)
	assert.False(t, b.Pin(core.DefaultConfig().Pins.Limit1))
}

func TestDebounceSuppressesBounce(t *testing.T) {
	b := newBoard(t, DefaultOptions())
	limit := core.DefaultConfig().Pins.Limit1

	mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 100})
	b.Advance(5 * time.Millisecond)

	b.Bounce(limit, 8)
	b.Advance(20 * time.Millisecond)
	assert.True(t, b.FW.Motor.IsRunning(), "bounce must not stop the motor")

	debounces := 0
	for _, evt := range core.Events() {
		if evt.Type == core.EvtDebounce {
			debounces++
			assert.EqualValues(t, 0, evt.Value2)
		}
	}
	assert.Equal(t, 1, debounces)
}

func TestEStopLatch(t *testing.T) {
	b := newBoard(t, DefaultOptions())

	mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 100})
	b.Advance(20 * time.Millisecond)

	b.PressEStop()
	edges := b.StepEdges()
	assert.False(t, b.FW.Motor.IsRunning())
	assert.False(t, b.DriverEnabled())

	b.ReleaseEStop()
	b.Advance(100 * time.Millisecond)
	assert.Equal(t, edges, b.StepEdges())
	assert.Equal(t, core.MotorEStop, b.FW.Motor.State())

	reply := mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 1, IgnoreLimits: true})
	assert.Equal(t, protocol.ResultBlockedByEStop, reply.Arg)
	assert.NotZero(t, reply.Flags&protocol.StatusEStop)

	reply = mustExchange(t, b, protocol.EmergencyClear{})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)

	reply = mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 1})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)
	b.Advance(10 * time.Millisecond)
	assert.Equal(t, edges+1, b.StepEdges())
	assert.True(t, b.DriverEnabled())
}

func TestEStopClearedWhileHeld(t *testing.T) {
	b := newBoard(t, DefaultOptions())

	b.PressEStop()
	reply := mustExchange(t, b, protocol.EmergencyClear{})
	assert.Equal(t, protocol.ResultBlockedByEStop, reply.Arg)
	assert.NotZero(t, reply.Flags&protocol.StatusEStop)

	b.ReleaseEStop()
	b.Advance(time.Millisecond)
	reply = mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 1})
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)
	assert.Zero(t, reply.Flags&protocol.StatusEStop)

	b.Advance(10 * time.Millisecond)
	assert.EqualValues(t, 16, b.Carriage())
}

func TestLimit2AbortsMotion(t *testing.T) {
	opts := DefaultOptions()
	opts.Limit2Pos = 100 * 16
	b := newBoard(t, opts)

	reply := mustExchange(t, b, protocol.Relative{Size: protocol.StepFull, Count: 200})
	require.Equal(t, protocol.ResultSuccess, reply.Arg)

	b.Advance(time.Second)
	assert.False(t, b.FW.Motor.IsRunning())
	assert.True(t, b.FW.Motor.LastFailed())

	reply = mustExchange(t, b, protocol.GetPosition{})
	assert.EqualValues(t, 1600, reply.Int())
	assert.NotZero(t, reply.Flags&protocol.StatusLimit2)
	assert.Zero(t, reply.Flags&protocol.StatusLimit1)
	assert.NotZero(t, reply.Flags&protocol.StatusFailure)
}

func TestLEDClosedLoop(t *testing.T) {
	b := newBoard(t, DefaultOptions())

	mustExchange(t, b, protocol.LEDPID{Term: protocol.PIDProportional, Gain: 0.2})
	reply := mustExchange(t, b, protocol.LEDVoltage{Volts: 1.5})
	require.Equal(t, protocol.ResultSuccess, reply.Arg)

	b.Advance(500 * time.Millisecond)
	on, duty := b.LED()
	assert.True(t, on)
	assert.Greater(t, duty, float32(0))
	assert.Less(t, duty, float32(0.5))

	reply = mustExchange(t, b, protocol.LEDPWM{Duty: 0})
	assert.Zero(t, reply.Flags&protocol.StatusLEDOn)
	on, _ = b.LED()
	assert.False(t, on)
}

func TestHostTransportOverSimPort(t *testing.T) {
	b := newBoard(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	tr := protocol.NewHostTransport(b.Port())
	defer tr.Close()

	reply, err := tr.Transact(ctx, protocol.EncodeCommand(protocol.SetPosition{Position: -42}))
	require.NoError(t, err)
	assert.Equal(t, protocol.ResultSuccess, reply.Arg)

	reply, err = tr.Transact(ctx, protocol.EncodeCommand(protocol.GetPosition{}))
	require.NoError(t, err)
	assert.EqualValues(t, -42, reply.Int())
	assert.NotZero(t, reply.Flags&protocol.StatusCalibrated)
}
