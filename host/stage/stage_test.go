package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagefw/core"
	"stagefw/protocol"
	"stagefw/sim"
)

func newSimStage(t *testing.T, opts sim.Options) (*Stage, *sim.Board) {
	t.Helper()
	opts.Speed = 20
	b := sim.New(core.DefaultConfig(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	s := New(b.Port())
	t.Cleanup(func() {
		s.Close()
		cancel()
	})
	return s, b
}

func TestStatusFromFlags(t *testing.T) {
	st := StatusFromFlags(protocol.StatusLimit2 | protocol.StatusRunning | protocol.StatusCalibrated)
	assert.Equal(t, Status{Limit2: true, Running: true, Calibrated: true}, st)
	assert.Contains(t, st.String(), "LIMIT 2: ON")
	assert.Contains(t, st.String(), "LED: OFF")
}

func TestRelativeAndWait(t *testing.T) {
	s, b := newSimStage(t, sim.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, s.Relative(ctx, -200, protocol.StepFull, false))
	assert.True(t, s.Status().Running)

	require.NoError(t, s.Wait(ctx, 5*time.Second, 5*time.Millisecond, true))
	pos, err := s.Position(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, -3200, pos)
	assert.EqualValues(t, -3200, b.Carriage())
}

func TestRejectedRequests(t *testing.T) {
	s, _ := newSimStage(t, sim.DefaultOptions())
	ctx := context.Background()

	err := s.Relative(ctx, 10, protocol.StepSize(6), false)
	assert.ErrorIs(t, err, ErrInvalidStepSize)

	require.NoError(t, s.Relative(ctx, 1000, protocol.StepFull, false))
	assert.ErrorIs(t, s.Speed(ctx, 100), ErrBusy)
	assert.ErrorIs(t, s.Relative(ctx, 1, protocol.StepFull, false), ErrBusy)
	require.NoError(t, s.Stop(ctx))

	assert.ErrorIs(t, s.LEDPWM(ctx, 1.5), ErrOutOfRange)
	assert.ErrorIs(t, s.LEDVoltage(ctx, 3.4), ErrOutOfRange)
	assert.ErrorIs(t, s.LEDVoltage(ctx, -0.1), ErrOutOfRange)
}

func TestWaitTimeoutStopsMotion(t *testing.T) {
	s, _ := newSimStage(t, sim.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, s.Relative(ctx, 50000, protocol.StepFull, false))
	err := s.Wait(ctx, 50*time.Millisecond, 5*time.Millisecond, true)
	assert.ErrorIs(t, err, ErrMotionTimeout)

	st, err := s.Idle(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
}

func TestHomeHitsLimit(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Limit2Pos = 40 * 16
	s, _ := newSimStage(t, opts)
	ctx := context.Background()

	require.NoError(t, s.Home(ctx, true, protocol.StepFull))
	err := s.Wait(ctx, 5*time.Second, 5*time.Millisecond, true)
	assert.ErrorIs(t, err, ErrLimitHit)
	assert.True(t, s.Status().Limit2)

	pos, err := s.Position(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 640, pos)

	// Any active limit blocks a move unless limits are ignored
	assert.ErrorIs(t, s.Home(ctx, false, protocol.StepFull), ErrBlockedByLimit)
	require.NoError(t, s.Relative(ctx, -5, protocol.StepFull, true))
	require.NoError(t, s.Wait(ctx, 5*time.Second, 5*time.Millisecond, true))
	assert.False(t, s.Status().Limit2)
}

func TestEmergencyStopAndSettings(t *testing.T) {
	s, b := newSimStage(t, sim.DefaultOptions())
	ctx := context.Background()

	require.NoError(t, s.EmergencyStop(ctx))
	assert.True(t, s.Status().EStop)
	assert.ErrorIs(t, s.Relative(ctx, 1, protocol.StepFull, true), ErrBlockedByEStop)
	require.NoError(t, s.EmergencyClear(ctx))

	require.NoError(t, s.SetPosition(ctx, 1234))
	assert.True(t, s.Status().Calibrated)
	require.NoError(t, s.Absolute(ctx, 1234+64, protocol.StepQuarter, false))
	require.NoError(t, s.Wait(ctx, 5*time.Second, 5*time.Millisecond, true))
	pos, err := s.Position(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1298, pos)

	require.NoError(t, s.Debounce(ctx, 25*time.Millisecond))
	assert.EqualValues(t, 25, b.FW.Switches.Debounce())
	require.NoError(t, s.StepOff(ctx, protocol.StepHalf, 4))

	require.NoError(t, s.LEDGain(ctx, protocol.PIDDerivative, 0.05))
	require.NoError(t, s.LEDPWM(ctx, 0.5))
	assert.True(t, s.Status().LED)
}

func TestProbe(t *testing.T) {
	b := sim.New(core.DefaultConfig(), sim.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	port := b.Port()
	defer port.Close()
	require.NoError(t, Probe(port, time.Second))
}
