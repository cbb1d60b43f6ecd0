// Package sim runs the controller firmware against a simulated board.
//
// Every peripheral is driven from one core.Scheduler on a simulated
// microsecond clock, so a test can advance time deterministically and
// observe exactly what the hardware would have done. The carriage is modelled
// from the STEP/DIR/ENABLE/MS outputs alone, independent of the firmware's
// own position count, and trips the limit inputs when it reaches their
// positions.
package sim

import (
	"context"
	"sync"
	"time"

	"stagefw/core"
)

// Options describe the simulated hardware
type Options struct {
	// Limit positions in sixteenth steps. Limit1 trips at or below
	// Limit1Pos, Limit2 at or above Limit2Pos. Disabled when equal.
	Limit1Pos int32
	Limit2Pos int32

	// LightMaxVolts is the photosensor voltage at full duty
	LightMaxVolts float32
	// AmbientVolts is added to the photosensor reading
	AmbientVolts float32

	// Speed is simulated time per real time for Run
	Speed float64
}

// DefaultOptions returns a stage with 200 mm of travel either side of zero
// (at 16 sixteenths per full step and 200 steps per mm)
func DefaultOptions() Options {
	return Options{
		Limit1Pos:     -100000,
		Limit2Pos:     100000,
		LightMaxVolts: 3.0,
		Speed:         1,
	}
}

// Board is a simulated controller board with the firmware running on it.
// Its methods are safe for concurrent use.
type Board struct {
	mu sync.Mutex

	cfg  core.Config
	opts Options

	sched core.Scheduler
	now   uint32 // simulated µs

	pins    [256]bool
	changed []core.Pin // input edges waiting for the pin change interrupt

	carriage int32 // physical position, sixteenth steps
	edges    uint32
	settleUS uint64

	stepTimer *periodicTimer
	ledTimer  *periodicTimer
	debounce  *oneShot
	pwm       pwm
	link      *link

	FW *core.Firmware
}

// New builds a board and boots the firmware on it
func New(cfg core.Config, opts Options) *Board {
	b := &Board{cfg: cfg, opts: opts, link: newLink()}

	b.stepTimer = &periodicTimer{b: b, clockHz: cfg.StepTimerClockHz, period: 1}
	b.ledTimer = &periodicTimer{b: b, clockHz: cfg.StepTimerClockHz, period: 1}
	b.debounce = &oneShot{b: b}

	// Inputs idle at their inactive level
	for _, p := range []core.Pin{cfg.Pins.Limit1, cfg.Pins.Limit2, cfg.Pins.EStop} {
		b.pins[p] = cfg.SwitchesActiveLow
	}

	b.FW = core.New(cfg, core.Board{
		GPIO:      (*gpio)(b),
		StepTimer: b.stepTimer,
		LEDTimer:  b.ledTimer,
		Debounce:  b.debounce,
		LED:       &b.pwm,
		Sensor:    core.NewADCSensor(b.readADC),
		UART:      &uart{l: b.link},
		Delay:     func(us uint32) { b.settleUS += uint64(us) },
	})
	b.stepTimer.onTick = b.FW.OnMotorTick
	b.ledTimer.onTick = b.FW.OnLEDTick

	// Start inside the travel
	b.updateLimits()
	b.changed = b.changed[:0]
	return b
}

// Port returns the host end of the serial line
func (b *Board) Port() *Port {
	return &Port{l: b.link}
}

// Now returns the simulated time
func (b *Board) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.now) * time.Microsecond
}

// Advance runs the board for d of simulated time. The main loop runs at
// every timer event, so a frame written to the port is answered on the next
// Advance.
func (b *Board) Advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.now + uint32(d/time.Microsecond)
	for {
		b.mainLoop()
		next, ok := b.sched.NextWake()
		if !ok || int32(next-end) > 0 {
			break
		}
		b.now = next
		b.sched.Advance(next)
	}
	b.now = end
	b.sched.Advance(end)
	b.mainLoop()
}

func (b *Board) mainLoop() {
	b.FW.PumpUART()
	for b.FW.Poll() {
	}
}

// Run advances the board in real time, scaled by Options.Speed, until ctx is done
func (b *Board) Run(ctx context.Context) error {
	const step = time.Millisecond
	speed := b.opts.Speed
	if speed <= 0 {
		speed = 1
	}

	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Advance(time.Duration(float64(step) * speed))
		}
	}
}

// Carriage returns the physical position in sixteenth steps
func (b *Board) Carriage() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.carriage
}

// StepEdges returns the number of rising edges seen on the step output
func (b *Board) StepEdges() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.edges
}

// Pin returns the level of a board line
func (b *Board) Pin(p core.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[p]
}

// DriverEnabled reports whether the motor driver is energized
func (b *Board) DriverEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.driverEnabled()
}

func (b *Board) driverEnabled() bool {
	return b.pins[b.cfg.Pins.Enable] != b.cfg.EnableActiveLow
}

// LED returns the PWM state
func (b *Board) LED() (on bool, duty float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pwm.running, b.pwm.duty
}

// SetInput drives a switch input to its active or inactive level and raises
// the pin change interrupt
func (b *Board) SetInput(p core.Pin, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setInput(p, active)
	b.flushPinChanges()
}

// PressEStop asserts the e-stop input
func (b *Board) PressEStop() { b.SetInput(b.cfg.Pins.EStop, true) }

// ReleaseEStop deasserts the e-stop input
func (b *Board) ReleaseEStop() { b.SetInput(b.cfg.Pins.EStop, false) }

// Bounce toggles a switch input n times without waiting in between, ending inactive
func (b *Board) Bounce(p core.Pin, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.setInput(p, true)
		b.flushPinChanges()
		b.setInput(p, false)
		b.flushPinChanges()
	}
}

func (b *Board) setInput(p core.Pin, active bool) {
	level := active != b.cfg.SwitchesActiveLow
	if b.pins[p] == level {
		return
	}
	b.pins[p] = level
	b.changed = append(b.changed, p)
}

// flushPinChanges runs the pin change interrupt for queued edges.
// It must run after the interrupt that caused them has returned.
func (b *Board) flushPinChanges() {
	for len(b.changed) > 0 {
		p := b.changed[0]
		b.changed = b.changed[1:]
		b.FW.OnPinChange(p)
	}
}

// onStepEdge moves the carriage on a rising step edge
func (b *Board) onStepEdge() {
	b.edges++
	if !b.driverEnabled() {
		return
	}
	var sel uint8
	if b.pins[b.cfg.Pins.MS1] {
		sel |= 1
	}
	if b.pins[b.cfg.Pins.MS2] {
		sel |= 2
	}
	if b.pins[b.cfg.Pins.MS3] {
		sel |= 4
	}
	d := microstepDistance(sel)
	if b.pins[b.cfg.Pins.Dir] {
		d = -d
	}
	b.carriage += d
	b.updateLimits()
}

// microstepDistance is the carriage travel per step for an MS1..MS3 setting
func microstepDistance(sel uint8) int32 {
	switch sel {
	case 0:
		return 16
	case 1:
		return 8
	case 2:
		return 4
	case 3:
		return 2
	case 7:
		return 1
	}
	// Reserved settings behave as sixteenth steps on the reference driver
	return 1
}

func (b *Board) updateLimits() {
	if b.opts.Limit1Pos == b.opts.Limit2Pos {
		return
	}
	b.setInput(b.cfg.Pins.Limit1, b.carriage <= b.opts.Limit1Pos)
	b.setInput(b.cfg.Pins.Limit2, b.carriage >= b.opts.Limit2Pos)
}

// readADC samples the photosensor: 12-bit, 3.3 V reference
func (b *Board) readADC() uint16 {
	var v float32
	if b.pwm.running {
		v = b.pwm.duty * b.opts.LightMaxVolts
	}
	v += b.opts.AmbientVolts
	raw := v / 3.3 * 4096
	switch {
	case raw < 0:
		return 0
	case raw > 4095:
		return 4095
	}
	return uint16(raw)
}

// gpio is the Board seen as core.GPIO. Calls arrive with b.mu held.
type gpio Board

func (g *gpio) SetPin(p core.Pin, high bool) {
	b := (*Board)(g)
	rising := high && !b.pins[p]
	b.pins[p] = high
	if rising && p == b.cfg.Pins.Step {
		b.onStepEdge()
	}
}

func (g *gpio) ReadPin(p core.Pin) bool {
	return g.pins[p]
}

// periodicTimer is a hardware timer on the simulated clock
type periodicTimer struct {
	b       *Board
	clockHz uint32
	period  uint32 // µs
	running bool
	gen     uint32
	timer   core.Timer
	onTick  func()
}

func (t *periodicTimer) Configure(prescaler, period uint32) {
	t.period = core.TimerPeriodUS(t.clockHz, prescaler, period)
	if t.period == 0 {
		t.period = 1
	}
}

func (t *periodicTimer) Start() {
	if t.running {
		return
	}
	t.running = true
	t.gen++
	t.timer.Handler = t.fire
	t.timer.WakeTime = t.b.sched.Now() + t.period
	t.b.sched.Schedule(&t.timer)
}

func (t *periodicTimer) Stop() {
	t.running = false
	t.gen++
	t.b.sched.Cancel(&t.timer)
}

func (t *periodicTimer) fire(tm *core.Timer) uint8 {
	gen := t.gen
	t.onTick()
	t.b.flushPinChanges()
	// Stopped, or stopped and restarted, during the tick
	if !t.running || t.gen != gen {
		return core.SF_DONE
	}
	tm.WakeTime += t.period
	return core.SF_RESCHEDULE
}

// oneShot is the debounce timer
type oneShot struct {
	b     *Board
	timer core.Timer
}

func (o *oneShot) Arm(ms uint32) {
	o.timer.Handler = o.fire
	o.timer.WakeTime = o.b.sched.Now() + core.TimerFromMS(ms)
	o.b.sched.Schedule(&o.timer)
}

func (o *oneShot) Cancel() {
	o.b.sched.Cancel(&o.timer)
}

func (o *oneShot) fire(*core.Timer) uint8 {
	o.b.FW.OnDebounceTimer()
	o.b.flushPinChanges()
	return core.SF_DONE
}

// pwm is the LED output channel
type pwm struct {
	running bool
	duty    float32
}

func (p *pwm) Start()               { p.running = true }
func (p *pwm) Stop()                { p.running = false }
func (p *pwm) SetDuty(duty float32) { p.duty = duty }
