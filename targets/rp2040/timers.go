//go:build rp2040 || rp2350

package main

import "stagefw/core"

// periodicTimer is a core.PeriodicTimer on the soft scheduler.
// Start and Stop may be called from the tick itself or from a pin interrupt.
type periodicTimer struct {
	period  uint32 // µs
	running bool
	gen     uint32
	timer   core.Timer
	onTick  func()
}

func newPeriodicTimer(onTick func()) *periodicTimer {
	t := &periodicTimer{period: 1, onTick: onTick}
	t.timer.Handler = t.fire
	return t
}

func (t *periodicTimer) Configure(prescaler, period uint32) {
	t.period = core.TimerPeriodUS(1000000, prescaler, period)
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
	t.timer.WakeTime = GetHardwareTime() + t.period
	sched.Schedule(&t.timer)
}

func (t *periodicTimer) Stop() {
	t.running = false
	t.gen++
	sched.Cancel(&t.timer)
}

func (t *periodicTimer) fire(tm *core.Timer) uint8 {
	gen := t.gen
	t.onTick()
	if !t.running || t.gen != gen {
		return core.SF_DONE
	}
	tm.WakeTime += t.period
	return core.SF_RESCHEDULE
}

// oneShot is the debounce timer
type oneShot struct {
	timer    core.Timer
	onExpire func()
}

func newOneShot(onExpire func()) *oneShot {
	o := &oneShot{onExpire: onExpire}
	o.timer.Handler = o.fire
	return o
}

func (o *oneShot) Arm(ms uint32) {
	o.timer.WakeTime = GetHardwareTime() + core.TimerFromMS(ms)
	sched.Schedule(&o.timer)
}

func (o *oneShot) Cancel() {
	sched.Cancel(&o.timer)
}

func (o *oneShot) fire(*core.Timer) uint8 {
	o.onExpire()
	return core.SF_DONE
}
