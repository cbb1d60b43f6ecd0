package core

// Step timer defaults for the STM32F1 board the controller ships on
const (
	TimerClockHz  = 72000000 // APB1 timer clock
	TicksPerStep  = 4        // rising, high hold, falling, low hold
	TimerMaxCount = 1 << 16  // 16-bit prescaler and auto-reload
	DefaultStepHz = 500
)

// TimerSettings computes prescaler and auto-reload register values for a
// timer interrupting at tickHz. The prescaler is kept as small as possible for
// the finest period resolution. It returns ok=false when tickHz cannot be
// reached with 16-bit registers.
func TimerSettings(clockHz, tickHz uint32) (prescaler, period uint32, ok bool) {
	if tickHz == 0 || clockHz == 0 {
		return 0, 0, false
	}
	divider := uint64(clockHz) / uint64(tickHz)
	if divider < 2 {
		return 0, 0, false
	}

	psc := (divider + TimerMaxCount - 1) / TimerMaxCount
	if psc > TimerMaxCount {
		return 0, 0, false
	}
	arr := (divider + psc/2) / psc
	return uint32(psc - 1), uint32(arr - 1), true
}

// StepTimerSettings returns the register values for TicksPerStep interrupts per step at stepHz
func StepTimerSettings(clockHz, stepHz uint32) (prescaler, period uint32, ok bool) {
	if stepHz == 0 || uint64(stepHz)*TicksPerStep > 0xFFFFFFFF {
		return 0, 0, false
	}
	return TimerSettings(clockHz, stepHz*TicksPerStep)
}

// TimerPeriodUS returns the interrupt interval of a timer loaded with prescaler and period
func TimerPeriodUS(clockHz, prescaler, period uint32) uint32 {
	if clockHz == 0 {
		return 0
	}
	return uint32(uint64(prescaler+1) * uint64(period+1) * 1000000 / uint64(clockHz))
}

// TimerFromMS converts milliseconds to ticks of a 1 MHz clock
func TimerFromMS(ms uint32) uint32 {
	return ms * 1000
}
