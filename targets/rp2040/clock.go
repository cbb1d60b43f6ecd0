//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"stagefw/core"
)

// RP2040/RP2350 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// sched runs the step, LED and debounce timers off the hardware counter
var sched core.Scheduler

// GetHardwareTime reads the RP2040 hardware timer
// Returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime runs every soft timer that is due.
// Called from the main loop.
func UpdateSystemTime() {
	sched.Advance(GetHardwareTime())
}

// busyWait spins on the hardware counter for us microseconds
func busyWait(us uint32) {
	start := GetHardwareTime()
	for GetHardwareTime()-start < us {
	}
}
