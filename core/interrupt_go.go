//go:build !tinygo

package core

import "sync"

// irqState is a placeholder for the saved interrupt mask on regular Go
type irqState uintptr

// hostIRQ stands in for the interrupt mask when simulated interrupts run on
// goroutines. Critical sections never nest, so a plain mutex is enough.
var hostIRQ sync.Mutex

// disableInterrupts enters the critical section
func disableInterrupts() irqState {
	hostIRQ.Lock()
	return 0
}

// restoreInterrupts leaves the critical section
func restoreInterrupts(state irqState) {
	hostIRQ.Unlock()
}
