package core

// Critical is a sync.Locker over the interrupt mask.
// Lock must not be called again before Unlock, and nothing that may block or
// call back into the controllers runs while it is held.
type Critical struct {
	state irqState
}

func (c *Critical) Lock() {
	c.state = disableInterrupts()
}

func (c *Critical) Unlock() {
	restoreInterrupts(c.state)
}
