package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a controller event for post-mortem analysis
type Event struct {
	Type   uint8
	Value1 int32
	Value2 int32
}

// Event type codes
const (
	EvtFrameAccepted = 1  // opcode, argument
	EvtFrameRejected = 2  // opcode, result
	EvtMotionStart   = 3  // count, step distance
	EvtMotionDone    = 4  // position, 1 on failure
	EvtLimitTrip     = 5  // pin, position
	EvtEStop         = 6  // 1 latched / 0 cleared
	EvtStepOff       = 7  // count, step distance
	EvtDebounce      = 8  // pin, 1 when confirmed
	EvtPanic         = 9  // opcode (-1 for the main loop), main loop panic count
	EvtPWMFault      = 10 // pin, 0 configure / 1 duty
	EvtADCFault      = 11 // channel
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var eventNames = [...]string{
	EvtFrameAccepted: "FRAME",
	EvtFrameRejected: "REJECT",
	EvtMotionStart:   "MOVE",
	EvtMotionDone:    "DONE",
	EvtLimitTrip:     "LIMIT",
	EvtEStop:         "ESTOP",
	EvtStepOff:       "STEPOFF",
	EvtDebounce:      "DEBOUNCE",
	EvtPanic:         "PANIC",
	EvtPWMFault:      "PWM",
	EvtADCFault:      "ADC",
}

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether DebugPrintln output is active
	debugEnabled bool

	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventCS       Critical
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer.
// Never call it from interrupt context; use RecordEvent there.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordEvent captures an event in the ring buffer.
// It is non-blocking and safe from interrupt handlers.
func RecordEvent(eventType uint8, value1, value2 int32) {
	eventCS.Lock()
	idx := eventRingHead
	eventRing[idx] = Event{Type: eventType, Value1: value1, Value2: value2}
	eventRingHead = (idx + 1) % EventRingSize
	eventCS.Unlock()
}

// Events returns the recorded events, oldest first
func Events() []Event {
	eventCS.Lock()
	defer eventCS.Unlock()

	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(eventRingHead+i)%EventRingSize]
		if evt.Type != 0 {
			out = append(out, evt)
		}
	}
	return out
}

// EventName returns the short label of an event type
func EventName(eventType uint8) string {
	if int(eventType) < len(eventNames) && eventNames[eventType] != "" {
		return eventNames[eventType]
	}
	return "UNKNOWN"
}

// DumpEvents writes the event ring through the debug writer
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + EventName(evt.Type) +
			" v1=" + itoa(int(evt.Value1)) +
			" v2=" + itoa(int(evt.Value2)))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	eventCS.Lock()
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
	eventCS.Unlock()
}
