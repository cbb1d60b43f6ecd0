package core

// Pins assigns board lines to controller functions
type Pins struct {
	Step      Pin
	Dir       Pin
	Enable    Pin
	MS1       Pin
	MS2       Pin
	MS3       Pin
	Limit1    Pin
	Limit2    Pin
	EStop     Pin
	Heartbeat Pin
}

// Config holds the firmware build-time settings
type Config struct {
	Pins Pins

	// EnableActiveLow drives the driver enable pin low to energize the motor
	EnableActiveLow bool

	// SwitchesActiveLow inverts limit and e-stop inputs (normally-closed wiring)
	SwitchesActiveLow bool

	// SettleDelayUS is the busy-wait after programming step size and direction
	SettleDelayUS uint32

	// DebounceMS is the initial limit switch debounce window
	DebounceMS uint32

	// StepTimerClockHz is the input clock of the step timer
	StepTimerClockHz uint32

	// StepHz is the initial step rate
	StepHz uint32

	// LEDTickHz is the closed-loop correction rate
	LEDTickHz uint32

	// Initial LED loop gains
	KP, KI, KD float32

	// RxBufferSize is the byte-mode receive ring size
	RxBufferSize int
}

// DefaultConfig returns the settings of the reference board
func DefaultConfig() Config {
	return Config{
		Pins: Pins{
			Step:      1,
			Dir:       2,
			Enable:    3,
			MS1:       4,
			MS2:       5,
			MS3:       6,
			Limit1:    7,
			Limit2:    8,
			EStop:     9,
			Heartbeat: 10,
		},
		EnableActiveLow:  true,
		SettleDelayUS:    1000,
		DebounceMS:       10,
		StepTimerClockHz: TimerClockHz,
		StepHz:           DefaultStepHz,
		LEDTickHz:        100,
		KP:               1,
		RxBufferSize:     64,
	}
}
