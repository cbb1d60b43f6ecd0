package core

// PWMPin identifies a hardware pin capable of PWM output
type PWMPin uint32

// PWMValue is the duty cycle value (0 to GetMaxValue)
type PWMValue uint32

// PWMDriver is the slice-level PWM interface a target provides.
// PWMOutput turns one of its pins into the LED channel.
type PWMDriver interface {
	// ConfigureHardwarePWM configures a pin for hardware PWM output
	// cycleTicks: PWM period in 1 MHz timer ticks
	// Returns the actual cycle ticks used (may be adjusted for hardware constraints)
	ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error)

	// SetDutyCycle sets the PWM duty cycle for a pin
	// value: 0 (fully off) to GetMaxValue() (fully on)
	SetDutyCycle(pin PWMPin, value PWMValue) error

	// GetMaxValue returns the value for a fully on output
	GetMaxValue() uint32

	// DisablePWM stops the output on a pin
	DisablePWM(pin PWMPin) error
}

// PWMOutput drives the LED from one PWMDriver pin
type PWMOutput struct {
	driver     PWMDriver
	pin        PWMPin
	cycleTicks uint32

	duty       float32
	configured bool
	running    bool
}

// NewPWMOutput creates an LED channel on pin with a period of cycleTicks µs
func NewPWMOutput(d PWMDriver, pin PWMPin, cycleTicks uint32) *PWMOutput {
	return &PWMOutput{driver: d, pin: pin, cycleTicks: cycleTicks}
}

// Start enables the output at the current duty cycle
func (p *PWMOutput) Start() {
	if !p.configured {
		if _, err := p.driver.ConfigureHardwarePWM(p.pin, p.cycleTicks); err != nil {
			RecordEvent(EvtPWMFault, int32(p.pin), 0)
			return
		}
		p.configured = true
	}
	p.running = true
	p.write()
}

// Stop forces the output off
func (p *PWMOutput) Stop() {
	p.running = false
	if p.configured {
		p.driver.SetDutyCycle(p.pin, 0)
	}
}

func (p *PWMOutput) SetDuty(duty float32) {
	p.duty = duty
	if p.running {
		p.write()
	}
}

func (p *PWMOutput) write() {
	if err := p.driver.SetDutyCycle(p.pin, p.value()); err != nil {
		RecordEvent(EvtPWMFault, int32(p.pin), 1)
	}
}

// value scales the duty to the driver range, rounding to nearest
func (p *PWMOutput) value() PWMValue {
	max := p.driver.GetMaxValue()
	switch {
	case p.duty <= 0:
		return 0
	case p.duty >= 1:
		return PWMValue(max)
	}
	return PWMValue(p.duty*float32(max) + 0.5)
}
