package core

// ADCChannelID identifies a logical ADC channel.
type ADCChannelID uint8

// ADCValue is the "raw" ADC reading as seen by the rest of the firmware.
// Convention here: 16-bit value, even if underlying hardware is 12 bits.
type ADCValue uint16

// ADCDriver is the abstract ADC interface a target provides.
type ADCDriver interface {
	// Init powers up and configures the ADC peripheral.
	Init(refMilliVolts uint32) error

	// ConfigureChannel prepares a channel for analog input.
	// For pin-muxed channels, this should set pin to analog mode.
	ConfigureChannel(ch ADCChannelID) error

	// ReadRaw performs a one-shot sample from the given channel.
	// Returns a 16-bit scaled value (e.g. 12-bit HW value left-shifted).
	ReadRaw(ch ADCChannelID) (ADCValue, error)
}

// NewADCDriverSensor initializes ch on d and returns a photosensor reading it
// at 12 bits. A failed read keeps the previous sample.
func NewADCDriverSensor(d ADCDriver, ch ADCChannelID, refMilliVolts uint32) (*ADCSensor, error) {
	if err := d.Init(refMilliVolts); err != nil {
		return nil, err
	}
	if err := d.ConfigureChannel(ch); err != nil {
		return nil, err
	}

	s := NewADCSensor(nil)
	s.Ref = float32(refMilliVolts) / 1000
	s.Read = func() uint16 {
		v, err := d.ReadRaw(ch)
		if err != nil {
			RecordEvent(EvtADCFault, int32(ch), 0)
			return s.raw
		}
		return uint16(v >> 4)
	}
	return s, nil
}
