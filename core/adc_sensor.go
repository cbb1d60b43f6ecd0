package core

import (
	"errors"

	"tinygo.org/x/drivers"
)

var ErrNoADC = errors.New("photosensor: no ADC reader")

// ADCSensor adapts a raw ADC channel into a Photosensor.
// Read returns a right-aligned sample of Bits resolution.
type ADCSensor struct {
	Read func() uint16
	Bits uint8
	Ref  float32

	raw uint16
}

// NewADCSensor creates a 12-bit, 3.3 V reference sensor over read
func NewADCSensor(read func() uint16) *ADCSensor {
	return &ADCSensor{Read: read, Bits: 12, Ref: 3.3}
}

// Update samples the ADC when voltage is requested
func (s *ADCSensor) Update(which drivers.Measurement) error {
	if which&drivers.Voltage == 0 {
		return nil
	}
	if s.Read == nil {
		return ErrNoADC
	}
	s.raw = s.Read()
	return nil
}

// Raw returns the last sample
func (s *ADCSensor) Raw() uint16 {
	return s.raw
}

// Volts converts the last sample: raw / 2^Bits * Ref
func (s *ADCSensor) Volts() float32 {
	return float32(s.raw) / float32(uint32(1)<<s.Bits) * s.Ref
}
