package serial

import (
	"errors"
	"io"
	"time"
)

var ErrNoPortFound = errors.New("serial: no controller found on any port")

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Enumerated ports opened during discovery (go.bug.st/serial)
// - The board simulator's pipe (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate of the controller UART
	Baud int

	// ReadTimeout bounds a single Read (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultConfig returns the controller's link settings on device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Probe checks whether a freshly opened port has a controller on it
type Probe func(p Port) error
