//go:build !wasm

package serial

import (
	"fmt"

	"github.com/golang/glog"
	tarm "github.com/tarm/serial"
	bug "go.bug.st/serial"
	"go.uber.org/multierr"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *tarm.Port
	cfg  *Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{
		port: port,
		cfg:  cfg,
	}, nil
}

// Read reads data from the serial port. On timeout tarm returns io.EOF.
func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards buffered input and output
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// enumeratedPort is a port opened through go.bug.st/serial during discovery
type enumeratedPort struct {
	bug.Port
}

func (p enumeratedPort) Flush() error {
	return p.ResetInputBuffer()
}

// Discover opens each serial port on the system in turn and returns the first
// one probe accepts, together with its device name. Ports probe rejects are closed.
// When none is found the error wraps ErrNoPortFound and the reason for each port.
func Discover(cfg *Config, probe Probe) (Port, string, error) {
	if cfg == nil {
		cfg = DefaultConfig("")
	}
	names, err := bug.GetPortsList()
	if err != nil {
		return nil, "", fmt.Errorf("listing serial ports: %w", err)
	}

	var errs error
	mode := &bug.Mode{BaudRate: cfg.Baud}
	for _, name := range names {
		p, err := bug.Open(name, mode)
		if err != nil {
			glog.V(1).Infof("skipping %s: %v", name, err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if cfg.ReadTimeout > 0 {
			if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, multierr.Combine(err, p.Close())))
				continue
			}
		}

		glog.V(1).Infof("trying %q...", name)
		port := enumeratedPort{p}
		if err := probe(port); err != nil {
			glog.V(1).Infof("no controller on %s: %v", name, err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, multierr.Combine(err, p.Close())))
			continue
		}
		glog.Infof("found controller on %s", name)
		return port, name, nil
	}
	return nil, "", multierr.Append(ErrNoPortFound, errs)
}
