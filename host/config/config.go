// Package config loads the stagectl TOML configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"stagefw/host/serial"
	"stagefw/protocol"
	"stagefw/sim"
)

var (
	ErrUnknownKeys = errors.New("config: unknown keys")
	ErrInvalid     = errors.New("config: invalid value")
)

// Config is the stagectl configuration file
type Config struct {
	Serial Serial `toml:"serial"`
	Stage  Stage  `toml:"stage"`
	Sim    Sim    `toml:"sim"`
}

// Serial selects the controller port. An empty device is discovered.
type Serial struct {
	Device      string        `toml:"device"`
	Baud        int           `toml:"baud"`
	ReadTimeout time.Duration `toml:"read_timeout"`
}

// Stage holds client defaults
type Stage struct {
	ReplyTimeout    time.Duration `toml:"reply_timeout"`
	StepSize        int           `toml:"step_size"` // divisor: 1, 2, 4, 8 or 16
	WaitGranularity time.Duration `toml:"wait_granularity"`
	Speed           uint32        `toml:"speed"` // steps per second sent at connect, 0 keeps the firmware default
}

// Sim configures the simulated board used with -sim
type Sim struct {
	Limit1        int32   `toml:"limit_1"`
	Limit2        int32   `toml:"limit_2"`
	LightMaxVolts float32 `toml:"light_max_volts"`
	AmbientVolts  float32 `toml:"ambient_volts"`
	Speed         float64 `toml:"speed"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	sc := serial.DefaultConfig("")
	so := sim.DefaultOptions()
	return Config{
		Serial: Serial{
			Baud:        sc.Baud,
			ReadTimeout: sc.ReadTimeout,
		},
		Stage: Stage{
			ReplyTimeout:    time.Second,
			StepSize:        8,
			WaitGranularity: 100 * time.Millisecond,
		},
		Sim: Sim{
			Limit1:        so.Limit1Pos,
			Limit2:        so.Limit2Pos,
			LightMaxVolts: so.LightMaxVolts,
			AmbientVolts:  so.AmbientVolts,
			Speed:         so.Speed,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w in %q: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var err error
	if c.Serial.Baud <= 0 {
		err = multierr.Append(err, invalid("serial.baud %d", c.Serial.Baud))
	}
	if c.Serial.ReadTimeout < 0 {
		err = multierr.Append(err, invalid("serial.read_timeout %v", c.Serial.ReadTimeout))
	}
	if c.Stage.ReplyTimeout <= 0 {
		err = multierr.Append(err, invalid("stage.reply_timeout %v", c.Stage.ReplyTimeout))
	}
	if _, ok := protocol.StepSizeFromDivisor(c.Stage.StepSize); !ok {
		err = multierr.Append(err, invalid("stage.step_size %d (want 1, 2, 4, 8 or 16)", c.Stage.StepSize))
	}
	if c.Stage.WaitGranularity <= 0 {
		err = multierr.Append(err, invalid("stage.wait_granularity %v", c.Stage.WaitGranularity))
	}
	if c.Sim.Limit1 > c.Sim.Limit2 {
		err = multierr.Append(err, invalid("sim.limit_1 %d above sim.limit_2 %d", c.Sim.Limit1, c.Sim.Limit2))
	}
	if c.Sim.LightMaxVolts < 0 || c.Sim.AmbientVolts < 0 {
		err = multierr.Append(err, invalid("sim light model volts must not be negative"))
	}
	if c.Sim.Speed <= 0 {
		err = multierr.Append(err, invalid("sim.speed %v", c.Sim.Speed))
	}
	return err
}

// SerialConfig converts the [serial] section
func (c Config) SerialConfig() *serial.Config {
	return &serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: c.Serial.ReadTimeout,
	}
}

// SimOptions converts the [sim] section
func (c Config) SimOptions() sim.Options {
	return sim.Options{
		Limit1Pos:     c.Sim.Limit1,
		Limit2Pos:     c.Sim.Limit2,
		LightMaxVolts: c.Sim.LightMaxVolts,
		AmbientVolts:  c.Sim.AmbientVolts,
		Speed:         c.Sim.Speed,
	}
}

// StepSize returns the default step size
func (c Config) StepSize() protocol.StepSize {
	s, _ := protocol.StepSizeFromDivisor(c.Stage.StepSize)
	return s
}
