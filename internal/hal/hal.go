// Package hal drives the physical valve outputs.
package hal

import (
	"errors"
	"fmt"
	"strings"

	logx "valvectl/pkg/logx"
)

// Config selects and wires a driver.
type Config struct {
	Driver    string // log (default) | raspi
	Channels  int
	Pins      []string
	ActiveLow bool
}

// Driver is an irrigation.Actuator that can report and release its outputs.
type Driver interface {
	SetChannelOutput(channel int, on bool) error
	// States reports the logical output of every channel, index 0 = channel 1.
	States() []bool
	// Close drives every output off and releases the hardware.
	Close() error
}

var ErrChannel = errors.New("channel out of range")

func Open(cfg Config, log logx.Logger) (Driver, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("outputs: channels must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return NewLogDriver(cfg.Channels, log), nil
	case "raspi":
		if len(cfg.Pins) != cfg.Channels {
			return nil, fmt.Errorf("outputs: %d pins for %d channels", len(cfg.Pins), cfg.Channels)
		}
		return openRaspi(cfg, log)
	default:
		return nil, fmt.Errorf("outputs: unknown driver %q", cfg.Driver)
	}
}

func checkChannel(ch, n int) error {
	if ch < 1 || ch > n {
		return fmt.Errorf("%w: %d not in 1..%d", ErrChannel, ch, n)
	}
	return nil
}
