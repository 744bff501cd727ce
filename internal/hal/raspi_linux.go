//go:build linux

package hal

import (
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/raspi"

	logx "valvectl/pkg/logx"
)

// raspiDriver switches one relay per channel on the Raspberry Pi header.
type raspiDriver struct {
	log       logx.Logger
	robot     *gobot.Robot
	activeLow bool

	mu     sync.Mutex
	relays []*gpio.RelayDriver
	states []bool
}

func openRaspi(cfg Config, log logx.Logger) (Driver, error) {
	log = log.With(logx.String("comp", "hal"), logx.String("driver", "raspi"))

	adaptor := raspi.NewAdaptor()
	relays := make([]*gpio.RelayDriver, len(cfg.Pins))
	devices := make([]gobot.Device, len(cfg.Pins))
	for i, pin := range cfg.Pins {
		relays[i] = gpio.NewRelayDriver(adaptor, pin)
		devices[i] = relays[i]
	}

	robot := gobot.NewRobot("valvectl",
		[]gobot.Connection{adaptor},
		devices,
	)
	if err := robot.Start(false); err != nil {
		return nil, fmt.Errorf("outputs: start raspi: %w", err)
	}

	d := &raspiDriver{
		log:       log,
		robot:     robot,
		activeLow: cfg.ActiveLow,
		relays:    relays,
		states:    make([]bool, len(relays)),
	}
	for ch := 1; ch <= len(relays); ch++ {
		if err := d.SetChannelOutput(ch, false); err != nil {
			_ = robot.Stop()
			return nil, err
		}
	}
	log.Info("raspi outputs ready", logx.Any("pins", cfg.Pins), logx.Bool("active_low", cfg.ActiveLow))
	return d, nil
}

func (d *raspiDriver) SetChannelOutput(ch int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkChannel(ch, len(d.relays)); err != nil {
		return err
	}
	r := d.relays[ch-1]
	var err error
	// active-low boards energize the coil on a low pin
	if on != d.activeLow {
		err = r.On()
	} else {
		err = r.Off()
	}
	if err != nil {
		return fmt.Errorf("relay %d: %w", ch, err)
	}
	d.states[ch-1] = on
	return nil
}

func (d *raspiDriver) States() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.states...)
}

func (d *raspiDriver) Close() error {
	var first error
	for ch := 1; ch <= len(d.relays); ch++ {
		if err := d.SetChannelOutput(ch, false); err != nil && first == nil {
			first = err
		}
	}
	if err := d.robot.Stop(); err != nil && first == nil {
		first = err
	}
	return first
}
