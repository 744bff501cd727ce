package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "valvectl/pkg/logx"
)

const (
	maxChannels  = 16
	maxSchedules = 64
)

// Validate checks structure and value ranges. Anything that needs domain
// parsing (weekday masks) is checked again when the app maps the config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}

	ctl := c.Controller
	if ctl.Channels < 0 || ctl.Channels > maxChannels {
		add(fmt.Errorf("controller.channels: must be within 1..%d", maxChannels))
	}
	if ctl.MaxSchedules < 0 || ctl.MaxSchedules > maxSchedules {
		add(fmt.Errorf("controller.max_schedules: must be within 1..%d", maxSchedules))
	}
	_, err := ParseDurationField("controller.safety_timeout", ctl.SafetyTimeout)
	add(err)
	_, err = ParseDurationField("controller.check_interval", ctl.CheckInterval)
	add(err)
	_, err = ParseDurationField("controller.tick", ctl.Tick)
	add(err)
	if tz := strings.TrimSpace(ctl.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("controller.timezone: %w", err))
		}
	}
	for i, s := range ctl.SeedSchedules {
		_, _, err := ParseClock(fmt.Sprintf("controller.seed_schedules[%d].at", i), s.At)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Time.Source)) {
	case "", "system", "push":
	default:
		add(fmt.Errorf("time.source: unknown source %q", c.Time.Source))
	}
	_, err = ParseDate("time.min_valid", c.Time.MinValid, time.Time{})
	add(err)

	switch strings.ToLower(strings.TrimSpace(c.Outputs.Driver)) {
	case "", "log":
	case "raspi":
		channels := ctl.Channels
		if channels == 0 {
			channels = 4
		}
		if len(c.Outputs.Pins) != channels {
			add(fmt.Errorf("outputs.pins: need %d pins for %d channels, got %d", channels, channels, len(c.Outputs.Pins)))
		}
	default:
		add(fmt.Errorf("outputs.driver: unknown driver %q", c.Outputs.Driver))
	}

	if s := c.Storage; s != nil {
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		if s.Breaker != nil {
			_, err = ParseDurationField("storage.breaker.open_timeout", s.Breaker.OpenTimeout)
			add(err)
		}
	}

	if m := c.MQTT; m != nil && m.Enabled {
		if strings.TrimSpace(m.Broker) == "" {
			add(errors.New("mqtt.broker: required when mqtt is enabled"))
		}
		if m.QoS < 0 || m.QoS > 2 {
			add(errors.New("mqtt.qos: must be 0, 1 or 2"))
		}
		_, err = ParseDurationField("mqtt.publish_interval", m.PublishInterval)
		add(err)
		_, err = ParseDurationField("mqtt.connect_timeout", m.ConnectTimeout)
		add(err)
	}

	if h := c.HTTP; h != nil && h.Enabled {
		_, err = ParseDurationField("http.read_timeout", h.ReadTimeout)
		add(err)
		_, err = ParseDurationField("http.write_timeout", h.WriteTimeout)
		add(err)
		_, err = ParseDurationField("http.idle_timeout", h.IdleTimeout)
		add(err)
	}

	if in := c.Influx; in != nil && in.Enabled {
		if strings.TrimSpace(in.URL) == "" || strings.TrimSpace(in.Bucket) == "" {
			add(errors.New("influx: url and bucket are required when influx is enabled"))
		}
	}

	return errors.Join(errs...)
}
