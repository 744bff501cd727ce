package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"valvectl/internal/config"
	"valvectl/internal/control"
	"valvectl/internal/hal"
	"valvectl/internal/history"
	"valvectl/internal/irrigation"
	"valvectl/internal/observability/httpapi"
	"valvectl/internal/transport/mqtt"
	logx "valvectl/pkg/logx"
)

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Remote: logx.RemoteConfig{
			Enabled:    cfg.Logging.Remote.Enabled,
			MinLevel:   cfg.Logging.Remote.MinLevel,
			RatePerSec: cfg.Logging.Remote.RatePerSec,
		},
	}
}

// controllerSettings is everything derived from the controller section.
type controllerSettings struct {
	core irrigation.Config
	loop control.Config
}

func mapControllerConfig(cfg *Config) (controllerSettings, error) {
	c := cfg.Controller
	safety, err := parseDurationOrDefault("controller.safety_timeout", c.SafetyTimeout, irrigation.DefaultSafetyTimeout)
	if err != nil {
		return controllerSettings{}, err
	}
	check, err := parseDurationOrDefault("controller.check_interval", c.CheckInterval, irrigation.DefaultCheckInterval)
	if err != nil {
		return controllerSettings{}, err
	}
	tick, err := parseDurationOrDefault("controller.tick", c.Tick, time.Second)
	if err != nil {
		return controllerSettings{}, err
	}
	if tick > check {
		return controllerSettings{}, fmt.Errorf("controller.tick (%s) must not exceed controller.check_interval (%s)", tick, check)
	}

	var loc *time.Location
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return controllerSettings{}, fmt.Errorf("controller.timezone: invalid %q: %w", tz, err)
		}
	}

	return controllerSettings{
		core: irrigation.Config{
			MaxSchedules:  c.MaxSchedules,
			MaxChannels:   c.Channels,
			SafetyTimeout: safety,
			CheckInterval: check,
			Location:      loc,
		},
		loop: control.Config{
			Tick:           tick,
			ManualDuration: c.ManualDuration,
		},
	}, nil
}

// mapTimeSource returns nil for the push source; the controller then uses
// its own WallClock fed by set_time commands.
func mapTimeSource(cfg *Config) (irrigation.TimeSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Time.Source)) {
	case "", "system":
		floor, err := config.ParseDate("time.min_valid", cfg.Time.MinValid, irrigation.DefaultMinValid)
		if err != nil {
			return nil, err
		}
		return irrigation.SystemTime{MinValid: floor}, nil
	case "push":
		return nil, nil
	default:
		return nil, fmt.Errorf("time.source: unknown source %q", cfg.Time.Source)
	}
}

func mapOutputsConfig(cfg *Config) hal.Config {
	channels := cfg.Controller.Channels
	if channels <= 0 {
		channels = irrigation.DefaultMaxChannels
	}
	return hal.Config{
		Driver:    cfg.Outputs.Driver,
		Channels:  channels,
		Pins:      cfg.Outputs.Pins,
		ActiveLow: cfg.Outputs.ActiveLow,
	}
}

func mapMQTTConfig(cfg *Config) (mqtt.Config, bool, error) {
	m := cfg.MQTT
	if m == nil || !m.Enabled {
		return mqtt.Config{}, false, nil
	}
	interval, err := parseDurationOrDefault("mqtt.publish_interval", m.PublishInterval, time.Minute)
	if err != nil {
		return mqtt.Config{}, false, err
	}
	timeout, err := parseDurationOrDefault("mqtt.connect_timeout", m.ConnectTimeout, 10*time.Second)
	if err != nil {
		return mqtt.Config{}, false, err
	}
	if m.QoS < 0 || m.QoS > 2 {
		return mqtt.Config{}, false, fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return mqtt.Config{
		Broker:            strings.TrimSpace(m.Broker),
		ClientID:          m.ClientID,
		Username:          m.Username,
		Password:          m.Password,
		BaseTopic:         m.BaseTopic,
		QoS:               byte(m.QoS),
		PublishInterval:   interval,
		ConnectTimeout:    timeout,
		ConnectRetries:    m.ConnectRetries,
		CommandRatePerSec: m.CommandRatePerSec,
	}, true, nil
}

func mapHTTPConfig(cfg *Config, tick time.Duration) (httpapi.Config, error) {
	h := cfg.HTTP
	if h == nil {
		return httpapi.Config{}, nil
	}
	read, err := parseDurationOrDefault("http.read_timeout", h.ReadTimeout, 5*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := parseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := parseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
		StaleAfter:    max(10*tick, 30*time.Second),
	}, nil
}

func mapInfluxConfig(cfg *Config) (history.InfluxConfig, bool) {
	in := cfg.Influx
	if in == nil || !in.Enabled {
		return history.InfluxConfig{}, false
	}
	return history.InfluxConfig{
		URL:         strings.TrimSpace(in.URL),
		Token:       in.Token,
		Org:         in.Org,
		Bucket:      in.Bucket,
		Measurement: in.Measurement,
	}, true
}

// seedSchedules installs the configured seed schedules. It is only called
// when storage had nothing to restore.
func seedSchedules(ctx context.Context, ctrl *irrigation.Controller, seeds []config.SeedSchedule, log logx.Logger) int {
	added := 0
	for i, s := range seeds {
		path := fmt.Sprintf("controller.seed_schedules[%d]", i)
		hour, minute, err := config.ParseClock(path+".at", s.At)
		if err != nil {
			log.Warn("seed schedule skipped", logx.String("path", path), logx.Err(err))
			continue
		}
		days, err := irrigation.ParseWeekdays(s.Days)
		if err != nil {
			log.Warn("seed schedule skipped", logx.String("path", path), logx.Err(err))
			continue
		}
		if _, err := ctrl.AddSchedule(ctx, s.Channel, hour, minute, s.Duration, days); err != nil {
			log.Warn("seed schedule rejected", logx.String("path", path), logx.Err(err))
			continue
		}
		added++
	}
	return added
}
