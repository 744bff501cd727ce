package config

import (
	"reflect"
	"strings"

	logx "valvectl/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets), and
// (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	oc, nc := oldCfg.Controller, newCfg.Controller
	if strings.TrimSpace(oc.SafetyTimeout) != strings.TrimSpace(nc.SafetyTimeout) ||
		strings.TrimSpace(oc.CheckInterval) != strings.TrimSpace(nc.CheckInterval) {
		changed = append(changed, "controller.timing")
		attrs = append(attrs,
			logx.String("controller.safety_timeout", strings.TrimSpace(nc.SafetyTimeout)),
			logx.String("controller.check_interval", strings.TrimSpace(nc.CheckInterval)),
		)
	}
	if oc.Channels != nc.Channels || oc.MaxSchedules != nc.MaxSchedules ||
		strings.TrimSpace(oc.Tick) != strings.TrimSpace(nc.Tick) ||
		strings.TrimSpace(oc.Timezone) != strings.TrimSpace(nc.Timezone) ||
		oc.ManualDuration != nc.ManualDuration ||
		!reflect.DeepEqual(oc.SeedSchedules, nc.SeedSchedules) {
		changed = append(changed, "controller")
		restart = append(restart, "controller")
		attrs = append(attrs,
			logx.Int("controller.channels", nc.Channels),
			logx.Int("controller.max_schedules", nc.MaxSchedules),
			logx.String("controller.timezone", strings.TrimSpace(nc.Timezone)),
		)
	}

	sections := []struct {
		name     string
		old, new any
		live     bool
	}{
		{"time", oldCfg.Time, newCfg.Time, false},
		{"outputs", oldCfg.Outputs, newCfg.Outputs, false},
		{"storage", oldCfg.Storage, newCfg.Storage, false},
		{"mqtt", redactMQTT(oldCfg.MQTT), redactMQTT(newCfg.MQTT), false},
		{"http", redactHTTP(oldCfg.HTTP), redactHTTP(newCfg.HTTP), true},
		{"influx", redactInflux(oldCfg.Influx), redactInflux(newCfg.Influx), false},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
			if !s.live {
				restart = append(restart, s.name)
			}
		}
	}

	return changed, attrs, restart
}

// Secrets are compared by presence only.

func redactMQTT(m *MQTTConfig) *MQTTConfig {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Password = presence(cp.Password)
	return &cp
}

func redactHTTP(h *HTTPConfig) *HTTPConfig {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Token = presence(cp.Token)
	return &cp
}

func redactInflux(in *InfluxConfig) *InfluxConfig {
	if in == nil {
		return nil
	}
	cp := *in
	cp.Token = presence(cp.Token)
	return &cp
}

func presence(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
