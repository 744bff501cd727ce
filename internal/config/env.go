package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Secrets are read from VALVECTL_* environment variables and override the
// matching file values when set.
type Secrets struct {
	MQTTPassword string `envconfig:"MQTT_PASSWORD"`
	InfluxToken  string `envconfig:"INFLUX_TOKEN"`
	HTTPToken    string `envconfig:"HTTP_TOKEN"`
}

const envPrefix = "VALVECTL"

func loadSecrets() (Secrets, error) {
	var s Secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return Secrets{}, fmt.Errorf("env: %w", err)
	}
	return s, nil
}

func (s Secrets) apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(s.MQTTPassword); v != "" && cfg.MQTT != nil {
		cfg.MQTT.Password = v
	}
	if v := strings.TrimSpace(s.InfluxToken); v != "" && cfg.Influx != nil {
		cfg.Influx.Token = v
	}
	if v := strings.TrimSpace(s.HTTPToken); v != "" && cfg.HTTP != nil {
		cfg.HTTP.Token = v
	}
}
