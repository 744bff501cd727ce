package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
controller:
  channels: 2
  safety_timeout: 2h
  check_interval: 15s
  timezone: UTC
  seed_schedules:
    - channel: 1
      at: "06:00"
      duration: 30
      days: daily
outputs:
  driver: log
storage:
  driver: file
  path: ./state/valvectl
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  password: from-file
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Controller.Channels)
	require.Len(t, cfg.Controller.SeedSchedules, 1)
	assert.Equal(t, "06:00", cfg.Controller.SeedSchedules[0].At)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "from-file", cfg.MQTT.Password)
}

func TestParseEnvSecretOverrides(t *testing.T) {
	t.Setenv("VALVECTL_MQTT_PASSWORD", "from-env")
	p := writeFile(t, "config.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MQTT.Password)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"controller":{"channels":2,"valves":3}}`)

	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valves")
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"logging":{"level":"info"}} {}`)

	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "ok", cfg: Config{}},
		{name: "bad level", cfg: Config{Logging: LoggingConfig{Level: "loud"}}, want: "logging.level"},
		{name: "bad duration", cfg: Config{Controller: ControllerConfig{SafetyTimeout: "soon"}}, want: "controller.safety_timeout"},
		{name: "bad seed", cfg: Config{Controller: ControllerConfig{SeedSchedules: []SeedSchedule{{At: "25:00"}}}}, want: "seed_schedules[0]"},
		{name: "raspi pins", cfg: Config{Controller: ControllerConfig{Channels: 2}, Outputs: OutputsConfig{Driver: "raspi", Pins: []string{"11"}}}, want: "outputs.pins"},
		{name: "mqtt broker", cfg: Config{MQTT: &MQTTConfig{Enabled: true}}, want: "mqtt.broker"},
		{name: "time source", cfg: Config{Time: TimeConfig{Source: "gps"}}, want: "time.source"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	h, m, err := ParseClock("at", " 06:05 ")
	require.NoError(t, err)
	assert.Equal(t, 6, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"6", "24:00", "12:60", "aa:bb"} {
		_, _, err := ParseClock("at", bad)
		assert.Error(t, err, bad)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Logging:    LoggingConfig{Level: "info"},
		Controller: ControllerConfig{SafetyTimeout: "5h"},
		MQTT:       &MQTTConfig{Enabled: true, Broker: "tcp://a:1883", Password: "x"},
	}
	newCfg := &Config{
		Logging:    LoggingConfig{Level: "debug"},
		Controller: ControllerConfig{SafetyTimeout: "1h"},
		MQTT:       &MQTTConfig{Enabled: true, Broker: "tcp://a:1883", Password: "y"},
	}

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "controller.timing"}, changed)
	assert.Empty(t, restart)

	newCfg.Outputs.Driver = "raspi"
	changed, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	assert.Contains(t, changed, "outputs")
	assert.Equal(t, []string{"outputs"}, restart)

	newCfg.HTTP = &HTTPConfig{Enabled: true, Addr: "127.0.0.1:9000"}
	changed, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	assert.Contains(t, changed, "http")
	assert.NotContains(t, restart, "http")
}

func TestWatchPublishesReload(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
