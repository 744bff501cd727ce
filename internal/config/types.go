package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("30s", "5h"). Optional sections are
// pointers so an omitted block can be told apart from an explicit one.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Controller ControllerConfig `json:"controller"`
	Time       TimeConfig       `json:"time,omitempty"`
	Outputs    OutputsConfig    `json:"outputs"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	MQTT       *MQTTConfig      `json:"mqtt,omitempty"`
	HTTP       *HTTPConfig      `json:"http,omitempty"`
	Influx     *InfluxConfig    `json:"influx,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards records at or above MinLevel to the MQTT log topic.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ControllerConfig sizes the irrigation core and sets its timing.
//
// Defaults (when fields are omitted/zero):
//   - channels: 4
//   - max_schedules: 16
//   - safety_timeout: "5h"
//   - check_interval: "30s"
//   - tick: "1s"
//   - manual_duration: 30 (minutes)
type ControllerConfig struct {
	Channels       int    `json:"channels,omitempty"`
	MaxSchedules   int    `json:"max_schedules,omitempty"`
	SafetyTimeout  string `json:"safety_timeout,omitempty"`
	CheckInterval  string `json:"check_interval,omitempty"`
	Tick           string `json:"tick,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	ManualDuration int    `json:"manual_duration,omitempty"`

	// SeedSchedules are installed when no schedule file exists yet.
	SeedSchedules []SeedSchedule `json:"seed_schedules,omitempty"`
}

// SeedSchedule is a schedule in operator-friendly form.
//
//	{ "channel": 1, "at": "06:00", "duration": 30, "days": "mon,wed,fri" }
type SeedSchedule struct {
	Channel  int    `json:"channel"`
	At       string `json:"at"`
	Duration int    `json:"duration"`
	Days     string `json:"days,omitempty"`
}

// TimeConfig selects the wall-clock source.
//
//   - "system": host clock, trusted once it is past min_valid (NTP synced)
//   - "push": only times pushed through set_time commands
type TimeConfig struct {
	Source   string `json:"source,omitempty"`
	MinValid string `json:"min_valid,omitempty"` // YYYY-MM-DD, default 2024-01-01
}

// OutputsConfig selects the valve driver.
//
//	"outputs": { "driver": "raspi", "pins": ["11", "13", "15", "16"], "active_low": true }
type OutputsConfig struct {
	Driver    string   `json:"driver,omitempty"` // log (default) | raspi
	Pins      []string `json:"pins,omitempty"`
	ActiveLow bool     `json:"active_low,omitempty"`
}

// StorageConfig controls schedule persistence and the session journal.
//
//	"storage": { "driver": "file", "path": "./valvectl" }
type StorageConfig struct {
	Driver      string         `json:"driver"`
	Path        string         `json:"path"`
	BusyTimeout string         `json:"busy_timeout,omitempty"` // sqlite
	JournalMax  int            `json:"journal_max,omitempty"`
	Breaker     *BreakerConfig `json:"breaker,omitempty"`
}

type BreakerConfig struct {
	MaxFailures int    `json:"max_failures,omitempty"`
	OpenTimeout string `json:"open_timeout,omitempty"`
}

// MQTTConfig controls the telemetry and command bridge.
type MQTTConfig struct {
	Enabled           bool   `json:"enabled"`
	Broker            string `json:"broker"`
	ClientID          string `json:"client_id,omitempty"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"` // prefer VALVECTL_MQTT_PASSWORD
	BaseTopic         string `json:"base_topic,omitempty"`
	QoS               int    `json:"qos,omitempty"`
	PublishInterval   string `json:"publish_interval,omitempty"`
	ConnectTimeout    string `json:"connect_timeout,omitempty"`
	ConnectRetries    int    `json:"connect_retries,omitempty"`
	CommandRatePerSec int    `json:"command_rate_per_sec,omitempty"`
}

// HTTPConfig controls the status/metrics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8089").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// InfluxConfig controls the irrigation history writer.
type InfluxConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	Token       string `json:"token,omitempty"` // prefer VALVECTL_INFLUX_TOKEN
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement,omitempty"`
}
