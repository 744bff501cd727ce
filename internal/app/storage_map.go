package app

import (
	"fmt"
	"strings"
	"time"

	"valvectl/internal/storage"
)

// mapStorageConfig returns the store settings and whether storage is
// enabled at all. Without storage the controller keeps schedules in memory.
func mapStorageConfig(cfg *Config) (storage.Config, storage.BreakerConfig, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, storage.BreakerConfig{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, storage.BreakerConfig{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if sc.JournalMax < 0 {
		return storage.Config{}, storage.BreakerConfig{}, false, fmt.Errorf("storage.journal_max must be >= 0")
	}

	var bc storage.BreakerConfig
	if b := sc.Breaker; b != nil {
		if b.MaxFailures < 0 {
			return storage.Config{}, storage.BreakerConfig{}, false, fmt.Errorf("storage.breaker.max_failures must be >= 0")
		}
		open, err := parseDurationOrDefault("storage.breaker.open_timeout", b.OpenTimeout, 0)
		if err != nil {
			return storage.Config{}, storage.BreakerConfig{}, false, err
		}
		bc = storage.BreakerConfig{MaxFailures: uint32(b.MaxFailures), OpenTimeout: open}
	}

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		if path == "" {
			path = "./valvectl.json"
		}
		return storage.Config{Driver: "file", Path: path, JournalMax: sc.JournalMax}, bc, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, storage.BreakerConfig{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, storage.BreakerConfig{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy, JournalMax: sc.JournalMax}, bc, true, nil
	case "memory":
		return storage.Config{Driver: "memory", JournalMax: sc.JournalMax}, bc, true, nil
	default:
		return storage.Config{}, storage.BreakerConfig{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}
