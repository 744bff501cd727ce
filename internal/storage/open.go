package storage

import (
	"fmt"
	"strings"

	logx "valvectl/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.JournalMax <= 0 {
		cfg.JournalMax = defaultJournalMax
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(cfg.JournalMax), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
