package app

import (
	"context"

	"valvectl/internal/storage"
	logx "valvectl/pkg/logx"
)

// CheckConfig loads cfgPath and runs the same mapping checks a hot reload
// goes through, without touching any hardware.
func CheckConfig(cfgPath string) (*Config, error) {
	cfg, err := NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the configured storage for offline inspection. It
// returns (nil, nil) when storage is disabled.
func OpenStore(cfg *Config, log logx.Logger) (storage.Store, error) {
	sc, _, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}
