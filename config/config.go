// Package config loads the YAML configuration shared by gojokv binaries.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/sushant-115/gojokv/pkg/logger"
	"github.com/sushant-115/gojokv/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// --- Error Definitions ---

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StoreConfig locates the store file.
type StoreConfig struct {
	Path string `yaml:"path"`
	// BackupBytesPerSec caps BACKUP throughput; 0 is unlimited.
	BackupBytesPerSec int64 `yaml:"backup_bytes_per_sec"`
	// BackupLowerPriority runs BACKUP copies on a thread reniced to 19.
	BackupLowerPriority bool `yaml:"backup_lower_priority"`
}

// Config is the root of the YAML document.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "data/gojokv.db"},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojokv",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load overlays the YAML file at path onto Default and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations no binary can start with.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalidConfig)
	}
	if c.Store.BackupBytesPerSec < 0 {
		return fmt.Errorf("%w: store.backup_bytes_per_sec is negative", ErrInvalidConfig)
	}
	if p := c.Telemetry.PrometheusPort; p < 0 || p > 65535 {
		return fmt.Errorf("%w: telemetry.prometheus_port %d out of range", ErrInvalidConfig, p)
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("%w: telemetry.service_name is empty", ErrInvalidConfig)
	}
	return nil
}
