package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SyncAllSentinel marks the sync cap as "no cap": fetch the whole mailbox.
const SyncAllSentinel = 999999

// Config holds the process-wide configuration. It is loaded once at startup;
// the sync-related values are passed into each sync run and never mutated
// while a run is in flight.
type Config struct {
	DBPath        string `mapstructure:"db_path"`
	AttachmentDir string `mapstructure:"attachment_dir"`
	LogLevel      string `mapstructure:"log_level"`

	// MaxSyncCount caps how many messages a single sync run fetches.
	// SyncAllSentinel disables the cap.
	MaxSyncCount int `mapstructure:"max_sync_count"`

	AutoSync            bool `mapstructure:"auto_sync"`
	AutoSyncIntervalSec int  `mapstructure:"auto_sync_interval_sec"`
}

// SyncAll reports whether the cap sentinel is set.
func (c *Config) SyncAll() bool {
	return c.MaxSyncCount >= SyncAllSentinel
}

// AutoSyncInterval returns the auto-sync period.
func (c *Config) AutoSyncInterval() time.Duration {
	return time.Duration(c.AutoSyncIntervalSec) * time.Second
}

// Load reads configuration from an optional YAML file and THREADLINE_*
// environment variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("threadline")
	v.AutomaticEnv()

	dataDir := defaultDataDir()
	v.SetDefault("db_path", filepath.Join(dataDir, "threadline.db"))
	v.SetDefault("attachment_dir", filepath.Join(dataDir, "attachments"))
	v.SetDefault("log_level", "info")
	v.SetDefault("max_sync_count", 100)
	v.SetDefault("auto_sync", false)
	v.SetDefault("auto_sync_interval_sec", 900)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the core cannot work with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.AttachmentDir == "" {
		return fmt.Errorf("attachment_dir is required")
	}
	if c.MaxSyncCount < 1 {
		return fmt.Errorf("max_sync_count must be at least 1")
	}
	if c.AutoSync && c.AutoSyncIntervalSec < 60 {
		return fmt.Errorf("auto_sync_interval_sec must be at least 60")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "threadline")
}
