package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	SessionsDir     string `mapstructure:"sessions_dir"`
	CronFile        string `mapstructure:"cron_file"`
	Database        string `mapstructure:"database"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	DefaultDays     int    `mapstructure:"default_days"`
	SessionLimit    int    `mapstructure:"session_limit"`
}

// LoadConfig loads configuration from the specified path or the default
// location (~/.openclaw-stats/config.toml). A missing config file yields the
// defaults rather than an error; the tool must work out of the box.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	v.SetDefault("sessions_dir", filepath.Join(homeDir, ".openclaw", "agents", "main", "sessions"))
	v.SetDefault("cron_file", filepath.Join(homeDir, ".openclaw", "cron", "jobs.json"))
	v.SetDefault("database", filepath.Join(homeDir, ".openclaw-stats", "history.db"))
	v.SetDefault("cache_ttl_seconds", 30)
	v.SetDefault("default_days", 7)
	v.SetDefault("session_limit", 20)

	path := configPath
	if path == "" {
		path = filepath.Join(homeDir, ".openclaw-stats", "config.toml")
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// No config file: run on defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// CacheTTL returns the aggregate result cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
