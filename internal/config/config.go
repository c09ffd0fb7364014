// Package config loads the capture console's configuration.
//
// Settings come from, in order of precedence: command-line flags bound by the
// CLI, VT_* environment variables, a config file (vt.yaml in the data
// directory or the working directory), and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SensorSource selects where position fixes come from.
const (
	SourceSim  = "sim"
	SourceGPSD = "gpsd"
)

// Sensor holds location-acquisition settings.
type Sensor struct {
	// Source is "sim" or "gpsd".
	Source string `mapstructure:"source"`

	// GpsdAddr is the gpsd endpoint when Source is "gpsd".
	GpsdAddr string `mapstructure:"gpsd_addr"`

	HighAccuracy bool          `mapstructure:"high_accuracy"`
	FixTimeout   time.Duration `mapstructure:"fix_timeout"`
	MaxFixAge    time.Duration `mapstructure:"max_fix_age"`
	Continuous   bool          `mapstructure:"continuous"`
}

// Log holds daemon log-file settings.
type Log struct {
	// File is the daemon log path. Empty logs to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full console configuration.
type Config struct {
	// DataDir holds the local store (one JSON file per key, or vt.db for
	// the sqlite backend).
	DataDir string `mapstructure:"data_dir"`

	// Backend is "file" or "sqlite".
	Backend string `mapstructure:"backend"`

	// ServerURL is the field sync server base URL. Empty means
	// capture-only mode: nothing is ever pushed.
	ServerURL string `mapstructure:"server_url"`

	// ProbeInterval is how often the daemon re-probes connectivity.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	Sensor Sensor `mapstructure:"sensor"`
	Log    Log    `mapstructure:"log"`
}

// setDefaults registers the built-in defaults on v.
func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("data_dir", filepath.Join(home, ".vt"))
	v.SetDefault("backend", "file")
	v.SetDefault("server_url", "")
	v.SetDefault("probe_interval", 15*time.Second)

	v.SetDefault("sensor.source", SourceSim)
	v.SetDefault("sensor.gpsd_addr", "localhost:2947")
	v.SetDefault("sensor.high_accuracy", true)
	v.SetDefault("sensor.fix_timeout", 30*time.Second)
	v.SetDefault("sensor.max_fix_age", time.Minute)
	v.SetDefault("sensor.continuous", false)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration into a Config. A missing config file is fine;
// a malformed one is an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("vt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vt"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("cannot read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Backend != "file" && c.Backend != "sqlite" {
		return fmt.Errorf("backend must be \"file\" or \"sqlite\", got %q", c.Backend)
	}
	if c.Sensor.Source != SourceSim && c.Sensor.Source != SourceGPSD {
		return fmt.Errorf("sensor.source must be %q or %q, got %q", SourceSim, SourceGPSD, c.Sensor.Source)
	}
	if c.Sensor.Source == SourceGPSD && c.Sensor.GpsdAddr == "" {
		return fmt.Errorf("sensor.gpsd_addr is required when sensor.source is %q", SourceGPSD)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	return nil
}

// DatabasePath returns the sqlite backend's file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vt.db")
}
