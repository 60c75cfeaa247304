// Package config loads ortler configuration from a YAML file, environment
// variables, and defaults.
//
// Lookup order matches viper's: explicit flag bindings, then ORTLER_*
// environment variables, then the config file, then defaults. Credentials
// come from the environment only and never belong in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default API endpoints.
const (
	DefaultBaseURLV2 = "https://api2.openreview.net"
	DefaultBaseURLV1 = "https://api.openreview.net"
)

// Config holds everything the commands need.
type Config struct {
	// VenueID is the venue group, e.g. "TheConference.org/2026/Cycle_1".
	VenueID string `mapstructure:"venue_id"`

	// CacheDir is the root of the on-disk record store.
	CacheDir string `mapstructure:"cache_dir"`

	// BaseURLV2 and BaseURLV1 point at the two API versions.
	BaseURLV2 string `mapstructure:"base_url_v2"`
	BaseURLV1 string `mapstructure:"base_url_v1"`

	// Username and Password authenticate against both API versions.
	// Environment only (ORTLER_USERNAME, ORTLER_PASSWORD).
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// MergePolicy picks the winning source for dual-version submissions
	// ("prefer-v2" or "prefer-v1").
	MergePolicy string `mapstructure:"merge_policy"`

	// StagesDir holds custom stage definition YAML files. Empty disables
	// the stage pass.
	StagesDir string `mapstructure:"stages_dir"`

	// LogFile enables a rotating log file when set.
	LogFile string `mapstructure:"log_file"`

	// DashboardPort is the websocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`
}

// JournalPath returns the sync journal location inside the cache directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.CacheDir, "journal.db")
}

// Load reads configuration. path names an explicit config file; when empty,
// viper searches the working directory and ~/.config/ortler for ortler.yaml.
// A missing config file is fine, the defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can fill it during
	// Unmarshal even when the config file omits it.
	v.SetDefault("venue_id", "")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("base_url_v2", DefaultBaseURLV2)
	v.SetDefault("base_url_v1", DefaultBaseURLV1)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("merge_policy", "prefer-v2")
	v.SetDefault("stages_dir", "")
	v.SetDefault("log_file", "")
	v.SetDefault("dashboard_port", 8080)

	v.SetEnvPrefix("ORTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ortler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ortler"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.VenueID == "" {
		return fmt.Errorf("venue_id is not set (config file or ORTLER_VENUE_ID)")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is not set")
	}
	return nil
}
