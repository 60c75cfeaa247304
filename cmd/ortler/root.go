package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/config"
	"github.com/ortler/ortler/internal/identity"
	"github.com/ortler/ortler/internal/openreview"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ortler",
	Short: "Local queryable cache of a conference venue",
	Long: `ortler maintains a local cache of a venue's submissions, profiles,
reviews and assignments, synced incrementally from the OpenReview API,
and exports it as Turtle for SPARQL import.

Configuration comes from ortler.yaml (working directory or
~/.config/ortler) and ORTLER_* environment variables. Credentials are
read from ORTLER_USERNAME and ORTLER_PASSWORD.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./ortler.yaml)")
	rootCmd.PersistentFlags().String("venue", "", "venue group id (overrides config)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (overrides config)")
}

// loadConfig reads the config and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if venue, _ := cmd.Flags().GetString("venue"); venue != "" {
		cfg.VenueID = venue
	}
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		cfg.CacheDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a prefixed logger, teeing into a rotating log file
// when one is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}

// openCache opens the record store and identity resolver together.
func openCache(cfg *config.Config) (*cache.Store, *identity.Resolver, error) {
	store, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	resolver, err := identity.Load(store.Dir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load identity mapping: %w", err)
	}
	return store, resolver, nil
}

// apiClients builds the two versioned API clients.
func apiClients(cfg *config.Config, logger *log.Logger) (v2, v1 openreview.Client) {
	v2 = openreview.NewHTTPClient(cfg.BaseURLV2, cfg.Username, cfg.Password, logger)
	v1 = openreview.NewHTTPClient(cfg.BaseURLV1, cfg.Username, cfg.Password, logger)
	return v2, v1
}
