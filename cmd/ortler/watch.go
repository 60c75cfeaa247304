package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/config"
	"github.com/ortler/ortler/internal/daemon"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-export Turtle whenever the cache changes",
	Long: `Watch the cache directory and rewrite the Turtle export after each
burst of record changes. Useful next to a periodic update run: the
export file stays current without re-running dump by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			return fmt.Errorf("--output is required")
		}
		logger := newLogger(cfg, "[watch] ")

		watcher, err := daemon.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(cfg.CacheDir); err != nil {
			return err
		}
		defer watcher.Stop()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// One export up front so the file exists before the first change.
		if err := exportTurtle(cfg, output); err != nil {
			return err
		}
		logger.Printf("Watching %s, exporting to %s", cfg.CacheDir, output)

		batches := daemon.Debounce(watcher.Events(), 2*time.Second)
		for {
			select {
			case <-ctx.Done():
				return nil
			case batch, ok := <-batches:
				if !ok {
					return nil
				}
				logger.Printf("%d record changes, re-exporting", len(batch))
				if err := exportTurtle(cfg, output); err != nil {
					logger.Printf("Export failed: %v", err)
				}
			case err, ok := <-watcher.Errors():
				if !ok {
					return nil
				}
				logger.Printf("Watch error: %v", err)
			}
		}
	},
}

// exportTurtle rebuilds the projector for each export so identity mapping
// changes written by a concurrent sync are picked up.
func exportTurtle(cfg *config.Config, output string) error {
	projector, err := newProjector(cfg, "")
	if err != nil {
		return err
	}
	turtle, err := projector.Turtle()
	if err != nil {
		return err
	}
	return writeOutput(output, turtle)
}

func init() {
	watchCmd.Flags().StringP("output", "o", "", "Turtle file to keep current (required)")

	rootCmd.AddCommand(watchCmd)
}
