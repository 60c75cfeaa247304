package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/daemon"
	"github.com/ortler/ortler/internal/dashboard"
	"github.com/ortler/ortler/internal/journal"
	"github.com/ortler/ortler/internal/syncer"
)

// entryToReport lifts a journal row back into a report for broadcasting.
func entryToReport(e *journal.Entry) *syncer.Report {
	return &syncer.Report{
		Mode:                syncer.Mode(e.Mode),
		DryRun:              e.DryRun,
		StartedAt:           e.StartedAt,
		FinishedAt:          e.FinishedAt,
		NewSubmissions:      e.NewSubmissions,
		ModifiedSubmissions: e.ModifiedSubmissions,
		ProfilesUpdated:     e.ProfilesUpdated,
		ProfilesFailed:      e.ProfilesFailed,
		GroupsChanged:       e.GroupsChanged,
		AssignmentsCached:   e.AssignmentsCached,
		ReviewsCached:       e.ReviewsCached,
		Watermark:           e.Watermark,
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the WebSocket cache dashboard",
	Long: `Start a WebSocket server that broadcasts cache activity to connected
clients.

Messages include:
- record_update: a cached record was created, modified, or deleted
- sync_complete: an update run finished (observed via the journal)
- stats: cache record counts and the current watermark

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
			cfg.DashboardPort = port
		}
		logger := newLogger(cfg, "[dashboard] ")

		store, _, err := openCache(cfg)
		if err != nil {
			return err
		}
		db, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return err
		}
		defer db.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		handler := dashboard.NewHandler(server, logger)

		watcher, err := daemon.NewWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(cfg.CacheDir); err != nil {
			return err
		}
		defer watcher.Stop()

		fmt.Printf("Dashboard server started on http://localhost:%d\n", cfg.DashboardPort)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", cfg.DashboardPort)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		refreshStats := func() {
			runs, err := db.Count(ctx)
			if err != nil {
				logger.Printf("Failed to count sync runs: %v", err)
			}
			handler.RefreshStats(store, runs)
		}
		refreshStats()

		// A new journal row means an update run finished while we watch.
		lastRun := int64(0)
		if last, err := db.Last(ctx); err == nil && last != nil {
			lastRun = last.ID
		}

		batches := daemon.Debounce(watcher.Events(), time.Second)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down dashboard server...")
				return server.Stop()
			case batch, ok := <-batches:
				if !ok {
					return server.Stop()
				}
				handler.OnCacheEvents(batch)
				refreshStats()
			case err, ok := <-watcher.Errors():
				if !ok {
					return server.Stop()
				}
				logger.Printf("Watch error: %v", err)
			case <-ticker.C:
				if last, err := db.Last(ctx); err == nil && last != nil && last.ID > lastRun {
					lastRun = last.ID
					handler.OnSyncComplete(entryToReport(last))
				}
			}
		}
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
