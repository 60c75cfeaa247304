package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/journal"
	"github.com/ortler/ortler/internal/stages"
	"github.com/ortler/ortler/internal/syncer"
	"github.com/ortler/ortler/internal/ui"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Sync the cache from the remote API",
	Long: `Fetch new and modified records from both API versions and merge
them into the local cache.

The default run is incremental: only records changed since the stored
watermark are fetched. --recache forces a full refetch of a record
class:

  submissions                 all submissions
  profiles                    all tracked profiles (publications kept)
  profiles-with-publications  profiles and their publication lists
  all                         everything

--since overrides the stored watermark with a natural-language time,
e.g. --since "3 days ago". --profiles restricts the profile pass to the
given references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[update] ")

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		recache, _ := cmd.Flags().GetString("recache")
		profiles, _ := cmd.Flags().GetStringSlice("profiles")
		sinceText, _ := cmd.Flags().GetString("since")

		mode, err := syncer.ParseMode(recache)
		if err != nil {
			return err
		}
		var since int64
		if sinceText != "" {
			since, err = parseSince(sinceText)
			if err != nil {
				return err
			}
		}

		store, resolver, err := openCache(cfg)
		if err != nil {
			return err
		}

		var defs []stages.Definition
		if cfg.StagesDir != "" {
			defs, err = stages.LoadDir(cfg.StagesDir)
			if err != nil {
				return fmt.Errorf("failed to load stage definitions: %w", err)
			}
		}

		v2, v1 := apiClients(cfg, logger)
		engine := syncer.New(syncer.Config{
			V2:       v2,
			V1:       v1,
			Store:    store,
			Resolver: resolver,
			VenueID:  cfg.VenueID,
			Policy:   syncer.MergePolicy(cfg.MergePolicy),
			Stages:   defs,
			Logger:   logger,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		report, err := engine.Sync(ctx, syncer.Options{
			Mode:     mode,
			DryRun:   dryRun,
			Profiles: profiles,
			Since:    since,
		})
		if err != nil {
			return err
		}

		if !dryRun {
			if err := recordRun(ctx, cfg.JournalPath(), report); err != nil {
				// The sync itself succeeded; a journal failure is not fatal.
				logger.Printf("Warning: failed to record sync run: %v", err)
			}
		}

		fmt.Print(ui.RenderReport(report))
		return nil
	},
}

func recordRun(ctx context.Context, path string, report *syncer.Report) error {
	db, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Record(ctx, report)
}

// parseSince turns natural-language time ("3 days ago", "yesterday",
// "2026-08-01") into an epoch-millis watermark.
func parseSince(text string) (int64, error) {
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t.UnixMilli(), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return 0, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time.UnixMilli(), nil
}

func init() {
	updateCmd.Flags().Bool("dry-run", false, "fetch and report but write nothing")
	updateCmd.Flags().String("recache", "", "force refetch: submissions, profiles, profiles-with-publications, all")
	updateCmd.Flags().StringSlice("profiles", nil, "restrict the profile pass to these references")
	updateCmd.Flags().String("since", "", "override the watermark with a natural-language time")

	rootCmd.AddCommand(updateCmd)
}
