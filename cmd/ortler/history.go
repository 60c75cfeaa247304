package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/journal"
	"github.com/ortler/ortler/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync runs",
	Long: `Show sync runs recorded in the journal, newest first. Dry runs are
never journaled, so every row is a run that wrote to the cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Print(ui.RenderHistory(entries))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of runs to show (0 for all)")

	rootCmd.AddCommand(historyCmd)
}
