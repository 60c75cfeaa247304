package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/config"
	"github.com/ortler/ortler/internal/export"
	"github.com/ortler/ortler/internal/stages"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export the cache as Turtle",
	Long: `Project the whole cache into RDF triples and write them as Turtle,
ready for import into a SPARQL engine like QLever.

Without --output the Turtle goes to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		base, _ := cmd.Flags().GetString("base")

		projector, err := newProjector(cfg, base)
		if err != nil {
			return err
		}
		turtle, err := projector.Turtle()
		if err != nil {
			return err
		}
		return writeOutput(output, turtle)
	},
}

// newProjector wires an export projector from the configured cache.
func newProjector(cfg *config.Config, base string) (*export.Projector, error) {
	store, resolver, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	var defs []stages.Definition
	if cfg.StagesDir != "" {
		defs, err = stages.LoadDir(cfg.StagesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load stage definitions: %w", err)
		}
	}
	return export.New(export.Config{
		Store:    store,
		Resolver: resolver,
		VenueID:  cfg.VenueID,
		Base:     base,
		Stages:   defs,
		Logger:   newLogger(cfg, "[dump] "),
	}), nil
}

func writeOutput(path, content string) error {
	if path == "" {
		_, err := fmt.Print(content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	dumpCmd.Flags().StringP("output", "o", "", "write Turtle to this file instead of stdout")
	dumpCmd.Flags().String("base", "", "override the prefix IRI of the output graph")

	rootCmd.AddCommand(dumpCmd)
}
