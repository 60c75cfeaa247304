package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/model"
)

var profileCmd = &cobra.Command{
	Use:   "profile REF",
	Short: "Show one cached profile",
	Long: `Print a cached profile as JSON, or as Turtle with --as-rdf.

REF is any profile reference: a canonical key (~A_One1) or an email
address recorded in the identity mapping.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ref := args[0]
		asRDF, _ := cmd.Flags().GetBool("as-rdf")
		output, _ := cmd.Flags().GetString("output")

		if asRDF {
			projector, err := newProjector(cfg, "")
			if err != nil {
				return err
			}
			turtle, err := projector.ProfileTurtle(ref)
			if err != nil {
				return err
			}
			return writeOutput(output, turtle)
		}

		store, resolver, err := openCache(cfg)
		if err != nil {
			return err
		}
		key := resolver.Resolve(ref)
		var profile model.Profile
		if err := store.Get(cache.KindProfile, key, &profile); err != nil {
			return fmt.Errorf("profile %s not cached: %w", key, err)
		}
		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		return writeOutput(output, string(data)+"\n")
	},
}

func init() {
	profileCmd.Flags().Bool("as-rdf", false, "emit Turtle instead of JSON")
	profileCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")

	rootCmd.AddCommand(profileCmd)
}
