package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bianoble/refpin/pkg/refpin"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove checkouts no longer referenced by the registry",
	Long: `Lists the checkouts in the checkout directory and removes every one whose
ref is no longer named by a channel, env pin or region pin in the registry.
Use --dry-run to see what would be removed without acting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(clientOptions{})
		if err != nil {
			return err
		}

		result, err := client.Prune(cmd.Context(), refpin.PruneOptions{DryRun: pruneDryRun})
		if err != nil {
			return err
		}

		if pruneDryRun {
			info("Dry run — no checkouts removed.")
		}

		for _, k := range result.Kept {
			detail("kept     %s", k)
		}
		if len(result.Removed) == 0 {
			info("Nothing to prune.")
			return nil
		}

		for _, k := range result.Removed {
			info("  removed  %s", k)
		}
		info("\nPruned %d checkout(s).", len(result.Removed))
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be removed without acting")
	rootCmd.AddCommand(pruneCmd)
}
