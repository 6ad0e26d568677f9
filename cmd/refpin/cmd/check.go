package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkOutDir string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the lockfile matches the current registry",
	Long: `Re-resolves every service target without fetching and compares the result
against the lockfile and the generated descriptors. Reports drifted refs,
targets missing from the lockfile, stale lock entries and missing
descriptors. Exit 0 if everything matches; exit non-zero otherwise.
Suitable for CI pipelines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(clientOptions{outputDir: checkOutDir})
		if err != nil {
			return err
		}

		result, err := client.Check(cmd.Context())
		if err != nil {
			return err
		}

		if result.Clean {
			info("Lockfile matches the registry.")
			return nil
		}

		for _, d := range result.Drifted {
			info("  drifted   %s", d.ID)
			detail("locked:   %s", d.Expected)
			detail("resolves: %s (%s)", d.Actual, d.Provenance)
		}
		for _, m := range result.Missing {
			info("  missing   %s", m)
		}
		for _, s := range result.Stale {
			info("  stale     %s", s)
		}
		for _, f := range result.MissingFiles {
			info("  no file   %s", f)
		}
		for _, e := range result.Errors {
			errorf("%s", e.Error())
		}

		total := len(result.Drifted) + len(result.Missing) + len(result.Stale) +
			len(result.MissingFiles) + len(result.Errors)
		return fmt.Errorf("check failed: %d problem(s), run 'refpin generate' to update", total)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkOutDir, "out", "generated", "output directory holding descriptors")
	rootCmd.AddCommand(checkCmd)
}
