package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bianoble/refpin/pkg/refpin"
)

var (
	generateDryRun      bool
	generateOutDir      string
	generateWorkers     int
	generateServices    []string
	generateMetricsFile string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Resolve every service target and write descriptors",
	Long: `Resolves the config ref of every (service, env, region) target in the
services manifest, checks out each distinct ref once, and writes one
descriptor per target to <out>/<env>/<region>/<service>.yaml. The lockfile
is updated with the refs chosen by this run.

A failure for one target is reported and does not stop the others; the
command exits non-zero if any target failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		client, err := newClient(clientOptions{
			outputDir: generateOutDir,
			workers:   generateWorkers,
			metrics:   reg,
		})
		if err != nil {
			return err
		}

		result, err := client.Generate(cmd.Context(), refpin.GenerateOptions{
			DryRun:   generateDryRun,
			Services: generateServices,
		})
		if err != nil {
			return err
		}

		if generateDryRun {
			info("Dry run — no files written.")
			for _, t := range result.Targets {
				info("  %-40s %s  (%s)", t.Request.String(), t.Ref.Ref, t.Ref.Provenance)
			}
		}

		written := 0
		for _, f := range result.Files {
			if f.Action == "unchanged" {
				detail("%s  %s", f.Action, f.Path)
				continue
			}
			written++
			info("  %-9s %s", f.Action, f.Path)
		}
		for _, e := range result.Errors {
			errorf("%s", e.Error())
		}

		if generateMetricsFile != "" {
			if err := prometheus.WriteToTextfile(generateMetricsFile, reg); err != nil {
				return fmt.Errorf("writing metrics: %w", err)
			}
		}

		info("")
		info("Generate complete: %d targets, %d files changed, %d errors.",
			len(result.Targets), written, len(result.Errors))
		if result.RunID != "" {
			detail("run: %s", result.RunID)
		}

		if len(result.Errors) > 0 {
			return fmt.Errorf("%d target(s) failed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false, "resolve and fetch without writing descriptors or the lockfile")
	generateCmd.Flags().StringVar(&generateOutDir, "out", "generated", "output directory for descriptors")
	generateCmd.Flags().IntVar(&generateWorkers, "workers", 8, "maximum targets processed concurrently")
	generateCmd.Flags().StringSliceVar(&generateServices, "service", nil, "only generate these services (repeatable)")
	generateCmd.Flags().StringVar(&generateMetricsFile, "metrics-file", "", "write checkout cache metrics in Prometheus text format")
	rootCmd.AddCommand(generateCmd)
}
