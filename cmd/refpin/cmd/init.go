package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

// registryTemplate is the default registry.yaml scaffold.
const registryTemplate = `# refpin registry: which refs of the shared config repo are in use.
version: 1

# Repository checked out for every ref below.
repository: https://git.example.com/platform/shared-config.git

# Named channels services can follow explicitly.
channels:
  stable: refs/tags/config-2025.11.06
  next: refs/tags/config-2025.11.20-rc1

# Direct pin per environment, used when nothing more specific applies.
env_pins:
  prod: refs/tags/config-2025.11.06

# Channel an environment follows by default.
default_channels:
  int-stable: next

# Pins for one exact (region, env) pair. These win over default channels
# and env pins but not over a service's own channel.
# region_pins:
#   - region: euw2
#     env: prod
#     ref: refs/tags/config-2025.10.30
`

// servicesTemplate is the default services.yaml scaffold.
const servicesTemplate = `# refpin services: which services are generated for which env and region.
version: 1

services:
  - name: payments
    # channel: stable        # optional: follow a named channel
    targets:
      - env: prod
        region: euw2
      - env: int-stable
        region: euw1
        # channel: next      # optional: per-target channel override
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create starter registry.yaml and services.yaml files",
	Long: `Creates a registry file (the last --registry path) and a services manifest
(--services) with well-commented templates.

Use --force to overwrite existing files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		regPath := "registry.yaml"
		if len(registryPaths) > 0 {
			regPath = registryPaths[len(registryPaths)-1]
		}

		files := []struct {
			path    string
			content string
		}{
			{regPath, registryTemplate},
			{servicesPath, servicesTemplate},
		}

		for i := range files {
			abs, err := filepath.Abs(files[i].path)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			files[i].path = abs

			if !initForce {
				if _, err := os.Stat(abs); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", abs)
				}
			}
		}

		for _, f := range files {
			if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
				return fmt.Errorf("creating directory for %s: %w", f.path, err)
			}
			if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", f.path, err)
			}
			info("Created %s", f.path)
		}

		info("")
		info("Next steps:")
		info("  1. Point 'repository' at your shared config repo and set the refs")
		info("  2. List your services and their targets in the services file")
		info("  3. Run 'refpin generate' to resolve, check out and lock")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}
