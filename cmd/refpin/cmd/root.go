package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	registryPaths []string
	servicesPath  string
	lockfilePath  string
	checkoutDir   string
	noInherit     bool
	verbose       bool
	quiet         bool
	logFormat     string
)

var rootCmd = &cobra.Command{
	Use:   "refpin",
	Short: "Resolve and pin shared configuration refs per service",
	Long: `refpin decides which ref of the shared configuration repository each
service uses in each environment and region. A service may follow a named
channel; otherwise a region pin, the environment's default channel or the
environment pin applies, in that order. Every distinct ref is checked out
once per run and shared by all services that resolve to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch logFormat {
		case "text", "json":
			return nil
		default:
			return fmt.Errorf("invalid --log-format %q — expected 'text' or 'json'", logFormat)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("refpin %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&registryPaths, "registry", []string{"registry.yaml"}, "path to a registry file (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&servicesPath, "services", "services.yaml", "path to services manifest")
	rootCmd.PersistentFlags().StringVar(&lockfilePath, "lockfile", "refpin.lock", "path to lockfile")
	rootCmd.PersistentFlags().StringVar(&checkoutDir, "checkout-dir", "", "checkout directory (default ~/.cache/refpin/checkouts)")
	rootCmd.PersistentFlags().BoolVar(&noInherit, "no-inherit", false, "ignore system and user registry layers")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
