package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bianoble/refpin/pkg/refpin"
)

// newLogger builds the structured logger for library diagnostics. Logs go
// to stderr so command output stays parseable.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// clientOptions carries per-command settings into newClient.
type clientOptions struct {
	outputDir string
	workers   int
	metrics   prometheus.Registerer
}

// newClient loads the registry and creates a library client from the global flags.
func newClient(co clientOptions) (*refpin.Client, error) {
	client, err := refpin.New(refpin.Options{
		RegistryPaths: registryPaths,
		NoInherit:     noInherit,
		ServicesPath:  servicesPath,
		LockfilePath:  lockfilePath,
		OutputDir:     co.outputDir,
		CheckoutDir:   checkoutDir,
		Workers:       co.workers,
		Logger:        newLogger(os.Stderr),
		Metrics:       co.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	return client, nil
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
