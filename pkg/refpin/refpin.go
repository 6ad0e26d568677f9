// Package refpin provides the public Go library API for refpin.
//
// refpin decides which ref of the shared configuration repository each
// (service, environment, region) uses, and materializes every distinct ref
// at most once per run even when many services are generated concurrently.
//
// # Basic Usage
//
//	client, err := refpin.New(refpin.Options{
//	    RegistryPaths: []string{"registry.yaml"},
//	    ServicesPath:  "services.yaml",
//	    LockfilePath:  "refpin.lock",
//	    OutputDir:     "generated",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Resolve a single target
//	ref, err := client.Resolve(refpin.Request{Service: "payments", Env: "prod", Region: "euw2"})
//
//	// Resolve, fetch and write descriptors for every service target
//	result, err := client.Generate(ctx, refpin.GenerateOptions{})
//
//	// Check the lockfile against the current registry
//	checkResult, err := client.Check(ctx)
package refpin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bianoble/refpin/internal/checkout"
	"github.com/bianoble/refpin/internal/engine"
	"github.com/bianoble/refpin/internal/fetch"
	"github.com/bianoble/refpin/internal/lock"
	"github.com/bianoble/refpin/internal/manifest"
	"github.com/bianoble/refpin/internal/registry"
	"github.com/bianoble/refpin/internal/resolve"
	"github.com/bianoble/refpin/internal/sandbox"
)

// Default file locations, relative to the working directory.
const (
	DefaultRegistryPath = "registry.yaml"
	DefaultServicesPath = "services.yaml"
	DefaultLockfilePath = "refpin.lock"
	DefaultOutputDir    = "generated"
)

// Options configures a refpin client.
type Options struct {
	// RegistryPaths are the project registry layers, merged in order.
	// Default: "registry.yaml". System and user layers are prepended
	// unless NoInherit is set.
	RegistryPaths []string
	NoInherit     bool

	// ServicesPath is the services manifest. Default: "services.yaml".
	ServicesPath string

	// LockfilePath is the path to the lockfile. Default: "refpin.lock".
	LockfilePath string

	// OutputDir receives generated descriptors. Default: "generated".
	OutputDir string

	// CheckoutDir holds on-disk checkouts. If empty, uses the default
	// (~/.cache/refpin/checkouts).
	CheckoutDir string

	// Fetcher overrides the git fetcher. Prune is only available when the
	// fetcher also lists and removes its checkouts.
	Fetcher Fetcher

	// Workers bounds concurrent target processing during Generate.
	Workers int

	// FetchTimeout bounds a single fetch. Zero means no timeout.
	FetchTimeout time.Duration

	Logger *slog.Logger

	// Metrics receives the checkout cache and generation run collectors.
	// Nil disables registration.
	Metrics prometheus.Registerer
}

// GenerateOptions configures a generate operation.
type GenerateOptions struct {
	DryRun bool
	// Services restricts generation to the named services. Lock entries
	// and descriptors of other services are left as they are.
	Services []string
}

// PruneOptions configures a prune operation.
type PruneOptions struct {
	DryRun bool
}

// Client is the main entry point for the refpin library. The registry is
// loaded once in New and stays fixed for the client's lifetime; the
// checkout cache is shared by every call on the client.
type Client struct {
	registry *registry.Registry
	resolver *resolve.Resolver
	cache    *checkout.Cache
	store    engine.CheckoutStore
	metrics  *engine.Metrics
	logger   *slog.Logger

	servicesPath string
	lockfilePath string
	outputDir    string
	workers      int
}

// New loads the registry and creates a Client.
func New(opts Options) (*Client, error) {
	if len(opts.RegistryPaths) == 0 {
		opts.RegistryPaths = []string{DefaultRegistryPath}
	}
	if opts.ServicesPath == "" {
		opts.ServicesPath = DefaultServicesPath
	}
	if opts.LockfilePath == "" {
		opts.LockfilePath = DefaultLockfilePath
	}
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOutputDir
	}
	if opts.CheckoutDir == "" {
		opts.CheckoutDir = fetch.DefaultDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	layers := registry.DiscoverPaths(registry.DiscoverOptions{
		ProjectPaths: opts.RegistryPaths,
		NoInherit:    opts.NoInherit || registry.EnvNoInherit(),
	})
	for _, l := range layers {
		logger.Debug("registry layer", slog.String("path", l.Path), slog.String("level", string(l.Level)))
	}
	reg, err := registry.Load(registry.Paths(layers)...)
	if err != nil {
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = &fetch.GitFetcher{
			Repository: reg.Repository(),
			Dir:        opts.CheckoutDir,
			Logger:     logger,
		}
	}
	store, _ := fetcher.(engine.CheckoutStore)

	cache := checkout.New(fetcher, checkout.Options{
		FetchTimeout: opts.FetchTimeout,
		Logger:       logger,
		Metrics:      checkout.NewMetrics(opts.Metrics),
	})

	return &Client{
		registry:     reg,
		resolver:     resolve.New(reg),
		cache:        cache,
		store:        store,
		metrics:      engine.NewMetrics(opts.Metrics),
		logger:       logger,
		servicesPath: opts.ServicesPath,
		lockfilePath: opts.LockfilePath,
		outputDir:    opts.OutputDir,
		workers:      opts.Workers,
	}, nil
}

// Resolve returns the ref a request resolves to and the rule that produced it.
func (c *Client) Resolve(req Request) (Ref, error) {
	return c.resolver.Resolve(req)
}

// GetOrFetchCheckout returns the checkout for ref, fetching it at most once
// across concurrent callers.
func (c *Client) GetOrFetchCheckout(ctx context.Context, ref string) (Handle, error) {
	return c.cache.GetOrFetch(ctx, ref)
}

// Refs returns every ref the registry can resolve to, sorted.
func (c *Client) Refs() []string {
	return c.registry.Refs()
}

// Generate resolves and fetches every service target, writes descriptors
// and saves the lockfile. Per-target failures are reported in the result's
// Errors; the returned error covers run-level failures only.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	reqs, err := c.requests(opts.Services)
	if err != nil {
		return nil, err
	}
	previous, err := c.loadLockfile()
	if err != nil {
		return nil, err
	}

	gen := &engine.Generator{
		Resolver:  c.resolver,
		Checkouts: c.cache,
		Workers:   c.workers,
		Logger:    c.logger,
		Metrics:   c.metrics,
	}
	if !opts.DryRun {
		out, err := sandbox.Open(c.outputDir)
		if err != nil {
			return nil, err
		}
		gen.Output = out
	}

	scoped, untouched := splitLockfile(previous, opts.Services)
	result, err := gen.Generate(ctx, reqs, engine.GenerateOptions{DryRun: opts.DryRun, Previous: scoped})
	if err != nil {
		return result, err
	}

	if !opts.DryRun && result.Lockfile != nil {
		result.Lockfile.Entries = append(result.Lockfile.Entries, untouched...)
		if err := lock.Save(c.lockfilePath, result.Lockfile); err != nil {
			return result, fmt.Errorf("saving lockfile: %w", err)
		}
	}
	return result, nil
}

// Check reports how the lockfile and descriptors differ from what the
// registry resolves to now. Nothing is fetched.
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reqs, err := c.requests(nil)
	if err != nil {
		return nil, err
	}
	lf, err := c.loadLockfile()
	if err != nil {
		return nil, err
	}
	out, err := sandbox.Open(c.outputDir)
	if err != nil {
		return nil, err
	}

	eng := &engine.CheckEngine{Resolver: c.resolver, Output: out}
	return eng.Check(lf, reqs), nil
}

// Prune removes on-disk checkouts that no registry ref normalizes to and
// evicts them from the in-memory cache.
func (c *Client) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	if c.store == nil {
		return nil, errors.New("prune is not supported by the configured fetcher")
	}
	eng := &engine.PruneEngine{Store: c.store, Cache: c.cache, Logger: c.logger}
	return eng.Prune(ctx, c.registry.Refs(), engine.PruneOptions{DryRun: opts.DryRun})
}

func (c *Client) requests(services []string) ([]Request, error) {
	m, err := manifest.Load(c.servicesPath)
	if err != nil {
		return nil, err
	}
	return manifest.Filter(m.Requests(), services)
}

// loadLockfile reads the lockfile if it exists. Returns an empty lockfile if missing.
func (c *Client) loadLockfile() (*lock.Lockfile, error) {
	lf, err := lock.Load(c.lockfilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return &lock.Lockfile{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading lockfile %s: %w", c.lockfilePath, err)
	}
	return lf, nil
}

// splitLockfile separates the entries of the named services from the rest.
// With no names every entry is in scope.
func splitLockfile(lf *lock.Lockfile, services []string) (*lock.Lockfile, []lock.Entry) {
	if len(services) == 0 {
		return lf, nil
	}
	named := make(map[string]bool, len(services))
	for _, s := range services {
		named[s] = true
	}

	scoped := &lock.Lockfile{Version: lf.Version, RunID: lf.RunID, GeneratedAt: lf.GeneratedAt}
	var rest []lock.Entry
	for _, e := range lf.Entries {
		if named[e.Service] {
			scoped.Entries = append(scoped.Entries, e)
		} else {
			rest = append(rest, e)
		}
	}
	return scoped, rest
}
