package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/refpin/internal/checkout"
	"github.com/bianoble/refpin/internal/lock"
	"github.com/bianoble/refpin/internal/resolve"
	"github.com/bianoble/refpin/internal/sandbox"
)

// DefaultWorkers bounds concurrent target processing when Workers is unset.
const DefaultWorkers = 8

// Resolver resolves a request to a ref.
type Resolver interface {
	Resolve(req resolve.Request) (resolve.Ref, error)
}

// Checkouts materializes refs, sharing fetches across callers.
type Checkouts interface {
	GetOrFetch(ctx context.Context, ref string) (checkout.Handle, error)
}

// Generator resolves and materializes a batch of service targets and writes
// one descriptor per target.
type Generator struct {
	Resolver  Resolver
	Checkouts Checkouts
	// Output receives descriptors. Nil skips writing.
	Output  *sandbox.Root
	Workers int
	Logger  *slog.Logger
	// Metrics records non-dry runs. Nil records nothing.
	Metrics *Metrics
}

// GenerateOptions configures a generation run.
type GenerateOptions struct {
	DryRun bool
	// Previous is the lockfile of the last run. Its entries are carried over
	// for targets that fail now, and descriptors of targets no longer
	// requested are removed.
	Previous *lock.Lockfile
}

// Generate processes every request. A resolution or fetch failure is
// recorded for that target and does not stop the others. The returned
// error is non-nil only for run-level failures (cancellation, output I/O).
func (g *Generator) Generate(ctx context.Context, reqs []resolve.Request, opts GenerateOptions) (result *GenerateResult, err error) {
	if !opts.DryRun {
		start := time.Now()
		defer func() { g.Metrics.observeRun(start, result, err) }()
	}

	logger := g.logger()
	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	logger.Info("generation started", slog.Int("targets", len(reqs)))

	type outcome struct {
		target *Target
		err    *ServiceError
	}
	outcomes := make([]outcome, len(reqs))

	workers := g.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var eg errgroup.Group
	eg.SetLimit(workers)

	for i, req := range reqs {
		eg.Go(func() error {
			t, serr := g.process(ctx, req)
			if serr != nil {
				logger.Warn("target failed",
					slog.String("service", req.Service), slog.String("env", req.Env), slog.String("region", req.Region),
					slog.String("stage", serr.Stage), slog.Any("error", serr.Err))
			}
			outcomes[i] = outcome{target: t, err: serr}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation cancelled: %w", err)
	}

	result = &GenerateResult{RunID: runID}
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, *o.err)
			continue
		}
		result.Targets = append(result.Targets, *o.target)
	}
	sort.Slice(result.Targets, func(i, j int) bool {
		return targetID(result.Targets[i]) < targetID(result.Targets[j])
	})

	if opts.DryRun {
		logger.Info("generation finished (dry run)",
			slog.Int("targets", len(result.Targets)), slog.Int("errors", len(result.Errors)))
		return result, nil
	}

	if g.Output != nil {
		files, werr := g.writeDescriptors(result.Targets, reqs, opts.Previous)
		result.Files = files
		if werr != nil {
			return result, werr
		}
	}

	result.Lockfile = buildLockfile(runID, result, opts.Previous)
	logger.Info("generation finished",
		slog.Int("targets", len(result.Targets)), slog.Int("errors", len(result.Errors)),
		slog.Int("files", len(result.Files)))
	return result, nil
}

func (g *Generator) process(ctx context.Context, req resolve.Request) (*Target, *ServiceError) {
	ref, err := g.Resolver.Resolve(req)
	if err != nil {
		return nil, &ServiceError{Request: req, Stage: "resolve", Err: err}
	}

	h, err := g.Checkouts.GetOrFetch(ctx, ref.Ref)
	if err != nil {
		return nil, &ServiceError{Request: req, Stage: "fetch", Err: err}
	}

	return &Target{Request: req, Ref: ref, Checkout: h}, nil
}

func (g *Generator) writeDescriptors(targets []Target, reqs []resolve.Request, previous *lock.Lockfile) ([]FileAction, error) {
	var actions []FileAction

	for _, t := range targets {
		rel := DescriptorPath(t.Request.Service, t.Request.Env, t.Request.Region)
		data, err := newDescriptor(t).marshal()
		if err != nil {
			return actions, err
		}

		existed := true
		if abs, err := g.Output.Resolve(rel); err == nil {
			existed = fileExists(abs)
		}

		changed, err := g.Output.WriteFile(rel, data, 0644)
		if err != nil {
			return actions, fmt.Errorf("writing descriptor %s: %w", rel, err)
		}

		switch {
		case !changed:
			actions = append(actions, FileAction{Path: rel, Action: "unchanged"})
		case existed:
			actions = append(actions, FileAction{Path: rel, Action: "modified"})
		default:
			actions = append(actions, FileAction{Path: rel, Action: "written"})
		}
	}

	if previous == nil {
		return actions, nil
	}

	requested := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		requested[requestID(r.Service, r.Env, r.Region)] = true
	}
	for _, e := range previous.Entries {
		if requested[e.ID()] {
			continue
		}
		rel := DescriptorPath(e.Service, e.Env, e.Region)
		if err := g.Output.Remove(rel); err != nil {
			return actions, fmt.Errorf("removing stale descriptor %s: %w", rel, err)
		}
		actions = append(actions, FileAction{Path: rel, Action: "removed"})
	}

	return actions, nil
}

// buildLockfile records every successful target. A target that failed in
// this run keeps its previous entry, since its descriptor was not rewritten.
func buildLockfile(runID string, result *GenerateResult, previous *lock.Lockfile) *lock.Lockfile {
	lf := &lock.Lockfile{
		Version:     1,
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
	}
	for _, t := range result.Targets {
		lf.Entries = append(lf.Entries, lockEntry(t))
	}

	if previous != nil {
		prev := previous.Index()
		for _, se := range result.Errors {
			if e, ok := prev[requestID(se.Request.Service, se.Request.Env, se.Request.Region)]; ok {
				lf.Entries = append(lf.Entries, e)
			}
		}
	}

	sort.Slice(lf.Entries, func(i, j int) bool { return lf.Entries[i].ID() < lf.Entries[j].ID() })
	return lf
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func targetID(t Target) string {
	return requestID(t.Request.Service, t.Request.Env, t.Request.Region)
}
