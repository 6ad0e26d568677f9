// Package checkout materializes Git refs of the shared configuration
// repository and shares each materialized ref across every caller that
// needs it within a run.
//
// A ref is normalized to a cache key (see Normalize). For a given key the
// injected Fetcher runs at most once at a time; concurrent callers for the
// same key wait for that single fetch and all receive the same Handle or the
// same FetchError. Failed fetches are evicted so a later call retries.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher materializes a ref and returns the local path of its content.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, ref string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Handle locates a materialized ref. It is opaque to resolution.
type Handle struct {
	Key       string
	Ref       string
	Path      string
	FetchedAt time.Time
}

// FetchError reports a failed materialization. Every caller waiting on the
// same key receives the same FetchError.
type FetchError struct {
	Ref string
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s (%s): %s", e.Ref, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrInvalidRef is returned for refs that normalize to an unusable key.
var ErrInvalidRef = errors.New("invalid ref")

// Options configures a Cache.
type Options struct {
	// FetchTimeout bounds a single Fetcher call. Zero means no timeout.
	FetchTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Cache holds ready checkouts keyed by normalized ref.
type Cache struct {
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	flight  singleflight.Group

	mu       sync.Mutex
	ready    map[string]Handle
	inFlight map[string]string // key -> ref
}

// New creates a Cache backed by fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		ready:    make(map[string]Handle),
		inFlight: make(map[string]string),
	}
}

// GetOrFetch returns the checkout for ref, fetching it if no ready entry
// exists. If a fetch for the same key is already in flight the caller waits
// for it. Cancelling ctx stops this caller's wait only; the shared fetch
// continues for the other waiters.
func (c *Cache) GetOrFetch(ctx context.Context, ref string) (Handle, error) {
	key := Normalize(ref)
	if !validKey(key) {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	if h, ok := c.lookup(key); ok {
		c.metrics.hit()
		return h, nil
	}

	// The fetch must outlive the caller that started it.
	fetchCtx := context.WithoutCancel(ctx)
	// fn runs only for the caller that started the flight. Its write to
	// leader happens before the result is delivered on ch.
	leader := false
	ch := c.flight.DoChan(key, func() (any, error) {
		leader = true
		return c.fetch(fetchCtx, key, ref)
	})

	select {
	case res := <-ch:
		if res.Shared && !leader {
			c.metrics.sharedWait()
		}
		if res.Err != nil {
			return Handle{}, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		c.logger.Debug("stopped waiting for checkout", slog.String("key", key), slog.Any("error", ctx.Err()))
		return Handle{}, ctx.Err()
	}
}

// fetch runs inside the singleflight group, so at most one call per key is
// active at a time.
func (c *Cache) fetch(ctx context.Context, key, ref string) (Handle, error) {
	c.mu.Lock()
	if h, ok := c.ready[key]; ok {
		// Populated between the caller's lookup and joining the group.
		c.mu.Unlock()
		c.metrics.hit()
		return h, nil
	}
	c.inFlight[key] = ref
	c.mu.Unlock()

	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	c.logger.Info("fetching checkout", slog.String("ref", ref), slog.String("key", key))
	start := time.Now()
	path, err := c.fetcher.Fetch(ctx, ref)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)

	if err != nil {
		c.metrics.observeFetch("failure", elapsed.Seconds())
		c.logger.Warn("checkout fetch failed",
			slog.String("ref", ref), slog.String("key", key),
			slog.Duration("elapsed", elapsed), slog.Any("error", err))
		return Handle{}, &FetchError{Ref: ref, Key: key, Err: err}
	}

	h := Handle{Key: key, Ref: ref, Path: path, FetchedAt: start}
	c.ready[key] = h
	c.metrics.observeFetch("success", elapsed.Seconds())
	c.metrics.setEntries(len(c.ready))
	c.logger.Info("checkout ready",
		slog.String("key", key), slog.String("path", path), slog.Duration("elapsed", elapsed))
	return h, nil
}

func (c *Cache) lookup(key string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.ready[key]
	return h, ok
}

// InFlight reports whether a fetch for ref's key is currently running.
func (c *Cache) InFlight(ref string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[Normalize(ref)]
	return ok
}

// Entries returns the ready checkouts sorted by key.
func (c *Cache) Entries() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Handle, 0, len(c.ready))
	for _, h := range c.ready {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Evict drops the ready entry for ref. The next request fetches again.
// Returns false if there was no ready entry.
func (c *Cache) Evict(ref string) bool {
	key := Normalize(ref)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ready[key]; !ok {
		return false
	}
	delete(c.ready, key)
	c.metrics.setEntries(len(c.ready))
	return true
}

// Retain evicts every ready entry whose key is not produced by one of refs.
// It returns the evicted keys, sorted.
func (c *Cache) Retain(refs []string) []string {
	keep := make(map[string]bool, len(refs))
	for _, ref := range refs {
		keep[Normalize(ref)] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	for key := range c.ready {
		if !keep[key] {
			delete(c.ready, key)
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	c.metrics.setEntries(len(c.ready))
	return evicted
}

// Reset drops every ready entry. Fetches in flight still complete and are
// stored.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = make(map[string]Handle)
	c.metrics.setEntries(0)
}
