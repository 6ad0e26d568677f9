package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/bianoble/refpin/internal/checkout"
)

// CheckoutStore is the on-disk side of the checkout cache.
type CheckoutStore interface {
	List() ([]string, error)
	Remove(key string) error
}

// PruneEngine removes checkouts that no registry ref normalizes to.
type PruneEngine struct {
	Store CheckoutStore
	// Cache, when set, has its Ready entries trimmed to the same key set.
	Cache  *checkout.Cache
	Logger *slog.Logger
}

// PruneOptions configures a prune run.
type PruneOptions struct {
	DryRun bool
}

// Prune keeps the checkouts for refs and removes every other one.
func (p *PruneEngine) Prune(ctx context.Context, refs []string, opts PruneOptions) (*PruneResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	keep := make(map[string]bool, len(refs))
	for _, ref := range refs {
		keep[checkout.Normalize(ref)] = true
	}

	keys, err := p.Store.List()
	if err != nil {
		return nil, fmt.Errorf("listing checkouts: %w", err)
	}

	result := &PruneResult{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if keep[key] {
			result.Kept = append(result.Kept, key)
			continue
		}
		if !opts.DryRun {
			if err := p.Store.Remove(key); err != nil {
				return result, fmt.Errorf("removing checkout %s: %w", key, err)
			}
			logger.Info("checkout removed", slog.String("key", key))
		}
		result.Removed = append(result.Removed, key)
	}

	if p.Cache != nil && !opts.DryRun {
		result.Evicted = p.Cache.Retain(refs)
	}

	sort.Strings(result.Kept)
	sort.Strings(result.Removed)
	return result, nil
}
