package engine

import (
	"github.com/bianoble/refpin/internal/checkout"
	"github.com/bianoble/refpin/internal/lock"
	"github.com/bianoble/refpin/internal/resolve"
)

// FileAction represents an action taken on a single descriptor file.
type FileAction struct {
	Path   string
	Action string // "written", "modified", "unchanged", "removed"
}

// ServiceError represents a failure for one service target. It never
// aborts the rest of a batch.
type ServiceError struct {
	Request resolve.Request
	Stage   string // "resolve" or "fetch"
	Err     error
}

func (e ServiceError) Error() string {
	return e.Request.String() + ": " + e.Stage + ": " + e.Err.Error()
}

func (e ServiceError) Unwrap() error {
	return e.Err
}

// Target is a successfully resolved and materialized service target.
type Target struct {
	Request  resolve.Request
	Ref      resolve.Ref
	Checkout checkout.Handle
}

// GenerateResult holds the outcome of a generation run.
type GenerateResult struct {
	RunID   string
	Targets []Target
	Files   []FileAction
	Errors  []ServiceError
	// Lockfile is the lock to persist; nil for dry runs.
	Lockfile *lock.Lockfile
}

// DriftEntry is a target whose current resolution differs from the lockfile.
type DriftEntry struct {
	ID         string
	Expected   string
	Actual     string
	Provenance resolve.Provenance
}

// CheckResult holds the outcome of a check operation.
type CheckResult struct {
	Clean        bool
	Drifted      []DriftEntry
	Missing      []string // targets with no lock entry
	Stale        []string // lock entries with no matching target
	MissingFiles []string // descriptors absent from the output root
	Errors       []ServiceError
}

// PruneResult holds the outcome of a prune operation.
type PruneResult struct {
	Removed []string // checkout keys
	Kept    []string
	Evicted []string // keys dropped from the in-memory cache
}
