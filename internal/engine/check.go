package engine

import (
	"os"
	"sort"

	"github.com/bianoble/refpin/internal/lock"
	"github.com/bianoble/refpin/internal/resolve"
	"github.com/bianoble/refpin/internal/sandbox"
)

// CheckEngine compares the lockfile against what the registry resolves to now.
type CheckEngine struct {
	Resolver Resolver
	// Output, when set, is checked for each locked target's descriptor.
	Output *sandbox.Root
}

// Check re-resolves every request without fetching anything. A request
// whose resolution fails is reported in Errors and makes the result unclean.
func (c *CheckEngine) Check(lf *lock.Lockfile, reqs []resolve.Request) *CheckResult {
	result := &CheckResult{}

	locked := map[string]lock.Entry{}
	if lf != nil {
		locked = lf.Index()
	}

	requested := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		id := requestID(req.Service, req.Env, req.Region)
		requested[id] = true

		ref, err := c.Resolver.Resolve(req)
		if err != nil {
			result.Errors = append(result.Errors, ServiceError{Request: req, Stage: "resolve", Err: err})
			continue
		}

		entry, ok := locked[id]
		if !ok {
			result.Missing = append(result.Missing, id)
			continue
		}
		if entry.Ref != ref.Ref {
			result.Drifted = append(result.Drifted, DriftEntry{
				ID:         id,
				Expected:   entry.Ref,
				Actual:     ref.Ref,
				Provenance: ref.Provenance,
			})
		}

		if c.Output != nil {
			rel := DescriptorPath(req.Service, req.Env, req.Region)
			abs, err := c.Output.Resolve(rel)
			if err != nil || !fileExists(abs) {
				result.MissingFiles = append(result.MissingFiles, rel)
			}
		}
	}

	for id := range locked {
		if !requested[id] {
			result.Stale = append(result.Stale, id)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Stale)
	sort.Strings(result.MissingFiles)
	sort.Slice(result.Drifted, func(i, j int) bool { return result.Drifted[i].ID < result.Drifted[j].ID })

	result.Clean = len(result.Drifted) == 0 && len(result.Missing) == 0 &&
		len(result.Stale) == 0 && len(result.MissingFiles) == 0 && len(result.Errors) == 0
	return result
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
