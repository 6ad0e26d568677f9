package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/refpin/internal/resolve"
)

// Load reads and validates a services.yaml manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if errs := Validate(&m); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &m, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Manifest for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(m *Manifest) []string {
	var errs []string

	if m.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", m.Version))
	}

	names := make(map[string]bool)
	for i, svc := range m.Services {
		prefix := fmt.Sprintf("service[%d]", i)
		if svc.Name != "" {
			prefix = fmt.Sprintf("service '%s'", svc.Name)
		}

		if svc.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		} else if names[svc.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate service name '%s'", prefix, svc.Name))
		} else {
			names[svc.Name] = true
		}

		if len(svc.Targets) == 0 {
			errs = append(errs, fmt.Sprintf("%s: at least one target is required", prefix))
		}

		seen := make(map[string]bool)
		for j, tgt := range svc.Targets {
			tprefix := fmt.Sprintf("%s target[%d]", prefix, j)
			if tgt.Env == "" {
				errs = append(errs, fmt.Sprintf("%s: 'env' is required", tprefix))
			}
			if tgt.Region == "" {
				errs = append(errs, fmt.Sprintf("%s: 'region' is required", tprefix))
			}
			key := tgt.Env + "/" + tgt.Region
			if tgt.Env != "" && tgt.Region != "" {
				if seen[key] {
					errs = append(errs, fmt.Sprintf("%s: duplicate target env '%s' region '%s'", tprefix, tgt.Env, tgt.Region))
				}
				seen[key] = true
			}
		}
	}

	return errs
}

// Requests expands the manifest into one resolution request per service
// target, sorted by service, env and region.
func (m *Manifest) Requests() []resolve.Request {
	var reqs []resolve.Request
	for _, svc := range m.Services {
		for _, tgt := range svc.Targets {
			ch := svc.Channel
			if tgt.Channel != "" {
				ch = tgt.Channel
			}
			reqs = append(reqs, resolve.Request{
				Service: svc.Name,
				Channel: ch,
				Env:     tgt.Env,
				Region:  tgt.Region,
			})
		}
	}
	SortRequests(reqs)
	return reqs
}

// SortRequests orders requests by service, env and region.
func SortRequests(reqs []resolve.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		a, b := reqs[i], reqs[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Env != b.Env {
			return a.Env < b.Env
		}
		return a.Region < b.Region
	})
}

// Filter returns the requests for the named services only. An empty names
// list returns reqs unchanged. Unknown names are an error.
func Filter(reqs []resolve.Request, names []string) ([]resolve.Request, error) {
	if len(names) == 0 {
		return reqs, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []resolve.Request
	found := make(map[string]bool)
	for _, r := range reqs {
		if want[r.Service] {
			out = append(out, r)
			found[r.Service] = true
		}
	}

	var missing []string
	for _, n := range names {
		if !found[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown service(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
