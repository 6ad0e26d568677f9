package lock

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a refpin.lock file.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}

	if errs := Validate(&lf); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &lf, nil
}

// Save writes a lockfile atomically using a temp file and rename. Entries
// are written sorted by service, env and region.
func Save(path string, lf *Lockfile) error {
	sorted := *lf
	sorted.Entries = append([]Entry(nil), lf.Entries...)
	sort.Slice(sorted.Entries, func(i, j int) bool {
		return sorted.Entries[i].ID() < sorted.Entries[j].ID()
	})

	data, err := yaml.Marshal(&sorted)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp lockfile %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp lockfile to %s: %w", path, err)
	}

	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lockfile validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Lockfile for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(lf *Lockfile) []string {
	var errs []string

	if lf.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", lf.Version))
	}

	ids := make(map[string]bool)
	for i, e := range lf.Entries {
		prefix := fmt.Sprintf("entry[%d]", i)
		if e.Service != "" {
			prefix = fmt.Sprintf("entry '%s'", e.ID())
		}

		if e.Service == "" || e.Env == "" || e.Region == "" {
			errs = append(errs, fmt.Sprintf("%s: 'service', 'env' and 'region' are required", prefix))
		} else if ids[e.ID()] {
			errs = append(errs, fmt.Sprintf("%s: duplicate entry", prefix))
		} else {
			ids[e.ID()] = true
		}

		if e.Ref == "" {
			errs = append(errs, fmt.Sprintf("%s: 'ref' is required", prefix))
		}
		if e.Provenance == "" {
			errs = append(errs, fmt.Sprintf("%s: 'provenance' is required", prefix))
		}
	}

	return errs
}
