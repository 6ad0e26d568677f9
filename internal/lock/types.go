package lock

import "time"

// Lockfile represents the refpin.lock file: the refs chosen by the last
// generation run.
type Lockfile struct {
	Version     int       `yaml:"version"`
	RunID       string    `yaml:"run_id,omitempty"`
	GeneratedAt time.Time `yaml:"generated_at,omitempty"`
	Entries     []Entry   `yaml:"entries"`
}

// Entry records the resolution of one (service, env, region) target.
type Entry struct {
	Service    string `yaml:"service"`
	Env        string `yaml:"env"`
	Region     string `yaml:"region"`
	Ref        string `yaml:"ref"`
	Provenance string `yaml:"provenance"`
	Key        string `yaml:"key"`
}

// ID identifies the target an entry belongs to.
func (e Entry) ID() string {
	return e.Service + "/" + e.Env + "/" + e.Region
}

// Index returns the entries keyed by ID.
func (lf *Lockfile) Index() map[string]Entry {
	out := make(map[string]Entry, len(lf.Entries))
	for _, e := range lf.Entries {
		out[e.ID()] = e
	}
	return out
}
