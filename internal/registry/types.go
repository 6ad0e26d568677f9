package registry

import "fmt"

// RegionKey identifies a region pin. Both fields must match exactly.
type RegionKey struct {
	Region string
	Env    string
}

func (k RegionKey) String() string {
	return k.Region + "/" + k.Env
}

// Maps holds the raw lookup tables of a single registry layer, or the
// result of merging several layers.
type Maps struct {
	// Repository is the Git URL of the shared configuration repository.
	Repository string

	Version int

	Channels        map[string]string    // channel -> ref
	EnvPins         map[string]string    // env -> ref
	DefaultChannels map[string]string    // env -> channel
	RegionPins      map[RegionKey]string // (region, env) -> ref
}

// ConfigParseError reports malformed registry input: bad YAML, duplicate
// keys, non-string values or empty refs.
type ConfigParseError struct {
	Source string // file name, or "<memory>"
	Line   int    // 0 when unknown
	Field  string
	Reason string
	Err    error
}

func (e *ConfigParseError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	msg := loc + ": "
	if e.Field != "" {
		msg += e.Field + ": "
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// DanglingReferenceError reports a default channel that names a channel
// absent from the channel map.
type DanglingReferenceError struct {
	Env     string
	Channel string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("default channel for env '%s' references undefined channel '%s'", e.Env, e.Channel)
}
