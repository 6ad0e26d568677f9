package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const registryFileName = "registry.yaml"
const registryDirName = "refpin"

// Level represents the precedence level of a registry layer.
type Level string

const (
	LevelSystem  Level = "system"
	LevelUser    Level = "user"
	LevelProject Level = "project"
)

// Layer describes a discovered registry file.
type Layer struct {
	Path  string
	Level Level
}

// DiscoverOptions controls how registry layers are discovered.
type DiscoverOptions struct {
	// ProjectPaths are the project-level registry files, applied last in order.
	ProjectPaths []string

	// SystemPath overrides the default system path. Empty means the OS default.
	SystemPath string

	// UserPath overrides the default user path. Empty means the OS default.
	UserPath string

	// NoInherit skips the system and user layers.
	NoInherit bool
}

// DiscoverPaths returns the ordered list of registry layers, from lowest
// precedence (system) to highest (project). System and user layers are only
// included when the file exists; project layers are always included so a
// missing project file is reported by Load. Paths are deduplicated by
// absolute path.
func DiscoverPaths(opts DiscoverOptions) []Layer {
	var layers []Layer
	seen := make(map[string]bool)

	add := func(level Level, path string, mustExist bool) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		if mustExist {
			if _, err := os.Stat(path); err != nil {
				return
			}
		}
		seen[abs] = true
		layers = append(layers, Layer{Path: path, Level: level})
	}

	if !opts.NoInherit && !EnvNoInherit() {
		sys := opts.SystemPath
		if sys == "" {
			sys = defaultSystemPath()
		}
		add(LevelSystem, sys, true)

		user := opts.UserPath
		if user == "" {
			user = defaultUserPath()
		}
		add(LevelUser, user, true)
	}

	for _, p := range opts.ProjectPaths {
		add(LevelProject, p, false)
	}

	return layers
}

// Paths returns the file paths of layers in order.
func Paths(layers []Layer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = l.Path
	}
	return out
}

func defaultSystemPath() string {
	switch runtime.GOOS {
	case "windows":
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, registryDirName, registryFileName)
	default:
		return filepath.Join("/etc", registryDirName, registryFileName)
	}
}

func defaultUserPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, registryDirName, registryFileName)
}

// EnvNoInherit returns true if REFPIN_NO_INHERIT is set to "1" or "true".
func EnvNoInherit() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("REFPIN_NO_INHERIT")))
	return v == "1" || v == "true"
}
