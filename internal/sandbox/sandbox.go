// Package sandbox confines generated output to a single directory tree.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root is a directory that generated files must stay inside. Paths passed
// to its methods are relative to the root; symlinks and ".." are resolved
// before the containment check.
type Root struct {
	dir string
}

// Open returns a Root for dir, creating the directory if needed.
func Open(dir string) (*Root, error) {
	if dir == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output root %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving output root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving output root symlinks: %w", err)
	}
	return &Root{dir: resolved}, nil
}

// Dir returns the resolved root directory.
func (r *Root) Dir() string { return r.dir }

// Resolve returns the absolute path for rel, or an error if it escapes the root.
func (r *Root) Resolve(rel string) (string, error) {
	candidate := filepath.Clean(filepath.Join(r.dir, rel))

	// The path may not exist yet; resolve the longest existing prefix.
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}

	prefix := r.dir + string(filepath.Separator)
	if resolved != r.dir && !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("path '%s' resolves to '%s' which is outside the output root '%s'", rel, resolved, r.dir)
	}
	return resolved, nil
}

func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return path, nil
	}
	parent, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// WriteFile atomically writes content to rel. Returns false when the file
// already holds exactly content and was left untouched.
func (r *Root) WriteFile(rel string, content []byte, perm os.FileMode) (bool, error) {
	target, err := r.Resolve(rel)
	if err != nil {
		return false, err
	}

	if existing, err := os.ReadFile(target); err == nil && string(existing) == string(content) {
		return false, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	// Temp file in the same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".refpin-*.tmp")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return false, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return false, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return false, fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return false, fmt.Errorf("renaming temp file to %s: %w", target, err)
	}

	success = true
	return true, nil
}

// Remove deletes rel and any parent directories it leaves empty, up to
// the root. A missing file is not an error.
func (r *Root) Remove(rel string) error {
	target, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}

	for dir := filepath.Dir(target); dir != r.dir && strings.HasPrefix(dir, r.dir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty
		}
	}
	return nil
}
