// Package fetch materializes refs of the shared configuration repository on
// local disk using the git command line client.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/refpin/internal/checkout"
)

// markerFile is written into a checkout once it is complete. Directories
// without it are treated as absent.
const markerFile = ".refpin-checkout.yaml"

// Marker records what a checkout directory contains.
type Marker struct {
	Repository string    `yaml:"repository"`
	Ref        string    `yaml:"ref"`
	Commit     string    `yaml:"commit"`
	FetchedAt  time.Time `yaml:"fetched_at"`
}

// GitFetcher clones refs of Repository into Dir/<key>. Completed checkouts
// persist across runs and are reused without network access.
type GitFetcher struct {
	Repository string
	Dir        string
	Logger     *slog.Logger
}

// Fetch implements checkout.Fetcher.
func (g *GitFetcher) Fetch(ctx context.Context, ref string) (string, error) {
	if g.Repository == "" {
		return "", fmt.Errorf("repository is required — add 'repository: https://...' to the registry")
	}
	key := checkout.Normalize(ref)
	dest := filepath.Join(g.Dir, key)

	if m, err := ReadMarker(dest); err == nil && m.Ref == ref && m.Repository == g.Repository {
		if g.current(ctx, ref, m) {
			g.logger().Debug("reusing checkout", slog.String("key", key), slog.String("commit", m.Commit))
			return dest, nil
		}
	}

	if err := os.MkdirAll(g.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating checkout directory %s: %w", g.Dir, err)
	}

	// Clone next to the destination so the final rename stays on one filesystem.
	tmpDir, err := os.MkdirTemp(g.Dir, ".clone-"+key+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := gitClone(ctx, g.Repository, ref, tmpDir); err != nil {
		return "", err
	}

	commit, err := gitRevParse(ctx, tmpDir, "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving commit for %s: %w", ref, err)
	}

	if err := writeMarker(tmpDir, Marker{
		Repository: g.Repository,
		Ref:        ref,
		Commit:     commit,
		FetchedAt:  time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	// A stale or partial directory from an earlier run is replaced.
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("removing stale checkout %s: %w", dest, err)
	}
	if err := os.Rename(tmpDir, dest); err != nil {
		return "", fmt.Errorf("moving checkout into place: %w", err)
	}

	g.logger().Info("cloned checkout", slog.String("ref", ref), slog.String("commit", commit), slog.String("path", dest))
	return dest, nil
}

// current reports whether a persisted checkout still matches ref. Tags and
// commit SHAs are immutable and always match; anything else may be a branch
// and is compared against the remote's current commit.
func (g *GitFetcher) current(ctx context.Context, ref string, m *Marker) bool {
	if immutableRef(ref) {
		return true
	}
	commit, err := gitRemoteCommit(ctx, g.Repository, ref)
	if err != nil {
		g.logger().Warn("cannot check remote commit, fetching again",
			slog.String("ref", ref), slog.Any("error", err))
		return false
	}
	if commit != m.Commit {
		g.logger().Info("ref moved, fetching again",
			slog.String("ref", ref), slog.String("was", m.Commit), slog.String("now", commit))
		return false
	}
	return true
}

// immutableRef reports whether ref names a tag or a full commit SHA.
func immutableRef(ref string) bool {
	if strings.HasPrefix(ref, "refs/tags/") {
		return true
	}
	if len(ref) != 40 {
		return false
	}
	for _, c := range ref {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// List returns the keys of complete checkouts under Dir, sorted.
func (g *GitFetcher) List() ([]string, error) {
	entries, err := os.ReadDir(g.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing checkouts in %s: %w", g.Dir, err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(g.Dir, e.Name(), markerFile)); err != nil {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes the checkout for key.
func (g *GitFetcher) Remove(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsRune(key, filepath.Separator) {
		return fmt.Errorf("invalid checkout key %q", key)
	}
	return os.RemoveAll(filepath.Join(g.Dir, key))
}

func (g *GitFetcher) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ReadMarker reads the completion marker of a checkout directory.
func ReadMarker(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing checkout marker in %s: %w", dir, err)
	}
	return &m, nil
}

func writeMarker(dir string, m Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling checkout marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, markerFile), data, 0644); err != nil {
		return fmt.Errorf("writing checkout marker: %w", err)
	}
	return nil
}

// DefaultDir returns the default checkout directory.
// Uses XDG_CACHE_HOME if set, otherwise ~/.cache/refpin/checkouts.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "refpin", "checkouts")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "refpin-checkouts")
		}
		return filepath.Join("/tmp", "refpin-checkouts")
	}
	return filepath.Join(home, ".cache", "refpin", "checkouts")
}

// shortRef strips refs/tags/ and refs/heads/ so the ref can be passed to
// git clone --branch.
func shortRef(ref string) string {
	for _, prefix := range []string{"refs/tags/", "refs/heads/"} {
		if strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}
	return ref
}

func gitClone(ctx context.Context, repo, ref, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", shortRef(ref), "--single-branch", repo, dest)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// --branch only takes branch and tag names; fall back to a full clone
	// and checkout for commit SHAs and other refs.
	if rmErr := os.RemoveAll(dest); rmErr != nil {
		return fmt.Errorf("cleaning failed clone: %w", rmErr)
	}
	cmd2 := exec.CommandContext(ctx, "git", "clone", "--no-checkout", repo, dest)
	cmd2.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if _, err2 := cmd2.CombinedOutput(); err2 != nil {
		return fmt.Errorf("git clone failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	cmd3 := exec.CommandContext(ctx, "git", "-C", dest, "checkout", "--detach", ref)
	if out3, err3 := cmd3.CombinedOutput(); err3 != nil {
		return fmt.Errorf("git checkout %s failed: %s: %w", ref, strings.TrimSpace(string(out3)), err3)
	}
	return nil
}

func gitRevParse(ctx context.Context, repoDir, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", rev)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// gitRemoteCommit returns the commit ref points to on the remote. Short
// names prefer a branch over a tag; annotated tags are peeled.
func gitRemoteCommit(ctx context.Context, repo, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", repo, ref)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git ls-remote %s: %w", ref, err)
	}

	refs := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			refs[fields[1]] = fields[0]
		}
	}

	candidates := []string{ref + "^{}", ref}
	if !strings.HasPrefix(ref, "refs/") {
		candidates = []string{"refs/heads/" + ref, "refs/tags/" + ref + "^{}", "refs/tags/" + ref}
	}
	for _, name := range candidates {
		if sha, ok := refs[name]; ok {
			return sha, nil
		}
	}
	return "", fmt.Errorf("ref %s not found on remote", ref)
}
