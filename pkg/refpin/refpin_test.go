package refpin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/refpin/internal/lock"
)

const testRegistry = `version: 1
repository: https://git.example.com/platform/shared-config.git
channels:
  stable: refs/tags/config-2025.11.06
  next: refs/tags/config-2025.11.20-rc1
env_pins:
  prod: refs/tags/config-2025.11.06
default_channels:
  int-stable: next
region_pins:
  - region: euw2
    env: prod
    ref: refs/tags/config-2025.10.30
`

const testServices = `version: 1
services:
  - name: payments
    channel: stable
    targets:
      - env: prod
        region: euw2
  - name: ledger
    targets:
      - env: prod
        region: euw2
      - env: int-stable
        region: euw1
`

// memFetcher serves every ref from memory and tracks on-disk keys.
type memFetcher struct {
	calls atomic.Int32
	mu    sync.Mutex
	keys  map[string]bool
}

func (f *memFetcher) Fetch(_ context.Context, ref string) (string, error) {
	f.calls.Add(1)
	return "/mem/" + ref, nil
}

func (f *memFetcher) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.keys {
		out = append(out, k)
	}
	return out, nil
}

func (f *memFetcher) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newTestClient creates a client with isolated temp paths.
func newTestClient(t *testing.T, f Fetcher) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	client, err := New(Options{
		RegistryPaths: []string{writeFile(t, dir, "registry.yaml", testRegistry)},
		NoInherit:     true,
		ServicesPath:  writeFile(t, dir, "services.yaml", testServices),
		LockfilePath:  filepath.Join(dir, "refpin.lock"),
		OutputDir:     filepath.Join(dir, "generated"),
		CheckoutDir:   filepath.Join(dir, "checkouts"),
		Fetcher:       f,
	})
	require.NoError(t, err)
	return client, dir
}

func TestNewDefaultPaths(t *testing.T) {
	dir := t.TempDir()
	client, err := New(Options{
		RegistryPaths: []string{writeFile(t, dir, "registry.yaml", testRegistry)},
		NoInherit:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultServicesPath, client.servicesPath)
	assert.Equal(t, DefaultLockfilePath, client.lockfilePath)
	assert.Equal(t, DefaultOutputDir, client.outputDir)
	assert.NotNil(t, client.store, "git fetcher should support prune")
}

func TestNewInvalidRegistry(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{
		RegistryPaths: []string{writeFile(t, dir, "registry.yaml", "version: 1\ndefault_channels:\n  prod: missing\n")},
		NoInherit:     true,
	})
	var derr *DanglingReferenceError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Equal(t, "missing", derr.Channel)
}

func TestResolve(t *testing.T) {
	client, _ := newTestClient(t, &memFetcher{})

	ref, err := client.Resolve(Request{Service: "payments", Channel: "stable", Env: "prod", Region: "euw2"})
	require.NoError(t, err)
	assert.Equal(t, "refs/tags/config-2025.11.06", ref.Ref)
	assert.Equal(t, ProvenanceServiceChannel, ref.Provenance)

	ref, err = client.Resolve(Request{Service: "ledger", Env: "prod", Region: "euw2"})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceRegionPin, ref.Provenance)

	_, err = client.Resolve(Request{Service: "ledger", Env: "dev", Region: "euw2"})
	var nerr *NoConfigRefError
	assert.ErrorAs(t, err, &nerr)
}

func TestGetOrFetchCheckoutShared(t *testing.T) {
	f := &memFetcher{}
	client, _ := newTestClient(t, f)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := client.GetOrFetchCheckout(context.Background(), "refs/tags/config-2025.11.06")
			assert.NoError(t, err)
			assert.Equal(t, "config-2025.11.06", h.Key)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGenerateThenCheck(t *testing.T) {
	f := &memFetcher{}
	client, dir := newTestClient(t, f)
	ctx := context.Background()

	res, err := client.Generate(ctx, GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Targets, 3)
	// stable channel, euw2 region pin, next channel
	assert.Equal(t, int32(3), f.calls.Load())

	lf, err := lock.Load(filepath.Join(dir, "refpin.lock"))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, lf.RunID)
	assert.Len(t, lf.Entries, 3)

	_, err = os.Stat(filepath.Join(dir, "generated", "int-stable", "euw1", "ledger.yaml"))
	require.NoError(t, err)

	check, err := client.Check(ctx)
	require.NoError(t, err)
	assert.True(t, check.Clean, "%+v", check)
}

func TestGenerateDryRun(t *testing.T) {
	client, dir := newTestClient(t, &memFetcher{})

	res, err := client.Generate(context.Background(), GenerateOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Targets, 3)

	_, err = os.Stat(filepath.Join(dir, "refpin.lock"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "generated"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateSelectedServicesKeepsOthers(t *testing.T) {
	client, dir := newTestClient(t, &memFetcher{})
	ctx := context.Background()

	_, err := client.Generate(ctx, GenerateOptions{})
	require.NoError(t, err)

	res, err := client.Generate(ctx, GenerateOptions{Services: []string{"payments"}})
	require.NoError(t, err)
	assert.Len(t, res.Targets, 1)
	for _, fa := range res.Files {
		assert.NotEqual(t, "removed", fa.Action, fa.Path)
	}

	lf, err := lock.Load(filepath.Join(dir, "refpin.lock"))
	require.NoError(t, err)
	assert.Len(t, lf.Entries, 3)

	_, err = client.Generate(ctx, GenerateOptions{Services: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestCheckWithoutLockfile(t *testing.T) {
	client, _ := newTestClient(t, &memFetcher{})

	res, err := client.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Clean)
	assert.Len(t, res.Missing, 3)
}

func TestPrune(t *testing.T) {
	f := &memFetcher{keys: map[string]bool{
		"config-2025.11.06":      true,
		"config-2025.10.30":      true,
		"config-2025.08.01":      true,
		"config-2025.11.20-rc1": true,
	}}
	client, _ := newTestClient(t, f)

	res, err := client.Prune(context.Background(), PruneOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"config-2025.08.01"}, res.Removed)
	assert.Len(t, res.Kept, 3)
	assert.Len(t, f.keys, 3)
}

type fetchOnly struct{}

func (fetchOnly) Fetch(_ context.Context, ref string) (string, error) { return ref, nil }

func TestPruneUnsupportedFetcher(t *testing.T) {
	client, _ := newTestClient(t, fetchOnly{})
	_, err := client.Prune(context.Background(), PruneOptions{})
	require.Error(t, err)
}

func TestMetricsRegistered(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	client, err := New(Options{
		RegistryPaths: []string{writeFile(t, dir, "registry.yaml", testRegistry)},
		NoInherit:     true,
		Fetcher:       &memFetcher{},
		Metrics:       reg,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.GetOrFetchCheckout(ctx, "refs/tags/config-2025.11.06")
	require.NoError(t, err)
	_, err = client.GetOrFetchCheckout(ctx, "config-2025.11.06")
	require.NoError(t, err)

	expected := `# HELP refpin_checkout_hits_total Requests served from a ready checkout
# TYPE refpin_checkout_hits_total counter
refpin_checkout_hits_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "refpin_checkout_hits_total"))
}

func TestGenerateRegistersRunMetrics(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	client, err := New(Options{
		RegistryPaths: []string{writeFile(t, dir, "registry.yaml", testRegistry)},
		NoInherit:     true,
		ServicesPath:  writeFile(t, dir, "services.yaml", testServices),
		LockfilePath:  filepath.Join(dir, "refpin.lock"),
		OutputDir:     filepath.Join(dir, "generated"),
		Fetcher:       &memFetcher{},
		Metrics:       reg,
	})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), GenerateOptions{})
	require.NoError(t, err)

	expected := `# HELP refpin_generate_runs_total Generation runs by status
# TYPE refpin_generate_runs_total counter
refpin_generate_runs_total{status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "refpin_generate_runs_total"))

	n, err := testutil.GatherAndCount(reg, "refpin_generate_targets_completed")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per environment")
}
