package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher returns "/checkouts/<ref>" and counts invocations. When
// gate is non-nil each fetch blocks until it is closed.
type countingFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, ref string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "/checkouts/" + Normalize(ref), nil
}

func TestGetOrFetchConcurrentSingleFetch(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	c := New(f, Options{})

	const n = 50
	var wg sync.WaitGroup
	handles := make([]Handle, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], errs[i] = c.GetOrFetch(context.Background(), "refs/tags/config-2025.11.06")
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "/checkouts/config-2025.11.06", handles[i].Path)
		assert.Equal(t, "config-2025.11.06", handles[i].Key)
	}
}

func TestGetOrFetchSameKeyDifferentSpelling(t *testing.T) {
	f := &countingFetcher{}
	c := New(f, Options{})

	h1, err := c.GetOrFetch(context.Background(), "refs/tags/config-2025.11.06")
	require.NoError(t, err)
	h2, err := c.GetOrFetch(context.Background(), "config-2025.11.06")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, h1, h2)
}

func TestGetOrFetchDistinctKeysFetchIndependently(t *testing.T) {
	f := &countingFetcher{}
	c := New(f, Options{})

	_, err := c.GetOrFetch(context.Background(), "refs/tags/c1")
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), "refs/tags/c2")
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
	keys := []string{}
	for _, h := range c.Entries() {
		keys = append(keys, h.Key)
	}
	assert.Equal(t, []string{"c1", "c2"}, keys)
}

func TestGetOrFetchFailureIsNotCached(t *testing.T) {
	boom := errors.New("network unreachable")
	f := &countingFetcher{err: boom}
	c := New(f, Options{})

	_, err := c.GetOrFetch(context.Background(), "refs/tags/c1")
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "c1", ferr.Key)
	assert.Equal(t, "refs/tags/c1", ferr.Ref)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.Entries())

	f.err = nil
	h, err := c.GetOrFetch(context.Background(), "refs/tags/c1")
	require.NoError(t, err)
	assert.Equal(t, "/checkouts/c1", h.Path)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGetOrFetchFailureSharedByAllWaiters(t *testing.T) {
	boom := errors.New("auth failed")
	f := &countingFetcher{gate: make(chan struct{}), err: boom}
	c := New(f, Options{})

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.GetOrFetch(context.Background(), "refs/heads/main")
		}()
	}

	require.Eventually(t, func() bool { return c.InFlight("refs/heads/main") }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i := range n {
		assert.ErrorIs(t, errs[i], boom)
	}
	assert.False(t, c.InFlight("refs/heads/main"))
}

func TestWaiterCancellationDoesNotAbortSharedFetch(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	c := New(f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "refs/tags/c1")
		starterErr <- err
	}()
	require.Eventually(t, func() bool { return c.InFlight("refs/tags/c1") }, time.Second, time.Millisecond)

	otherDone := make(chan Handle, 1)
	go func() {
		h, err := c.GetOrFetch(context.Background(), "refs/tags/c1")
		assert.NoError(t, err)
		otherDone <- h
	}()

	cancel()
	assert.ErrorIs(t, <-starterErr, context.Canceled)

	close(f.gate)
	h := <-otherDone
	assert.Equal(t, "/checkouts/c1", h.Path)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestFetchTimeoutBecomesFetchError(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	defer close(f.gate)
	c := New(f, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := c.GetOrFetch(context.Background(), "refs/tags/slow")
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.Entries())
}

func TestGetOrFetchInvalidRef(t *testing.T) {
	c := New(&countingFetcher{}, Options{})
	for _, ref := range []string{"", "refs/tags/", "refs/heads/..", "  "} {
		_, err := c.GetOrFetch(context.Background(), ref)
		assert.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
	}
}

func TestEvictRetainReset(t *testing.T) {
	f := &countingFetcher{}
	c := New(f, Options{})
	ctx := context.Background()

	for _, ref := range []string{"refs/tags/a", "refs/tags/b", "refs/tags/c"} {
		_, err := c.GetOrFetch(ctx, ref)
		require.NoError(t, err)
	}

	assert.True(t, c.Evict("refs/tags/a"))
	assert.False(t, c.Evict("refs/tags/a"))

	evicted := c.Retain([]string{"refs/tags/b"})
	assert.Equal(t, []string{"c"}, evicted)
	require.Len(t, c.Entries(), 1)
	assert.Equal(t, "b", c.Entries()[0].Key)

	c.Reset()
	assert.Empty(t, c.Entries())

	_, err := c.GetOrFetch(ctx, "refs/tags/b")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := &countingFetcher{}
	c := New(f, Options{Metrics: m})
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, "refs/tags/a")
	require.NoError(t, err)
	_, err = c.GetOrFetch(ctx, "refs/tags/a")
	require.NoError(t, err)

	f.err = errors.New("boom")
	_, err = c.GetOrFetch(ctx, "refs/tags/b")
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("failure")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.hits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.entries), 0)

	// Registering twice reuses the existing collectors.
	again := NewMetrics(reg)
	assert.Same(t, m.hits, again.hits)
}

func TestSharedWaitsExcludeLeader(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	f := &countingFetcher{gate: make(chan struct{})}
	c := New(f, Options{Metrics: m})

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), "refs/tags/a")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	// Every caller except the one that ran the fetch either joined it or
	// found the entry ready.
	shared := testutil.ToFloat64(m.shared)
	hits := testutil.ToFloat64(m.hits)
	assert.InDelta(t, n-1, shared+hits, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("success")), 0)
}

func TestSingleCallerIsNotShared(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c := New(&countingFetcher{}, Options{Metrics: m})

	_, err := c.GetOrFetch(context.Background(), "refs/tags/a")
	require.NoError(t, err)
	assert.InDelta(t, 0, testutil.ToFloat64(m.shared), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.hit()
	m.sharedWait()
	m.setEntries(3)
	m.observeFetch("success", 1)
}
