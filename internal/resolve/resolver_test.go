package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/refpin/internal/registry"
)

func newRegistry(t *testing.T, m registry.Maps) *registry.Registry {
	t.Helper()
	reg, err := registry.New(m)
	require.NoError(t, err)
	return reg
}

// fullRegistry configures every rule for env "prod".
func fullRegistry(t *testing.T) *registry.Registry {
	return newRegistry(t, registry.Maps{
		Channels: map[string]string{
			"stable": "refs/tags/c1",
			"next":   "refs/tags/rc1",
		},
		EnvPins:         map[string]string{"prod": "refs/tags/env-prod"},
		DefaultChannels: map[string]string{"prod": "next"},
		RegionPins: map[registry.RegionKey]string{
			{Region: "euw2", Env: "prod"}: "refs/tags/region-euw2",
		},
	})
}

func TestServiceChannelWinsOverEverything(t *testing.T) {
	r := New(fullRegistry(t))

	for _, region := range []string{"euw2", "euw1", ""} {
		got, err := r.Resolve(Request{Service: "payments", Channel: "stable", Env: "prod", Region: region})
		require.NoError(t, err)
		assert.Equal(t, Ref{Ref: "refs/tags/c1", Provenance: ProvenanceServiceChannel, Channel: "stable"}, got)
	}
}

func TestUnknownChannelNeverFallsThrough(t *testing.T) {
	r := New(fullRegistry(t))

	_, err := r.Resolve(Request{Service: "payments", Channel: "stabel", Env: "prod", Region: "euw2"})
	require.Error(t, err)

	var uerr *UnknownChannelError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "stabel", uerr.Channel)
	assert.Equal(t, "service 'payments' requests unknown channel 'stabel' — known channels: next, stable", err.Error())
}

func TestRegionPinWinsOverDefaults(t *testing.T) {
	r := New(fullRegistry(t))

	got, err := r.Resolve(Request{Service: "payments", Env: "prod", Region: "euw2"})
	require.NoError(t, err)
	assert.Equal(t, Ref{Ref: "refs/tags/region-euw2", Provenance: ProvenanceRegionPin}, got)
}

func TestRegionPinOnlyForExactRegion(t *testing.T) {
	r := New(fullRegistry(t))

	got, err := r.Resolve(Request{Service: "payments", Env: "prod", Region: "euw1"})
	require.NoError(t, err)
	assert.Equal(t, Ref{Ref: "refs/tags/rc1", Provenance: ProvenanceDefaultChannel, Channel: "next"}, got)
}

func TestRegionPinOnlyForExactEnv(t *testing.T) {
	r := New(newRegistry(t, registry.Maps{
		EnvPins: map[string]string{"staging": "refs/tags/env-staging"},
		RegionPins: map[registry.RegionKey]string{
			{Region: "euw2", Env: "prod"}: "refs/tags/region-euw2",
		},
	}))

	got, err := r.Resolve(Request{Service: "payments", Env: "staging", Region: "euw2"})
	require.NoError(t, err)
	assert.Equal(t, ProvenanceEnvPin, got.Provenance)
	assert.Equal(t, "refs/tags/env-staging", got.Ref)
}

func TestDefaultChannelWinsOverEnvPin(t *testing.T) {
	r := New(newRegistry(t, registry.Maps{
		Channels:        map[string]string{"next": "refs/tags/rc1"},
		EnvPins:         map[string]string{"int-stable": "refs/tags/c1"},
		DefaultChannels: map[string]string{"int-stable": "next"},
	}))

	got, err := r.Resolve(Request{Service: "payments", Env: "int-stable", Region: "euw2"})
	require.NoError(t, err)
	assert.Equal(t, Ref{Ref: "refs/tags/rc1", Provenance: ProvenanceDefaultChannel, Channel: "next"}, got)
}

func TestNoConfigRef(t *testing.T) {
	r := New(fullRegistry(t))

	_, err := r.Resolve(Request{Service: "payments", Env: "dev", Region: "euw2"})
	var nerr *NoConfigRefError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "dev", nerr.Request.Env)
	assert.Contains(t, err.Error(), "payments (env=dev, region=euw2)")
}

func TestResolveIsPure(t *testing.T) {
	r := New(fullRegistry(t))
	reqs := []Request{
		{Service: "a", Channel: "stable", Env: "prod", Region: "euw2"},
		{Service: "b", Env: "prod", Region: "euw2"},
		{Service: "c", Env: "prod", Region: "euw1"},
		{Service: "d", Env: "dev", Region: "euw1"},
	}

	first := r.ResolveAll(reqs)
	second := r.ResolveAll(reqs)
	assert.Equal(t, first, second)
}

func TestResolveAllIsolatesFailures(t *testing.T) {
	r := New(fullRegistry(t))

	results := r.ResolveAll([]Request{
		{Service: "typo", Channel: "nope", Env: "prod", Region: "euw2"},
		{Service: "ok", Env: "prod", Region: "euw2"},
		{Service: "unconfigured", Env: "dev"},
	})

	require.Len(t, results, 3)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, "refs/tags/region-euw2", results[1].Ref.Ref)
	assert.Error(t, results[2].Err)
}

func TestScenarios(t *testing.T) {
	t.Run("service channel", func(t *testing.T) {
		r := New(newRegistry(t, registry.Maps{Channels: map[string]string{"stable": "refs/tags/c1"}}))
		got, err := r.Resolve(Request{Service: "svc", Channel: "stable", Env: "prod", Region: "euw2"})
		require.NoError(t, err)
		assert.Equal(t, "refs/tags/c1", got.Ref)
		assert.Equal(t, ProvenanceServiceChannel, got.Provenance)
	})

	t.Run("region pin then env pin", func(t *testing.T) {
		r := New(newRegistry(t, registry.Maps{
			RegionPins: map[registry.RegionKey]string{{Region: "euw2", Env: "prod"}: "refs/tags/c2"},
			EnvPins:    map[string]string{"prod": "refs/tags/c1"},
		}))

		got, err := r.Resolve(Request{Service: "svc", Env: "prod", Region: "euw2"})
		require.NoError(t, err)
		assert.Equal(t, Ref{Ref: "refs/tags/c2", Provenance: ProvenanceRegionPin}, got)

		got, err = r.Resolve(Request{Service: "svc", Env: "prod", Region: "euw1"})
		require.NoError(t, err)
		assert.Equal(t, Ref{Ref: "refs/tags/c1", Provenance: ProvenanceEnvPin}, got)
	})

	t.Run("default channel", func(t *testing.T) {
		r := New(newRegistry(t, registry.Maps{
			Channels:        map[string]string{"next": "refs/tags/rc1"},
			DefaultChannels: map[string]string{"int-stable": "next"},
		}))
		got, err := r.Resolve(Request{Service: "svc", Env: "int-stable", Region: "euw2"})
		require.NoError(t, err)
		assert.Equal(t, "refs/tags/rc1", got.Ref)
		assert.Equal(t, ProvenanceDefaultChannel, got.Provenance)
	})
}
