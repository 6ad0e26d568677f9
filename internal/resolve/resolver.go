// Package resolve decides which Git reference of the shared configuration
// repository a (service, environment, region) uses.
package resolve

import (
	"fmt"

	"github.com/bianoble/refpin/internal/registry"
)

// Provenance names the rule that produced a resolved ref.
type Provenance string

const (
	ProvenanceServiceChannel Provenance = "service-channel"
	ProvenanceRegionPin      Provenance = "region-pin"
	ProvenanceDefaultChannel Provenance = "default-channel"
	ProvenanceEnvPin         Provenance = "env-pin"
)

// Request is the resolution input for one service target.
type Request struct {
	Service string
	Channel string // optional explicit channel
	Env     string
	Region  string
}

func (r Request) String() string {
	return fmt.Sprintf("%s (env=%s, region=%s)", r.Service, r.Env, r.Region)
}

// Ref is a resolved Git reference together with the rule that chose it.
type Ref struct {
	Ref        string
	Provenance Provenance
	// Channel is set for service-channel and default-channel resolutions.
	Channel string
}

// rule returns matched=false to let the next rule try. A non-nil error
// stops the chain.
type rule struct {
	name  Provenance
	apply func(reg *registry.Registry, req Request) (ref Ref, matched bool, err error)
}

// chain is evaluated in order, first match wins.
var chain = []rule{
	{ProvenanceServiceChannel, serviceChannel},
	{ProvenanceRegionPin, regionPin},
	{ProvenanceDefaultChannel, defaultChannel},
	{ProvenanceEnvPin, envPin},
}

// Resolver applies the priority chain against a registry. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	reg *registry.Registry
}

// New returns a Resolver bound to reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve returns exactly one ref for req, or an UnknownChannelError,
// DanglingReferenceError or NoConfigRefError.
func (r *Resolver) Resolve(req Request) (Ref, error) {
	for _, rl := range chain {
		ref, ok, err := rl.apply(r.reg, req)
		if err != nil {
			return Ref{}, err
		}
		if ok {
			ref.Provenance = rl.name
			return ref, nil
		}
	}
	return Ref{}, &NoConfigRefError{Request: req}
}

// Result pairs a request with its resolution outcome.
type Result struct {
	Request Request
	Ref     Ref
	Err     error
}

// ResolveAll resolves every request independently. A failure for one
// request is recorded in its Result and does not stop the others.
func (r *Resolver) ResolveAll(reqs []Request) []Result {
	out := make([]Result, len(reqs))
	for i, req := range reqs {
		ref, err := r.Resolve(req)
		out[i] = Result{Request: req, Ref: ref, Err: err}
	}
	return out
}

func serviceChannel(reg *registry.Registry, req Request) (Ref, bool, error) {
	if req.Channel == "" {
		return Ref{}, false, nil
	}
	ref, ok := reg.Channel(req.Channel)
	if !ok {
		// An unknown explicit channel never falls through to the env rules.
		return Ref{}, false, &UnknownChannelError{Service: req.Service, Channel: req.Channel, Known: reg.Channels()}
	}
	return Ref{Ref: ref, Channel: req.Channel}, true, nil
}

func regionPin(reg *registry.Registry, req Request) (Ref, bool, error) {
	ref, ok := reg.RegionPin(req.Region, req.Env)
	if !ok {
		return Ref{}, false, nil
	}
	return Ref{Ref: ref}, true, nil
}

func defaultChannel(reg *registry.Registry, req Request) (Ref, bool, error) {
	ch, ok := reg.DefaultChannel(req.Env)
	if !ok {
		return Ref{}, false, nil
	}
	ref, ok := reg.Channel(ch)
	if !ok {
		return Ref{}, false, &registry.DanglingReferenceError{Env: req.Env, Channel: ch}
	}
	return Ref{Ref: ref, Channel: ch}, true, nil
}

func envPin(reg *registry.Registry, req Request) (Ref, bool, error) {
	ref, ok := reg.EnvPin(req.Env)
	if !ok {
		return Ref{}, false, nil
	}
	return Ref{Ref: ref}, true, nil
}
