package engine

import (
	"fmt"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/refpin/internal/lock"
)

// Descriptor is the per-target output handed to manifest rendering.
type Descriptor struct {
	Service    string `yaml:"service"`
	Env        string `yaml:"env"`
	Region     string `yaml:"region"`
	Ref        string `yaml:"ref"`
	Provenance string `yaml:"provenance"`
	Channel    string `yaml:"channel,omitempty"`
	Key        string `yaml:"key"`
	Checkout   string `yaml:"checkout"`
}

// DescriptorPath is the output-root-relative path of a target's descriptor.
func DescriptorPath(service, env, region string) string {
	return path.Join(env, region, service+".yaml")
}

func newDescriptor(t Target) Descriptor {
	return Descriptor{
		Service:    t.Request.Service,
		Env:        t.Request.Env,
		Region:     t.Request.Region,
		Ref:        t.Ref.Ref,
		Provenance: string(t.Ref.Provenance),
		Channel:    t.Ref.Channel,
		Key:        t.Checkout.Key,
		Checkout:   t.Checkout.Path,
	}
}

func (d Descriptor) marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshaling descriptor for %s: %w", d.Service, err)
	}
	return data, nil
}

func lockEntry(t Target) lock.Entry {
	return lock.Entry{
		Service:    t.Request.Service,
		Env:        t.Request.Env,
		Region:     t.Request.Region,
		Ref:        t.Ref.Ref,
		Provenance: string(t.Ref.Provenance),
		Key:        t.Checkout.Key,
	}
}

func requestID(service, env, region string) string {
	return lock.Entry{Service: service, Env: env, Region: region}.ID()
}
