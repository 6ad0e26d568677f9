package manifest

// Manifest represents the services.yaml file: which services are generated
// for which (environment, region) targets.
type Manifest struct {
	Version  int       `yaml:"version"`
	Services []Service `yaml:"services"`
}

// Service declares one onboarded service.
type Service struct {
	Name string `yaml:"name"`
	// Channel opts the service into a named config channel for every target.
	Channel string   `yaml:"channel,omitempty"`
	Targets []Target `yaml:"targets"`
}

// Target is one (environment, region) deployment of a service.
type Target struct {
	Env    string `yaml:"env"`
	Region string `yaml:"region"`
	// Channel overrides the service-level channel for this target only.
	Channel string `yaml:"channel,omitempty"`
}
