package registry

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const supportedVersion = 1

// Load reads every registry layer in order, merges them (later layers win
// per key) and validates the result.
func Load(paths ...string) (*Registry, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no registry files given")
	}

	var merged Maps
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading registry %s: %w", path, err)
		}
		layer, err := Parse(data, path)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			merged = layer
			continue
		}
		if merged, err = Merge(merged, layer); err != nil {
			var perr *ConfigParseError
			if errors.As(err, &perr) {
				perr.Source = path
			}
			return nil, err
		}
	}

	return New(merged)
}

// Parse decodes a single registry layer. It does not check cross-references;
// that happens in New once all layers are merged.
func Parse(data []byte, source string) (Maps, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Maps{}, &ConfigParseError{Source: source, Reason: "invalid YAML", Err: err}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return Maps{}, &ConfigParseError{Source: source, Reason: "empty document"}
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return Maps{}, &ConfigParseError{Source: source, Line: doc.Line, Reason: "top level must be a mapping"}
	}

	p := parser{source: source}
	m := Maps{}
	seen := make(map[string]int)

	for i := 0; i+1 < len(doc.Content); i += 2 {
		k, v := doc.Content[i], doc.Content[i+1]
		if err := p.stringScalar(k, ""); err != nil {
			return Maps{}, err
		}
		if prev, dup := seen[k.Value]; dup {
			return Maps{}, p.errorf(k, k.Value, "duplicate key (first defined at line %d)", prev)
		}
		seen[k.Value] = k.Line

		var err error
		switch k.Value {
		case "version":
			m.Version, err = p.version(v)
		case "repository":
			if err = p.stringScalar(v, "repository"); err == nil {
				m.Repository = v.Value
			}
		case "channels":
			m.Channels, err = p.stringMap(v, "channels")
		case "env_pins":
			m.EnvPins, err = p.stringMap(v, "env_pins")
		case "default_channels":
			m.DefaultChannels, err = p.stringMap(v, "default_channels")
		case "region_pins":
			m.RegionPins, err = p.regionPins(v)
		default:
			err = p.errorf(k, k.Value, "unknown field — expected one of: version, repository, channels, env_pins, default_channels, region_pins")
		}
		if err != nil {
			return Maps{}, err
		}
	}

	if _, ok := seen["version"]; !ok {
		return Maps{}, &ConfigParseError{Source: source, Line: doc.Line, Field: "version", Reason: "'version' is required"}
	}

	return m, nil
}

type parser struct {
	source string
}

func (p parser) errorf(n *yaml.Node, field, format string, args ...any) *ConfigParseError {
	return &ConfigParseError{
		Source: p.source,
		Line:   n.Line,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (p parser) stringScalar(n *yaml.Node, field string) error {
	if n.Kind != yaml.ScalarNode {
		return p.errorf(n, field, "expected a string, got %s", kindName(n))
	}
	if n.ShortTag() != "!!str" {
		return p.errorf(n, field, "expected a string, got %s %q — quote the value", n.ShortTag(), n.Value)
	}
	return nil
}

func (p parser) version(n *yaml.Node) (int, error) {
	var v int
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!int" {
		return 0, p.errorf(n, "version", "expected an integer")
	}
	if err := n.Decode(&v); err != nil {
		return 0, &ConfigParseError{Source: p.source, Line: n.Line, Field: "version", Reason: "invalid version", Err: err}
	}
	if v != supportedVersion {
		return 0, p.errorf(n, "version", "unsupported version %d — only version %d is supported", v, supportedVersion)
	}
	return v, nil
}

func (p parser) stringMap(n *yaml.Node, field string) (map[string]string, error) {
	if n.ShortTag() == "!!null" {
		return map[string]string{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, p.errorf(n, field, "expected a mapping, got %s", kindName(n))
	}

	out := make(map[string]string, len(n.Content)/2)
	lines := make(map[string]int, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if err := p.stringScalar(k, field); err != nil {
			return nil, err
		}
		if k.Value == "" {
			return nil, p.errorf(k, field, "empty key")
		}
		if prev, dup := lines[k.Value]; dup {
			return nil, p.errorf(k, field, "duplicate key '%s' (first defined at line %d)", k.Value, prev)
		}
		lines[k.Value] = k.Line

		entry := field + "." + k.Value
		if err := p.stringScalar(v, entry); err != nil {
			return nil, err
		}
		if v.Value == "" {
			return nil, p.errorf(v, entry, "empty value")
		}
		out[k.Value] = v.Value
	}
	return out, nil
}

func (p parser) regionPins(n *yaml.Node) (map[RegionKey]string, error) {
	if n.ShortTag() == "!!null" {
		return map[RegionKey]string{}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, p.errorf(n, "region_pins", "expected a list, got %s", kindName(n))
	}

	out := make(map[RegionKey]string, len(n.Content))
	lines := make(map[RegionKey]int, len(n.Content))
	for i, item := range n.Content {
		field := fmt.Sprintf("region_pins[%d]", i)
		if item.Kind != yaml.MappingNode {
			return nil, p.errorf(item, field, "expected a mapping, got %s", kindName(item))
		}

		vals := make(map[string]string, 3)
		for j := 0; j+1 < len(item.Content); j += 2 {
			k, v := item.Content[j], item.Content[j+1]
			if err := p.stringScalar(k, field); err != nil {
				return nil, err
			}
			switch k.Value {
			case "region", "env", "ref":
			default:
				return nil, p.errorf(k, field, "unknown field '%s' — expected region, env, ref", k.Value)
			}
			if _, dup := vals[k.Value]; dup {
				return nil, p.errorf(k, field, "duplicate key '%s'", k.Value)
			}
			if err := p.stringScalar(v, field+"."+k.Value); err != nil {
				return nil, err
			}
			vals[k.Value] = v.Value
		}

		for _, req := range []string{"region", "env", "ref"} {
			if vals[req] == "" {
				return nil, p.errorf(item, field, "'%s' is required", req)
			}
		}

		key := RegionKey{Region: vals["region"], Env: vals["env"]}
		if prev, dup := lines[key]; dup {
			return nil, p.errorf(item, field, "duplicate region pin for %s (first defined at line %d)", key, prev)
		}
		lines[key] = item.Line
		out[key] = vals["ref"]
	}
	return out, nil
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		return "scalar " + n.ShortTag()
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
