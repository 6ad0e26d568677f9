package registry

import "fmt"

// Merge combines two registry layers where overlay takes precedence over base:
//   - version: must agree if both declare it
//   - repository: overlay wins when set
//   - channels, env_pins, default_channels, region_pins: merge by key, overlay wins
//
// Merge does not validate cross-references; New does that on the result.
func Merge(base, overlay Maps) (Maps, error) {
	result := Maps{
		Repository:      base.Repository,
		Channels:        mergeStrings(base.Channels, overlay.Channels),
		EnvPins:         mergeStrings(base.EnvPins, overlay.EnvPins),
		DefaultChannels: mergeStrings(base.DefaultChannels, overlay.DefaultChannels),
		RegionPins:      make(map[RegionKey]string, len(base.RegionPins)+len(overlay.RegionPins)),
	}

	switch {
	case base.Version == 0:
		result.Version = overlay.Version
	case overlay.Version == 0, base.Version == overlay.Version:
		result.Version = base.Version
	default:
		return Maps{}, &ConfigParseError{
			Source: "<registry>",
			Field:  "version",
			Reason: fmt.Sprintf("registry version mismatch: one layer declares version %d, another declares version %d", base.Version, overlay.Version),
		}
	}

	if overlay.Repository != "" {
		result.Repository = overlay.Repository
	}

	for k, v := range base.RegionPins {
		result.RegionPins[k] = v
	}
	for k, v := range overlay.RegionPins {
		result.RegionPins[k] = v
	}

	return result, nil
}

func mergeStrings(base, overlay map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		result[k] = v
	}
	return result
}
