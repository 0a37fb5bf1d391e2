package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Preset is a named scanner selection.
type Preset struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scanners    []string `json:"scanners"`
}

// DefaultPreset runs every scanner.
const DefaultPreset = "full"

// builtinPresets is the registry of all known presets.
var builtinPresets = map[string]Preset{
	"full": {
		Name:        "full",
		Description: "Every scanner: secrets, code patterns, dependencies and infrastructure",
		Scanners:    []string{"secret", "static", "dependency", "iac"},
	},
	"secrets-only": {
		Name:        "secrets-only",
		Description: "Credential and key detection only",
		Scanners:    []string{"secret"},
	},
	"supply-chain": {
		Name:        "supply-chain",
		Description: "Dependency manifests plus leaked registry credentials",
		Scanners:    []string{"dependency", "secret"},
	},
	"infrastructure": {
		Name:        "infrastructure",
		Description: "Terraform, Dockerfile, compose and Kubernetes misconfigurations",
		Scanners:    []string{"iac", "secret"},
	},
}

// BuiltinPresets returns the available presets.
func BuiltinPresets() map[string]Preset {
	// Return a copy so callers cannot mutate the registry.
	out := make(map[string]Preset, len(builtinPresets))
	for k, v := range builtinPresets {
		out[k] = v
	}
	return out
}

// PresetNames lists preset names alphabetically.
func PresetNames() []string {
	names := make([]string, 0, len(builtinPresets))
	for name := range builtinPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a preset by name, or an error if not found.
func GetPreset(name string) (*Preset, error) {
	p, ok := builtinPresets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q, available: %s", name, strings.Join(PresetNames(), ", "))
	}
	cp := p
	return &cp, nil
}
