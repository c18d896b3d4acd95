// Package sustainability estimates the carbon cost of retrieval jobs from
// their energy use, the grid energy mix and the embodied cost of the hardware.
package sustainability

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

const (
	minSuffix = "_min"
	maxSuffix = "_max"
)

// Intensity is the carbon intensity of an energy source in gCO2e per kWh.
// Renewable and nuclear sources have Min == Max.
type Intensity struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Ranged reports whether the source has distinct lower and upper bounds.
func (i Intensity) Ranged() bool {
	return i.Min != i.Max
}

// IntensityTable is an immutable lookup of carbon intensities by source name.
// The zero value is an empty table.
type IntensityTable struct {
	sources map[string]Intensity
}

// NewIntensityTable builds a table from structured entries. The input map is copied.
func NewIntensityTable(entries map[string]Intensity) (IntensityTable, error) {
	sources := make(map[string]Intensity, len(entries))
	for name, in := range entries {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return IntensityTable{}, apperrors.ValidationError("intensity table has an empty source name")
		}
		if !validNumber(in.Min) || !validNumber(in.Max) || in.Min < 0 || in.Max < 0 {
			return IntensityTable{}, apperrors.ValidationError(fmt.Sprintf("invalid intensity for %q", name))
		}
		if in.Min > in.Max {
			return IntensityTable{}, apperrors.ValidationError(fmt.Sprintf("intensity min exceeds max for %q", name))
		}
		sources[name] = in
	}
	return IntensityTable{sources: sources}, nil
}

// ParseIntensityTable builds a table from the flat form used in reference data,
// where fossil sources appear as "<source>_min" and "<source>_max" pairs and
// every other source as a single value.
func ParseIntensityTable(flat map[string]float64) (IntensityTable, error) {
	entries := make(map[string]Intensity, len(flat))
	mins := make(map[string]float64)
	maxs := make(map[string]float64)

	for key, v := range flat {
		key = strings.ToLower(strings.TrimSpace(key))
		switch {
		case strings.HasSuffix(key, minSuffix):
			mins[strings.TrimSuffix(key, minSuffix)] = v
		case strings.HasSuffix(key, maxSuffix):
			maxs[strings.TrimSuffix(key, maxSuffix)] = v
		default:
			entries[key] = Intensity{Min: v, Max: v}
		}
	}

	for name, lo := range mins {
		hi, ok := maxs[name]
		if !ok {
			return IntensityTable{}, apperrors.ValidationError(fmt.Sprintf("source %q has %s%s without %s%s", name, name, minSuffix, name, maxSuffix))
		}
		if _, dup := entries[name]; dup {
			return IntensityTable{}, apperrors.ValidationError(fmt.Sprintf("source %q is defined both as a single value and as a range", name))
		}
		entries[name] = Intensity{Min: lo, Max: hi}
	}
	for name := range maxs {
		if _, ok := mins[name]; !ok {
			return IntensityTable{}, apperrors.ValidationError(fmt.Sprintf("source %q has %s%s without %s%s", name, name, maxSuffix, name, minSuffix))
		}
	}

	return NewIntensityTable(entries)
}

// LoadIntensityTable reads a flat YAML mapping of source name to intensity.
func LoadIntensityTable(path string) (IntensityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IntensityTable{}, fmt.Errorf("reading intensity table: %w", err)
	}

	var flat map[string]float64
	if err := yaml.Unmarshal(data, &flat); err != nil {
		return IntensityTable{}, apperrors.Wrap(apperrors.CodeFormat, "parsing intensity table", err)
	}
	return ParseIntensityTable(flat)
}

// DefaultIntensityTable returns the reference intensities published by COWI (2023).
// A fresh table is built on every call.
func DefaultIntensityTable() IntensityTable {
	table, err := ParseIntensityTable(map[string]float64{
		"hydro":       4,
		"wind":        11,
		"nuclear":     12,
		"solar":       41,
		"gas_min":     290,
		"gas_max":     930,
		"oil_min":     510,
		"oil_max":     1170,
		"coal_min":    740,
		"coal_max":    1689,
		"fossils_min": 1540,
		"fossils_max": 3789,
	})
	if err != nil {
		panic(fmt.Sprintf("default intensity table: %v", err))
	}
	return table
}

// Lookup returns the intensity for a source.
func (t IntensityTable) Lookup(source string) (Intensity, bool) {
	in, ok := t.sources[strings.ToLower(source)]
	return in, ok
}

// Sources returns the source names in sorted order.
func (t IntensityTable) Sources() []string {
	names := make([]string, 0, len(t.sources))
	for name := range t.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of sources.
func (t IntensityTable) Len() int {
	return len(t.sources)
}

// EnergyMix maps an energy source name to its share of the supplied energy.
// Shares are not required to sum to one.
type EnergyMix map[string]float64

// DefaultEnergyMix returns the reference grid mix used by the experiments.
func DefaultEnergyMix() EnergyMix {
	return EnergyMix{
		"coal":  0.7,
		"wind":  0.1,
		"solar": 0.2,
	}
}

// Total returns the sum of all shares.
func (m EnergyMix) Total() float64 {
	var total float64
	for _, share := range m {
		total += share
	}
	return total
}

// sortedSources keeps floating-point accumulation order stable across runs.
func (m EnergyMix) sortedSources() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
