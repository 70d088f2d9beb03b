package motion

import (
	"maps"
	"slices"
)

// Sensitivity preset names.
const (
	SensitivityLow      = "low"
	SensitivityMedium   = "medium"
	SensitivityHigh     = "high"
	SensitivityVeryHigh = "very_high"
)

// presets maps sensitivity names to MSE thresholds. Lower thresholds detect smaller changes.
var presets = map[string]float64{
	SensitivityLow:      15.0,
	SensitivityMedium:   7.0,
	SensitivityHigh:     4.0,
	SensitivityVeryHigh: 2.0,
}

// Presets returns a copy of the sensitivity preset table.
func Presets() map[string]float64 {
	return maps.Clone(presets)
}

// PresetNames returns the preset names ordered from least to most sensitive.
func PresetNames() []string {
	names := slices.Collect(maps.Keys(presets))
	slices.SortFunc(names, func(a, b string) int {
		switch {
		case presets[a] > presets[b]:
			return -1
		case presets[a] < presets[b]:
			return 1
		default:
			return 0
		}
	})
	return names
}

// levelForThreshold classifies a raw threshold into a preset name.
func levelForThreshold(threshold float64) string {
	switch {
	case threshold >= presets[SensitivityLow]:
		return SensitivityLow
	case threshold >= presets[SensitivityMedium]:
		return SensitivityMedium
	case threshold >= presets[SensitivityHigh]:
		return SensitivityHigh
	default:
		return SensitivityVeryHigh
	}
}
