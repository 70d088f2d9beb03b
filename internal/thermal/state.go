package thermal

import (
	"fmt"
	"time"
)

// State is the thermal state derived from the CPU temperature.
type State int

const (
	StateNormal State = iota
	StateWarning
	StateThrottled
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarning:
		return "warning"
	case StateThrottled:
		return "throttled"
	case StateCritical:
		return "critical"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sample is one temperature reading.
type Sample struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
}

// Thresholds are the temperatures, in °C, at which each state begins.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Throttle float64 `json:"throttle"`
	Critical float64 `json:"critical"`
}

// Classify maps a temperature to a state, highest threshold first.
func (t Thresholds) Classify(temp float64) State {
	switch {
	case temp >= t.Critical:
		return StateCritical
	case temp >= t.Throttle:
		return StateThrottled
	case temp >= t.Warning:
		return StateWarning
	default:
		return StateNormal
	}
}

// ThrottleFlags is the firmware throttling bitfield reported by
// "vcgencmd get_throttled". The low bits describe the current condition,
// bits 16-19 whether it has occurred since boot.
type ThrottleFlags uint32

const (
	FlagUnderVoltage          ThrottleFlags = 0x1
	FlagFrequencyCapped       ThrottleFlags = 0x2
	FlagThrottled             ThrottleFlags = 0x4
	FlagSoftTempLimit         ThrottleFlags = 0x8
	FlagUnderVoltageOccurred  ThrottleFlags = 0x10000
	FlagFrequencyCapOccurred  ThrottleFlags = 0x20000
	FlagThrottlingOccurred    ThrottleFlags = 0x40000
	FlagSoftTempLimitOccurred ThrottleFlags = 0x80000
)

var flagNames = []struct {
	flag ThrottleFlags
	name string
}{
	{FlagUnderVoltage, "under_voltage"},
	{FlagFrequencyCapped, "frequency_capped"},
	{FlagThrottled, "throttled"},
	{FlagSoftTempLimit, "soft_temp_limit"},
	{FlagUnderVoltageOccurred, "under_voltage_occurred"},
	{FlagFrequencyCapOccurred, "frequency_cap_occurred"},
	{FlagThrottlingOccurred, "throttling_occurred"},
	{FlagSoftTempLimitOccurred, "soft_temp_limit_occurred"},
}

// Has reports whether all bits of f are set.
func (t ThrottleFlags) Has(f ThrottleFlags) bool { return t&f == f }

func (t ThrottleFlags) UnderVoltage() bool { return t.Has(FlagUnderVoltage) }
func (t ThrottleFlags) FrequencyCapped() bool { return t.Has(FlagFrequencyCapped) }
func (t ThrottleFlags) Throttled() bool { return t.Has(FlagThrottled) }
func (t ThrottleFlags) SoftTempLimit() bool { return t.Has(FlagSoftTempLimit) }

// Conditions returns the names of all set flags.
func (t ThrottleFlags) Conditions() []string {
	var out []string
	for _, f := range flagNames {
		if t.Has(f.flag) {
			out = append(out, f.name)
		}
	}
	return out
}

func (t ThrottleFlags) String() string {
	return fmt.Sprintf("0x%x", uint32(t))
}
