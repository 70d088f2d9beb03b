package thermal

import (
	"context"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/tphakala/motioncam/internal/errors"
)

// Probe kinds accepted by NewProbe.
const (
	ProbeAuto     = "auto"
	ProbeVcgencmd = "vcgencmd"
	ProbeSensors  = "sensors"
)

// Probe reads hardware thermal state.
type Probe interface {
	ReadCPUTemperature(ctx context.Context) (float64, error)
	ReadThrottleFlags(ctx context.Context) (ThrottleFlags, error)
}

// NewProbe returns the probe for kind. "auto" prefers vcgencmd when it is on
// PATH and falls back to the kernel sensors.
func NewProbe(kind string) (Probe, error) {
	switch kind {
	case ProbeVcgencmd:
		path, err := exec.LookPath("vcgencmd")
		if err != nil {
			return nil, probeError(err, "lookup_vcgencmd")
		}
		return NewVcgencmdProbe(path), nil
	case ProbeSensors:
		return NewSensorProbe(), nil
	case ProbeAuto, "":
		if path, err := exec.LookPath("vcgencmd"); err == nil {
			return NewVcgencmdProbe(path), nil
		}
		return NewSensorProbe(), nil
	default:
		return nil, errors.Newf("unknown thermal probe %q", kind).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
}

// commandRunner runs a command and returns its standard output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// VcgencmdProbe reads the Raspberry Pi firmware through vcgencmd.
type VcgencmdProbe struct {
	path string
	run  commandRunner
}

// NewVcgencmdProbe creates a probe running the vcgencmd binary at path.
func NewVcgencmdProbe(path string) *VcgencmdProbe {
	return &VcgencmdProbe{path: path, run: execRunner}
}

// ReadCPUTemperature runs "vcgencmd measure_temp".
func (p *VcgencmdProbe) ReadCPUTemperature(ctx context.Context) (float64, error) {
	out, err := p.run(ctx, p.path, "measure_temp")
	if err != nil {
		return 0, probeError(err, "measure_temp")
	}
	return parseMeasureTemp(string(out))
}

// ReadThrottleFlags runs "vcgencmd get_throttled".
func (p *VcgencmdProbe) ReadThrottleFlags(ctx context.Context) (ThrottleFlags, error) {
	out, err := p.run(ctx, p.path, "get_throttled")
	if err != nil {
		return 0, probeError(err, "get_throttled")
	}
	return parseGetThrottled(string(out))
}

// parseMeasureTemp parses "temp=62.3'C".
func parseMeasureTemp(out string) (float64, error) {
	s := strings.TrimSpace(out)
	s, ok := strings.CutPrefix(s, "temp=")
	if !ok {
		return 0, parseError("measure_temp", out)
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "C"), "'")
	temp, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, parseError("measure_temp", out)
	}
	return temp, nil
}

// parseGetThrottled parses "throttled=0x50005".
func parseGetThrottled(out string) (ThrottleFlags, error) {
	s, ok := strings.CutPrefix(strings.TrimSpace(out), "throttled=")
	if !ok {
		return 0, parseError("get_throttled", out)
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, parseError("get_throttled", out)
	}
	return ThrottleFlags(v), nil
}

// cpuSensorKeys are kernel sensor names that report the CPU or SoC die, in preference order.
var cpuSensorKeys = []string{"cpu_thermal", "cpu-thermal", "soc_thermal", "coretemp", "k10temp", "zenpower", "acpitz"}

// SensorProbe reads temperatures from kernel sensors via gopsutil. It cannot
// report firmware throttle flags.
type SensorProbe struct {
	sensors func(ctx context.Context) ([]host.TemperatureStat, error)
}

// NewSensorProbe creates a probe backed by gopsutil host sensors.
func NewSensorProbe() *SensorProbe {
	return &SensorProbe{sensors: host.SensorsTemperaturesWithContext}
}

// ReadCPUTemperature returns the temperature of the preferred CPU sensor.
func (p *SensorProbe) ReadCPUTemperature(ctx context.Context) (float64, error) {
	temps, err := p.sensors(ctx)
	// gopsutil returns partial readings alongside warnings for unreadable sensors.
	if err != nil && len(temps) == 0 {
		return 0, probeError(err, "read_sensors")
	}

	best, bestRank := 0.0, len(cpuSensorKeys)
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		rank := slices.IndexFunc(cpuSensorKeys, func(k string) bool {
			return strings.HasPrefix(strings.ToLower(t.SensorKey), k)
		})
		if rank >= 0 && rank < bestRank {
			best, bestRank = t.Temperature, rank
		}
	}
	if bestRank == len(cpuSensorKeys) {
		return 0, errors.Newf("no CPU temperature sensor found among %d sensors", len(temps)).
			Component(componentName).
			Category(errors.CategoryThermalProbe).
			Context("operation", "read_sensors").
			Build()
	}
	return best, nil
}

// ReadThrottleFlags always reports no flags.
func (p *SensorProbe) ReadThrottleFlags(context.Context) (ThrottleFlags, error) {
	return 0, nil
}

func probeError(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryThermalProbe).
		Context("operation", operation).
		Build()
}

func parseError(operation, out string) error {
	return errors.Newf("unexpected %s output %q", operation, strings.TrimSpace(out)).
		Component(componentName).
		Category(errors.CategoryThermalProbe).
		Context("operation", operation).
		Build()
}
