// Package cpuspec describes the host CPU for status output and sizes the
// encoder thread pool so the frame loop keeps a core of its own.
package cpuspec

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about the host CPU
type CPUSpec struct {
	BrandName     string   `json:"brandName"`
	Vendor        string   `json:"vendor"`
	Arch          string   `json:"arch"`
	PhysicalCores int      `json:"physicalCores"`
	LogicalCores  int      `json:"logicalCores"`
	Features      []string `json:"features,omitempty"`
}

// videoFeatures are the SIMD extensions relevant to software encoding.
var videoFeatures = []string{"ASIMD", "NEON", "SSE42", "AVX", "AVX2"}

// GetCPUSpec returns the specification of the host CPU.
func GetCPUSpec() CPUSpec {
	return fromCPUInfo(&cpuid.CPU, runtime.GOARCH, runtime.NumCPU())
}

func fromCPUInfo(info *cpuid.CPUInfo, arch string, numCPU int) CPUSpec {
	spec := CPUSpec{
		BrandName:     strings.TrimSpace(info.BrandName),
		Vendor:        info.VendorString,
		Arch:          arch,
		PhysicalCores: info.PhysicalCores,
		LogicalCores:  info.LogicalCores,
	}
	// cpuid cannot read core counts on most ARM boards.
	if spec.LogicalCores <= 0 {
		spec.LogicalCores = numCPU
	}
	if spec.PhysicalCores <= 0 {
		spec.PhysicalCores = spec.LogicalCores
	}
	if spec.BrandName == "" {
		spec.BrandName = "unknown " + arch
	}
	for _, f := range info.FeatureSet() {
		if slices.Contains(videoFeatures, f) {
			spec.Features = append(spec.Features, f)
		}
	}
	return spec
}

// EncoderThreads returns the number of threads to give a video encoder,
// leaving one physical core for capture and motion detection.
func (c CPUSpec) EncoderThreads() int {
	cores := min(c.PhysicalCores, runtime.NumCPU())
	if cores <= 1 {
		return 1
	}
	return cores - 1
}

// String returns a one-line description such as "Cortex-A76 (4 cores, arm64)".
func (c CPUSpec) String() string {
	return fmt.Sprintf("%s (%d cores, %s)", c.BrandName, c.PhysicalCores, c.Arch)
}
