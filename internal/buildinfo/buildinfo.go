// Package buildinfo carries build-time metadata injected through -ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context holds the version and build date of the binary.
type Context struct {
	Version   string
	BuildDate string
}

// NewContext creates a Context.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release returns the release name reported to telemetry, e.g. "motioncam@1.2.0".
func Release(info BuildInfo) string {
	if info == nil {
		return "motioncam@" + UnknownValue
	}
	return "motioncam@" + info.GetVersion()
}

// String formats the metadata for --version output.
func String(info BuildInfo) string {
	if info == nil {
		return fmt.Sprintf("%s (built %s)", UnknownValue, UnknownValue)
	}
	return fmt.Sprintf("%s (built %s)", info.GetVersion(), info.GetBuildDate())
}
