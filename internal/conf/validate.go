// conf/validate.go

package conf

import (
	"fmt"
	"slices"
	"strings"
)

var (
	cameraBackends = []string{"simulated", "ffmpeg"}
	thermalProbes  = []string{"auto", "vcgencmd", "sensors"}
)

func isKnownBackend(name string) bool { return slices.Contains(cameraBackends, name) }
func isKnownProbe(name string) bool   { return slices.Contains(thermalProbes, name) }

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateCameraSettings,
		validateMotionSettings,
		validateRecordingSettings,
		validateThermalSettings,
		validateMQTTSettings,
		validateWebServerSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCameraSettings(s *Settings) []string {
	var errs []string
	c := &s.Camera

	if !isKnownBackend(c.Backend) {
		errs = append(errs, fmt.Sprintf("camera.backend %q must be one of %s", c.Backend, strings.Join(cameraBackends, ", ")))
	}
	if c.Backend == "ffmpeg" && c.Source == "" {
		errs = append(errs, "camera.source is required for the ffmpeg backend")
	}
	if c.LowresResolution[0] <= 0 || c.LowresResolution[1] <= 0 {
		errs = append(errs, fmt.Sprintf("camera.lowresresolution %v must be positive", c.LowresResolution))
	}
	if c.MainResolution[0] <= 0 || c.MainResolution[1] <= 0 {
		errs = append(errs, fmt.Sprintf("camera.mainresolution %v must be positive", c.MainResolution))
	}
	if c.Framerate <= 0 {
		errs = append(errs, "camera.framerate must be greater than 0")
	}
	if c.FrameTimeout <= 0 {
		errs = append(errs, "camera.frametimeout must be greater than 0")
	}
	return errs
}

func validateMotionSettings(s *Settings) []string {
	var errs []string
	m := &s.Motion

	if m.Threshold <= 0 {
		errs = append(errs, "motion.threshold must be greater than 0")
	}
	if m.MinFrames < 1 {
		errs = append(errs, "motion.minframes must be at least 1")
	}

	width, height := s.Camera.LowresResolution[0], s.Camera.LowresResolution[1]
	seen := make(map[string]bool, len(m.Zones))
	for _, z := range m.Zones {
		if z.Name == "" {
			errs = append(errs, "motion zone name cannot be empty")
			continue
		}
		if seen[z.Name] {
			errs = append(errs, fmt.Sprintf("motion zone %q is defined more than once", z.Name))
		}
		seen[z.Name] = true
		if z.X < 0 || z.Y < 0 || z.Width <= 0 || z.Height <= 0 || z.X+z.Width > width || z.Y+z.Height > height {
			errs = append(errs, fmt.Sprintf("motion zone %q (%d,%d %dx%d) exceeds frame %dx%d",
				z.Name, z.X, z.Y, z.Width, z.Height, width, height))
		}
	}
	return errs
}

func validateRecordingSettings(s *Settings) []string {
	var errs []string
	r := &s.Recording

	if strings.TrimSpace(r.StoragePath) == "" {
		errs = append(errs, "recording.storagepath cannot be empty")
	}
	if r.Format == "" || strings.ContainsAny(r.Format, "./\\") {
		errs = append(errs, fmt.Sprintf("recording.format %q must be a bare file extension", r.Format))
	}
	if r.SegmentDuration <= 0 {
		errs = append(errs, "recording.segmentduration must be greater than 0")
	}
	if r.PostRecordSeconds < 0 {
		errs = append(errs, "recording.postrecordseconds cannot be negative")
	}
	if r.RetentionDays <= 0 {
		errs = append(errs, "recording.retentiondays must be greater than 0")
	}
	if r.MaxStorageGB <= 0 {
		errs = append(errs, "recording.maxstoragegb must be greater than 0")
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, "recording.cleanupinterval must be greater than 0")
	}
	return errs
}

func validateThermalSettings(s *Settings) []string {
	t := &s.Thermal
	if !t.Enabled {
		return nil
	}

	var errs []string
	if !isKnownProbe(t.Probe) {
		errs = append(errs, fmt.Sprintf("thermal.probe %q must be one of %s", t.Probe, strings.Join(thermalProbes, ", ")))
	}
	if t.CheckInterval <= 0 {
		errs = append(errs, "thermal.checkinterval must be greater than 0")
	}
	if t.TempWarning >= t.TempThrottle || t.TempThrottle >= t.TempCritical {
		errs = append(errs, fmt.Sprintf("thermal thresholds must satisfy warning < throttle < critical (got %.1f, %.1f, %.1f)",
			t.TempWarning, t.TempThrottle, t.TempCritical))
	}
	if t.ThrottleReduceFPS <= 0 || t.CriticalFPS <= 0 {
		errs = append(errs, "thermal.throttlereducefps and thermal.criticalfps must be greater than 0")
	}
	if t.HistorySize <= 0 {
		errs = append(errs, "thermal.historysize must be greater than 0")
	}
	return errs
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if err := validateBrokerURL(s.MQTT.Broker); err != nil {
		errs = append(errs, "mqtt.broker: "+err.Error())
	}
	if s.MQTT.Topic == "" {
		errs = append(errs, "mqtt.topic cannot be empty")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	var errs []string
	if s.WebServer.Enabled && s.WebServer.Listen == "" {
		errs = append(errs, "webserver.listen cannot be empty when the web server is enabled")
	}
	if s.Metrics.Enabled && !s.WebServer.Enabled && s.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen cannot be empty when metrics are enabled without the web server")
	}
	return errs
}
