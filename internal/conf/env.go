// env.go: environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every bound environment variable.
const envPrefix = "MOTIONCAM"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "MOTIONCAM_DEBUG", validateEnvBool},
		{"main.cameraid", "MOTIONCAM_CAMERA_ID", nil},

		// Camera
		{"camera.backend", "MOTIONCAM_CAMERA_BACKEND", validateEnvBackend},
		{"camera.source", "MOTIONCAM_CAMERA_SOURCE", nil},
		{"camera.ffmpegpath", "MOTIONCAM_FFMPEG_PATH", nil},
		{"camera.framerate", "MOTIONCAM_FRAMERATE", validateEnvPositiveInt},
		{"camera.frametimeout", "MOTIONCAM_FRAME_TIMEOUT", validateEnvDuration},

		// Motion
		{"motion.threshold", "MOTIONCAM_MOTION_THRESHOLD", validateEnvPositiveFloat},
		{"motion.minframes", "MOTIONCAM_MOTION_MIN_FRAMES", validateEnvPositiveInt},

		// Recording
		{"recording.storagepath", "MOTIONCAM_STORAGE_PATH", validateEnvPath},
		{"recording.segmentduration", "MOTIONCAM_SEGMENT_DURATION", validateEnvPositiveInt},
		{"recording.postrecordseconds", "MOTIONCAM_POST_RECORD_SECONDS", validateEnvPositiveInt},
		{"recording.retentiondays", "MOTIONCAM_RETENTION_DAYS", validateEnvPositiveInt},
		{"recording.maxstoragegb", "MOTIONCAM_MAX_STORAGE_GB", validateEnvPositiveFloat},

		// Thermal
		{"thermal.enabled", "MOTIONCAM_THERMAL_ENABLED", validateEnvBool},
		{"thermal.probe", "MOTIONCAM_THERMAL_PROBE", validateEnvProbe},

		// Outer surfaces
		{"webserver.listen", "MOTIONCAM_LISTEN", nil},
		{"mqtt.enabled", "MOTIONCAM_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "MOTIONCAM_MQTT_BROKER", validateEnvBrokerURL},
		{"mqtt.username", "MOTIONCAM_MQTT_USERNAME", nil},
		{"mqtt.password", "MOTIONCAM_MQTT_PASSWORD", nil},
		{"sentry.enabled", "MOTIONCAM_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "MOTIONCAM_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds environment variables to config keys with validation
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 2s")
	}
	if d <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !isKnownBackend(value) {
		return fmt.Errorf("must be one of %s", strings.Join(cameraBackends, ", "))
	}
	return nil
}

func validateEnvProbe(value string) error {
	if !isKnownProbe(value) {
		return fmt.Errorf("must be one of %s", strings.Join(thermalProbes, ", "))
	}
	return nil
}

func validateEnvBrokerURL(value string) error {
	return validateBrokerURL(value)
}

func validateEnvPath(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	return nil
}

func validateBrokerURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("broker URL must include a host")
	}
	return nil
}

// configureEnvironmentVariables sets up automatic env binding for MOTIONCAM_* keys
// and explicit bindings for the documented variables.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
