// config.go: Settings definition and viper-backed loading
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// ZoneSettings is a motion detection zone as stored in the config file.
// Coordinates are in low-resolution stream pixels.
type ZoneSettings struct {
	Name    string `yaml:"name" json:"name"`
	X       int    `yaml:"x" json:"x"`
	Y       int    `yaml:"y" json:"y"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// CameraSettings configures the capture backend.
type CameraSettings struct {
	Backend          string        `yaml:"backend" json:"backend"`                  // "simulated" or "ffmpeg"
	Source           string        `yaml:"source" json:"source"`                    // RTSP URL or V4L2 device for ffmpeg
	FfmpegPath       string        `yaml:"ffmpegpath" json:"ffmpegPath"`            // empty: look up ffmpeg on PATH
	MainResolution   [2]int        `yaml:"mainresolution" json:"mainResolution"`    // recording stream width, height
	LowresResolution [2]int        `yaml:"lowresresolution" json:"lowresResolution"` // analysis stream width, height
	Framerate        int           `yaml:"framerate" json:"framerate"`
	HFlip            bool          `yaml:"hflip" json:"hflip"`
	VFlip            bool          `yaml:"vflip" json:"vflip"`
	Bitrate          int           `yaml:"bitrate" json:"bitrate"` // bits per second for recordings
	FrameTimeout     time.Duration `yaml:"frametimeout" json:"frameTimeout"`
}

// MotionSettings configures the zone motion detector.
type MotionSettings struct {
	Threshold float64        `yaml:"threshold" json:"threshold"` // MSE threshold
	MinFrames int            `yaml:"minframes" json:"minFrames"` // consecutive motion frames to trigger
	Zones     []ZoneSettings `yaml:"zones" json:"zones"`
}

// RecordingSettings configures recording sessions and retention.
type RecordingSettings struct {
	StoragePath       string  `yaml:"storagepath" json:"storagePath"`
	Format            string  `yaml:"format" json:"format"`                       // file extension, e.g. "mp4"
	SegmentDuration   int     `yaml:"segmentduration" json:"segmentDuration"`     // seconds
	PostRecordSeconds int     `yaml:"postrecordseconds" json:"postRecordSeconds"` // seconds of no motion before stop
	PreRecordSeconds  int     `yaml:"prerecordseconds" json:"preRecordSeconds"`   // reserved for backends with a ring buffer
	RetentionDays     int     `yaml:"retentiondays" json:"retentionDays"`
	MaxStorageGB      float64 `yaml:"maxstoragegb" json:"maxStorageGB"`
	CleanupInterval   int     `yaml:"cleanupinterval" json:"cleanupInterval"` // frames between retention passes
}

// ThermalSettings configures the thermal throttle controller.
type ThermalSettings struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	Probe             string  `yaml:"probe" json:"probe"`                 // "auto", "vcgencmd" or "sensors"
	CheckInterval     int     `yaml:"checkinterval" json:"checkInterval"` // seconds
	TempWarning       float64 `yaml:"tempwarning" json:"tempWarning"`
	TempThrottle      float64 `yaml:"tempthrottle" json:"tempThrottle"`
	TempCritical      float64 `yaml:"tempcritical" json:"tempCritical"`
	ThrottleReduceFPS int     `yaml:"throttlereducefps" json:"throttleReduceFps"`
	CriticalFPS       int     `yaml:"criticalfps" json:"criticalFps"`
	HistorySize       int     `yaml:"historysize" json:"historySize"`
}

// WebServerSettings configures the HTTP control surface.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// MQTTSettings configures the event publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Retain   bool   `yaml:"retain" json:"retain"`
}

// MetricsSettings toggles the Prometheus endpoint. Metrics are served on the
// web server at /metrics; Listen is used only when the web server is disabled.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// SentrySettings configures optional error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn" json:"-"`
}

// Settings contains all configuration options for motioncam.
type Settings struct {
	Debug bool `yaml:"debug" json:"debug"`

	Main struct {
		Name     string               `yaml:"name" json:"name"`
		CameraID string               `yaml:"cameraid" json:"cameraId"` // used in recording file names
		Log      logger.LoggingConfig `yaml:"log" json:"log"`
	} `yaml:"main" json:"main"`

	Camera    CameraSettings    `yaml:"camera" json:"camera"`
	Motion    MotionSettings    `yaml:"motion" json:"motion"`
	Recording RecordingSettings `yaml:"recording" json:"recording"`
	Thermal   ThermalSettings   `yaml:"thermal" json:"thermal"`
	WebServer WebServerSettings `yaml:"webserver" json:"webServer"`
	MQTT      MQTTSettings      `yaml:"mqtt" json:"mqtt"`
	Metrics   MetricsSettings   `yaml:"metrics" json:"metrics"`
	Sentry    SentrySettings    `yaml:"sentry" json:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFileOnce   string // explicit --config path, empty for search paths
)

// SetConfigFile makes Load read the given file instead of searching the default paths.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFileOnce = path
}

// Load reads the configuration file and environment variables into a new Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper() error {
	viper.SetConfigType("yaml")

	if configFileOnce != "" {
		viper.SetConfigFile(configFileOnce)
	} else {
		viper.SetConfigName("config")
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Invalid env values are reported but do not prevent startup;
		// validation of the merged settings catches anything fatal.
		GetLogger().Warn("Environment variable configuration issues", logger.Error(err))
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) || (configFileOnce != "" && errors.Is(err, fs.ErrNotExist)) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config and reads it back.
func createDefaultConfig() error {
	configPath := configFileOnce
	if configPath == "" {
		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		configPath = filepath.Join(configPaths[0], "config.yaml")
	}

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("Created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the path of the config file viper read.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// SaveZones replaces the zone list of the loaded settings and writes it to
// the motion.zones key of the config file in use. The rest of the file,
// including comments, is left untouched; values that came from flags or the
// environment are never written.
func SaveZones(zones []ZoneSettings) error {
	zones = append([]ZoneSettings(nil), zones...)

	settingsMutex.Lock()
	if settingsInstance != nil {
		settingsInstance.Motion.Zones = zones
	}
	settingsMutex.Unlock()

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		found, err := FindConfigFile()
		if err != nil {
			return fmt.Errorf("error finding config file: %w", err)
		}
		configPath = found
	}

	return UpdateYAMLZones(configPath, zones)
}
