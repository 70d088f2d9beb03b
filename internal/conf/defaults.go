// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/motioncam/internal/logger"
)

// Default values shared with components that need them outside of viper.
const (
	DefaultFramerate         = 15
	DefaultThreshold         = 7.0
	DefaultMinFrames         = 3
	DefaultSegmentDuration   = 300
	DefaultPostRecordSeconds = 10
	DefaultRetentionDays     = 7
	DefaultMaxStorageGB      = 50.0
	DefaultCleanupInterval   = 300
	DefaultCriticalFPS       = 5
	DefaultHistorySize       = 60
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "motioncam")
	viper.SetDefault("main.cameraid", "cam1")
	viper.SetDefault("main.log.defaultlevel", logger.DefaultLogLevel)
	viper.SetDefault("main.log.timezone", "Local")
	viper.SetDefault("main.log.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("main.log.console.level", logger.DefaultLogLevel)
	viper.SetDefault("main.log.fileoutput.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("main.log.fileoutput.path", logger.DefaultLogPath)
	viper.SetDefault("main.log.fileoutput.level", logger.DefaultLogLevel)

	viper.SetDefault("camera.backend", "simulated")
	viper.SetDefault("camera.source", "")
	viper.SetDefault("camera.ffmpegpath", "")
	viper.SetDefault("camera.mainresolution", []int{1920, 1080})
	viper.SetDefault("camera.lowresresolution", []int{320, 240})
	viper.SetDefault("camera.framerate", DefaultFramerate)
	viper.SetDefault("camera.hflip", false)
	viper.SetDefault("camera.vflip", false)
	viper.SetDefault("camera.bitrate", 10_000_000)
	viper.SetDefault("camera.frametimeout", 2*time.Second)

	viper.SetDefault("motion.threshold", DefaultThreshold)
	viper.SetDefault("motion.minframes", DefaultMinFrames)
	viper.SetDefault("motion.zones", []ZoneSettings{})

	viper.SetDefault("recording.storagepath", "recordings")
	viper.SetDefault("recording.format", "mp4")
	viper.SetDefault("recording.segmentduration", DefaultSegmentDuration)
	viper.SetDefault("recording.postrecordseconds", DefaultPostRecordSeconds)
	viper.SetDefault("recording.prerecordseconds", 5)
	viper.SetDefault("recording.retentiondays", DefaultRetentionDays)
	viper.SetDefault("recording.maxstoragegb", DefaultMaxStorageGB)
	viper.SetDefault("recording.cleanupinterval", DefaultCleanupInterval)

	viper.SetDefault("thermal.enabled", true)
	viper.SetDefault("thermal.probe", "auto")
	viper.SetDefault("thermal.checkinterval", 5)
	viper.SetDefault("thermal.tempwarning", 55.0)
	viper.SetDefault("thermal.tempthrottle", 65.0)
	viper.SetDefault("thermal.tempcritical", 75.0)
	viper.SetDefault("thermal.throttlereducefps", 10)
	viper.SetDefault("thermal.criticalfps", DefaultCriticalFPS)
	viper.SetDefault("thermal.historysize", DefaultHistorySize)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "motioncam")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.listen", ":9090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
