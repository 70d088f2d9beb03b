// Package telemetry provides opt-in error tracking through Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/motioncam/internal/buildinfo"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// flushTimeout bounds how long Flush waits for queued events at shutdown.
const flushTimeout = 2 * time.Second

// PlatformInfo holds privacy-safe platform information attached to every event
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	BoardModel   string `json:"board_model,omitempty"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		BoardModel:   conf.GetBoardModel(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes the Sentry SDK and installs the error reporter.
// Nothing is sent unless sentry.enabled is set and a DSN is configured.
func InitSentry(settings *conf.Settings, info buildinfo.BuildInfo) error {
	log := logger.Global().Module("telemetry")

	if settings == nil || !settings.Sentry.Enabled {
		errors.SetTelemetryReporter(nil)
		log.Debug("Sentry telemetry is disabled")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		Release:          buildinfo.Release(info),
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // keep the hostname out of events
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("camera_backend", settings.Camera.Backend)
		scope.SetContext("platform", map[string]any{
			"os":          platform.OS,
			"arch":        platform.Architecture,
			"board_model": platform.BoardModel,
			"num_cpu":     platform.NumCPU,
			"go_version":  platform.GoVersion,
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("Sentry telemetry initialized",
		logger.String("release", buildinfo.Release(info)),
		logger.String("board", platform.BoardModel),
		logger.String("arch", platform.Architecture))
	return nil
}

// beforeSend strips user and request data that could identify the installation.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}
	event.User = sentry.User{}
	event.Request = nil
	event.ServerName = ""
	return event
}

// Flush waits for queued events to be delivered.
func Flush() {
	if errors.GetTelemetryReporter() == nil {
		return
	}
	sentry.Flush(flushTimeout)
}
