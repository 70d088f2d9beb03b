package surveillance

import (
	"context"
	"time"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/recorder"
	"github.com/tphakala/motioncam/internal/thermal"
)

// NewFromSettings builds every collaborator from the loaded settings and
// wires them into a System. Initialization failures are fatal: the storage
// directory cannot be created, the camera is unavailable after its retries,
// or a component rejects its configuration. m and bus may be nil.
func NewFromSettings(ctx context.Context, settings *conf.Settings, m *observability.Metrics, bus *events.Bus, openOpts camera.OpenOptions) (*System, error) {
	rec, err := recorder.NewManager(recorder.Config{
		StoragePath:       settings.Recording.StoragePath,
		Format:            settings.Recording.Format,
		CameraID:          settings.Main.CameraID,
		SegmentDuration:   time.Duration(settings.Recording.SegmentDuration) * time.Second,
		PostRecordSeconds: settings.Recording.PostRecordSeconds,
	})
	if err != nil {
		return nil, err
	}

	storage, err := diskmanager.NewEnforcer(diskmanager.Policy{
		StoragePath:   settings.Recording.StoragePath,
		Extension:     settings.Recording.Format,
		RetentionDays: settings.Recording.RetentionDays,
		MaxStorageGB:  settings.Recording.MaxStorageGB,
	})
	if err != nil {
		return nil, err
	}

	detector, err := motion.NewDetector(motion.Config{
		Width:     settings.Camera.LowresResolution[0],
		Height:    settings.Camera.LowresResolution[1],
		Threshold: settings.Motion.Threshold,
		MinFrames: settings.Motion.MinFrames,
		Zones:     ZonesFromSettings(settings.Motion.Zones),
	})
	if err != nil {
		return nil, err
	}

	var probe thermal.Probe
	if settings.Thermal.Enabled {
		probe, err = thermal.NewProbe(settings.Thermal.Probe)
		if err != nil {
			return nil, err
		}
	}

	cam, err := camera.Open(ctx, CameraConfig(settings), openOpts)
	if err != nil {
		return nil, err
	}

	sys, err := New(Config{
		CameraID:          settings.Main.CameraID,
		Framerate:         settings.Camera.Framerate,
		ThrottleReduceFPS: settings.Thermal.ThrottleReduceFPS,
		CriticalFPS:       settings.Thermal.CriticalFPS,
		CleanupInterval:   settings.Recording.CleanupInterval,
		PersistZones: func(zones []motion.ZoneConfig) error {
			return conf.SaveZones(ZonesToSettings(zones))
		},
	}, Deps{
		Camera:   cam,
		Detector: detector,
		Recorder: rec,
		Storage:  storage,
		Probe:    probe,
		Thermal:  ThermalConfig(settings),
		Metrics:  m,
		Events:   bus,
	})
	if err != nil {
		_ = cam.Close()
		return nil, err
	}
	return sys, nil
}

// CameraConfig maps the camera settings to a backend configuration.
func CameraConfig(settings *conf.Settings) camera.Config {
	c := settings.Camera
	return camera.Config{
		Backend:          c.Backend,
		Source:           c.Source,
		FfmpegPath:       c.FfmpegPath,
		MainResolution:   c.MainResolution,
		LowresResolution: c.LowresResolution,
		Framerate:        c.Framerate,
		HFlip:            c.HFlip,
		VFlip:            c.VFlip,
		Bitrate:          c.Bitrate,
		FrameTimeout:     c.FrameTimeout,
	}
}

// ThermalConfig maps the thermal settings to a controller configuration.
func ThermalConfig(settings *conf.Settings) thermal.Config {
	t := settings.Thermal
	return thermal.Config{
		Thresholds: thermal.Thresholds{
			Warning:  t.TempWarning,
			Throttle: t.TempThrottle,
			Critical: t.TempCritical,
		},
		Interval:    time.Duration(t.CheckInterval) * time.Second,
		HistorySize: t.HistorySize,
	}
}

// ZonesFromSettings converts configured zones to detector zones.
func ZonesFromSettings(zones []conf.ZoneSettings) []motion.ZoneConfig {
	out := make([]motion.ZoneConfig, 0, len(zones))
	for _, z := range zones {
		out = append(out, motion.ZoneConfig{
			Name: z.Name, X: z.X, Y: z.Y, Width: z.Width, Height: z.Height, Enabled: z.Enabled,
		})
	}
	return out
}

// ZonesToSettings converts detector zones back for the config file.
func ZonesToSettings(zones []motion.ZoneConfig) []conf.ZoneSettings {
	out := make([]conf.ZoneSettings, 0, len(zones))
	for _, z := range zones {
		out = append(out, conf.ZoneSettings{
			Name: z.Name, X: z.X, Y: z.Y, Width: z.Width, Height: z.Height, Enabled: z.Enabled,
		})
	}
	return out
}
