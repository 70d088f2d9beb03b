package surveillance

import (
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/thermal"
)

// Thermal event levels.
const (
	levelWarning  = "warning"
	levelThrottle = "throttle"
	levelCritical = "critical"
	levelNormal   = "normal"
)

// thermalListener reacts to thermal callbacks on the sampler goroutine by
// adjusting the camera framerate. It never touches recording state.
type thermalListener struct {
	s *System
}

func (l thermalListener) OnWarning(temp float64) {
	l.s.thermalMetrics.RecordCallback(levelWarning, 0)
	// Warning fires on every warm sample; the bus forwards one per window.
	l.s.publish(events.KindThermal, levelWarning, events.Thermal{
		Level:        levelWarning,
		TemperatureC: temp,
		Framerate:    l.s.Framerate(),
	})
}

func (l thermalListener) OnThrottle(temp float64) {
	l.s.reactToTemperature(levelThrottle, temp, l.s.cfg.ThrottleReduceFPS)
}

func (l thermalListener) OnCritical(temp float64) {
	l.s.reactToTemperature(levelCritical, temp, l.s.cfg.CriticalFPS)
}

func (l thermalListener) OnNormal(temp float64) {
	l.s.reactToTemperature(levelNormal, temp, l.s.cfg.Framerate)
}

func (s *System) reactToTemperature(level string, temp float64, fps int) {
	applied := s.camera.SetFramerate(fps)
	if applied {
		s.fps.Store(int64(fps))
	}
	s.thermalMetrics.RecordCallback(level, fps)

	s.log.Info("Adjusted framerate for temperature",
		logger.String("level", level),
		logger.Float64("temp_c", temp),
		logger.Int("fps", fps),
		logger.Bool("applied", applied))

	s.publish(events.KindThermal, "", events.Thermal{
		Level:        level,
		TemperatureC: temp,
		Framerate:    fps,
	})
}

// onThermalSample feeds every scheduled sample into the metrics.
func (s *System) onThermalSample(st thermal.Status, err error) {
	if err != nil {
		s.thermalMetrics.RecordProbeError()
		return
	}
	s.thermalMetrics.UpdateStatus(st.CurrentTemp, int(st.State), st.Throttled, uint32(st.ThrottleFlags))
}
