package surveillance

import (
	"path/filepath"
	"time"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/thermal"
)

// Zones returns the detection zones with their baseline status.
func (s *System) Zones() []motion.ZoneState {
	return s.detector.State().Zones
}

// AddZone adds a detection zone and persists the zone set.
func (s *System) AddZone(cfg motion.ZoneConfig) error {
	if err := s.detector.AddZone(cfg); err != nil {
		return err
	}
	s.log.Info("Zone added", logger.String("zone", cfg.Name))
	s.persistZones()
	return nil
}

// EnableZone enables a zone by name.
func (s *System) EnableZone(name string) error {
	if !s.detector.EnableZone(name) {
		return zoneNotFound(name)
	}
	s.persistZones()
	return nil
}

// DisableZone disables a zone by name.
func (s *System) DisableZone(name string) error {
	if !s.detector.DisableZone(name) {
		return zoneNotFound(name)
	}
	s.persistZones()
	return nil
}

// RemoveZone deletes a zone by name.
func (s *System) RemoveZone(name string) error {
	if !s.detector.RemoveZone(name) {
		return zoneNotFound(name)
	}
	s.motionMetrics.RemoveZone(name)
	s.log.Info("Zone removed", logger.String("zone", name))
	s.persistZones()
	return nil
}

// persistZones writes the zone set back to the configuration. The in-memory
// change stands even when the write fails. Snapshot and write happen under one
// lock so the last write always carries the latest zone set.
func (s *System) persistZones() {
	if s.cfg.PersistZones == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.cfg.PersistZones(s.detector.Zones()); err != nil {
		s.log.Warn("Failed to save zones to configuration", logger.Error(err))
	}
}

func zoneNotFound(name string) error {
	return errors.Newf("zone %q not found", name).
		Component(componentName).
		Category(errors.CategoryNotFound).
		Context("zone", name).
		Build()
}

// Sensitivity describes the detector sensitivity.
type Sensitivity struct {
	Level     string             `json:"level"`
	Threshold float64            `json:"threshold"`
	MinFrames int                `json:"minFrames"`
	Presets   map[string]float64 `json:"presets"`
}

// Sensitivity returns the current sensitivity and the preset table.
func (s *System) Sensitivity() Sensitivity {
	st := s.detector.State()
	return Sensitivity{
		Level:     st.Sensitivity,
		Threshold: st.Threshold,
		MinFrames: st.MinFrames,
		Presets:   motion.Presets(),
	}
}

// SetSensitivity applies a named preset.
func (s *System) SetSensitivity(level string) error {
	if err := s.detector.SetSensitivity(level); err != nil {
		return err
	}
	s.motionMetrics.SetThreshold(s.detector.Threshold())
	s.log.Info("Sensitivity changed",
		logger.String("level", level),
		logger.Float64("threshold", s.detector.Threshold()))
	return nil
}

// SetThreshold sets a raw MSE threshold.
func (s *System) SetThreshold(threshold float64) error {
	if err := s.detector.SetThreshold(threshold); err != nil {
		return err
	}
	s.motionMetrics.SetThreshold(threshold)
	s.log.Info("Threshold changed", logger.Float64("threshold", threshold))
	return nil
}

// ResetDetector clears zone baselines and debounce counters.
func (s *System) ResetDetector() {
	s.detector.Reset()
}

// Recordings lists recordings newest first.
func (s *System) Recordings() ([]diskmanager.Recording, error) {
	return s.storage.ListRecordings()
}

// RecordingPath resolves a recording name to its file for download.
func (s *System) RecordingPath(name string) (string, error) {
	return s.storage.RecordingPath(name)
}

// DeleteRecording deletes a finished recording. The file of the active
// session cannot be deleted.
func (s *System) DeleteRecording(name string) error {
	if cur, active := s.recorder.Current(); active && filepath.Base(cur.Path) == name {
		return errors.Newf("recording %q is in progress", name).
			Component(componentName).
			Category(errors.CategoryConflict).
			Context("operation", "delete_recording").
			Build()
	}
	return s.storage.DeleteRecording(name)
}

// Storage returns the last storage snapshot.
func (s *System) Storage() diskmanager.StorageStats {
	return s.storage.Stats()
}

// ThermalEnabled reports whether thermal monitoring is active.
func (s *System) ThermalEnabled() bool {
	return s.thermal != nil
}

// ThermalStatus returns the thermal controller status. ok is false when
// thermal monitoring is disabled.
func (s *System) ThermalStatus() (status thermal.Status, ok bool) {
	if s.thermal == nil {
		return thermal.Status{}, false
	}
	return s.thermal.Status(), true
}

// ThermalHistory returns the samples taken within window.
func (s *System) ThermalHistory(window time.Duration) []thermal.Sample {
	if s.thermal == nil {
		return nil
	}
	return s.thermal.History(window)
}

// CameraInfo describes the camera.
func (s *System) CameraInfo() camera.Info {
	return s.camera.Info()
}
