// Package motion implements zone-based frame-difference motion detection.
//
// Each zone keeps the previous frame's pixels for its rectangle and reports
// the mean squared difference (MSE) against the current frame. Motion in any
// enabled zone counts as global motion, and the detector only reports a
// trigger after MinFrames consecutive motion frames.
package motion

import (
	"math"
	"slices"
	"sync"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// FullFrameZone is the name of the zone created when none are configured.
const FullFrameZone = "full_frame"

const componentName = "motion"

// Config configures a Detector.
type Config struct {
	Width     int          // luma frame width in pixels
	Height    int          // luma frame height in pixels
	Threshold float64      // MSE above which a zone is in motion
	MinFrames int          // consecutive motion frames required to trigger
	Zones     []ZoneConfig // empty: a single full_frame zone
}

// ZoneResult is the outcome for one enabled zone in a frame.
type ZoneResult struct {
	Name   string  `json:"name"`
	MSE    float64 `json:"mse"`
	Motion bool    `json:"motion"`
}

// Result is the outcome of processing one frame.
type Result struct {
	Triggered bool         `json:"triggered"` // debounced motion
	Motion    bool         `json:"motion"`    // raw motion in this frame
	Zones     []ZoneResult `json:"zones"`
}

// ZoneState describes a zone in a State snapshot.
type ZoneState struct {
	ZoneConfig
	HasBaseline bool `json:"hasBaseline"`
}

// State is a point-in-time snapshot of the detector.
type State struct {
	Threshold       float64      `json:"threshold"`
	Sensitivity     string       `json:"sensitivity"`
	MinFrames       int          `json:"minFrames"`
	MotionFrames    int          `json:"motionFrames"`
	NoMotionFrames  int          `json:"noMotionFrames"`
	Triggered       bool         `json:"triggered"`
	Zones           []ZoneState  `json:"zones"`
	LastResults     []ZoneResult `json:"lastResults"`
	TotalTriggers   uint64       `json:"totalTriggers"`
	FramesProcessed uint64       `json:"framesProcessed"`
	FrameWidth      int          `json:"frameWidth"`
	FrameHeight     int          `json:"frameHeight"`
}

// Detector is a zone motion detector. It is safe for concurrent use.
type Detector struct {
	mu sync.Mutex

	width, height int
	threshold     float64
	minFrames     int
	zones         []*zone

	motionFrames   int
	noMotionFrames int

	lastResults     []ZoneResult
	totalTriggers   uint64
	framesProcessed uint64

	log logger.Logger
}

// NewDetector validates cfg and creates a Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, validationError("frame size %dx%d must be positive", cfg.Width, cfg.Height).
			Context("operation", "new_detector").
			Build()
	}
	if err := checkThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.MinFrames < 1 {
		return nil, validationError("min frames %d must be at least 1", cfg.MinFrames).
			Context("operation", "new_detector").
			Build()
	}

	d := &Detector{
		width:     cfg.Width,
		height:    cfg.Height,
		threshold: cfg.Threshold,
		minFrames: cfg.MinFrames,
		log:       logger.Global().Module(componentName),
	}

	zones := cfg.Zones
	if len(zones) == 0 {
		zones = []ZoneConfig{{Name: FullFrameZone, Width: cfg.Width, Height: cfg.Height, Enabled: true}}
	}
	for _, zc := range zones {
		if err := d.checkZone(zc); err != nil {
			return nil, err
		}
		if d.indexOf(zc.Name) >= 0 {
			return nil, validationError("zone %q is defined more than once", zc.Name).
				Context("operation", "new_detector").
				Build()
		}
		d.zones = append(d.zones, newZone(zc))
	}

	d.log.Info("Motion detector initialized",
		logger.Int("width", d.width),
		logger.Int("height", d.height),
		logger.Float64("threshold", d.threshold),
		logger.String("sensitivity", levelForThreshold(d.threshold)),
		logger.Int("min_frames", d.minFrames),
		logger.Int("zones", len(d.zones)))

	return d, nil
}

// ProcessFrame compares frame with each enabled zone's baseline and updates the
// debounce counters. A frame of the wrong size returns an error and leaves the
// detector untouched.
func (d *Detector) ProcessFrame(frame []byte) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(frame) != d.width*d.height {
		return Result{}, errors.Newf("frame size %d does not match %dx%d", len(frame), d.width, d.height).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("operation", "process_frame").
			Context("frame_bytes", len(frame)).
			Build()
	}

	results := make([]ZoneResult, 0, len(d.zones))
	motion := false
	for _, z := range d.zones {
		if !z.Enabled {
			continue
		}
		mse := z.compare(frame, d.width)
		zoneMotion := mse > d.threshold
		motion = motion || zoneMotion
		results = append(results, ZoneResult{Name: z.Name, MSE: mse, Motion: zoneMotion})
	}

	if motion {
		d.motionFrames++
		d.noMotionFrames = 0
	} else {
		d.motionFrames = 0
		d.noMotionFrames++
	}

	triggered := d.motionFrames >= d.minFrames
	if d.motionFrames == d.minFrames {
		d.totalTriggers++
		d.log.Debug("Motion triggered", logger.Any("zones", motionZoneNames(results)))
	}

	d.framesProcessed++
	d.lastResults = results

	return Result{Triggered: triggered, Motion: motion, Zones: slices.Clone(results)}, nil
}

// SetSensitivity applies a named preset threshold.
func (d *Detector) SetSensitivity(level string) error {
	threshold, ok := presets[level]
	if !ok {
		return validationError("unknown sensitivity level %q", level).
			Context("operation", "set_sensitivity").
			Context("valid_levels", PresetNames()).
			Build()
	}

	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()

	d.log.Info("Motion sensitivity changed",
		logger.String("sensitivity", level),
		logger.Float64("threshold", threshold))
	return nil
}

// SetThreshold sets a raw MSE threshold.
func (d *Detector) SetThreshold(threshold float64) error {
	if err := checkThreshold(threshold); err != nil {
		return err
	}

	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()

	d.log.Info("Motion threshold changed",
		logger.Float64("threshold", threshold),
		logger.String("sensitivity", levelForThreshold(threshold)))
	return nil
}

// Threshold returns the current MSE threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// SensitivityLevel classifies the current threshold into a preset name.
func (d *Detector) SensitivityLevel() string {
	return levelForThreshold(d.Threshold())
}

// AddZone adds a zone. Out-of-bounds rectangles and duplicate names are
// rejected without changing the zone set. Adding a zone resets the detector.
func (d *Detector) AddZone(cfg ZoneConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkZone(cfg); err != nil {
		return err
	}
	if d.indexOf(cfg.Name) >= 0 {
		return validationError("zone %q already exists", cfg.Name).
			Context("operation", "add_zone").
			Context("zone", cfg.Name).
			Build()
	}

	d.zones = append(d.zones, newZone(cfg))
	d.resetLocked()

	d.log.Info("Motion zone added",
		logger.String("zone", cfg.Name),
		logger.Int("x", cfg.X),
		logger.Int("y", cfg.Y),
		logger.Int("width", cfg.Width),
		logger.Int("height", cfg.Height))
	return nil
}

// RemoveZone removes a zone by name. It returns false when no such zone exists.
func (d *Detector) RemoveZone(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexOf(name)
	if i < 0 {
		return false
	}
	d.zones = slices.Delete(d.zones, i, i+1)
	d.resetLocked()

	d.log.Info("Motion zone removed", logger.String("zone", name))
	return true
}

// EnableZone enables a zone and reports whether it was found.
func (d *Detector) EnableZone(name string) bool {
	return d.setZoneEnabled(name, true)
}

// DisableZone disables a zone and reports whether it was found.
// A disabled zone keeps its baseline untouched until re-enabled.
func (d *Detector) DisableZone(name string) bool {
	return d.setZoneEnabled(name, false)
}

func (d *Detector) setZoneEnabled(name string, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexOf(name)
	if i < 0 {
		return false
	}
	d.zones[i].Enabled = enabled

	d.log.Info("Motion zone updated", logger.String("zone", name), logger.Bool("enabled", enabled))
	return true
}

// Reset clears every baseline and both run-length counters.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.log.Debug("Motion detector reset")
}

func (d *Detector) resetLocked() {
	for _, z := range d.zones {
		z.baseline = nil
	}
	d.motionFrames = 0
	d.noMotionFrames = 0
	d.lastResults = nil
}

// Zones returns the current zone definitions in order.
func (d *Detector) Zones() []ZoneConfig {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ZoneConfig, len(d.zones))
	for i, z := range d.zones {
		out[i] = z.ZoneConfig
	}
	return out
}

// FrameSize returns the expected luma frame dimensions.
func (d *Detector) FrameSize() (width, height int) {
	return d.width, d.height
}

// State returns a snapshot of the detector.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	zones := make([]ZoneState, len(d.zones))
	for i, z := range d.zones {
		zones[i] = ZoneState{ZoneConfig: z.ZoneConfig, HasBaseline: z.baseline != nil}
	}

	return State{
		Threshold:       d.threshold,
		Sensitivity:     levelForThreshold(d.threshold),
		MinFrames:       d.minFrames,
		MotionFrames:    d.motionFrames,
		NoMotionFrames:  d.noMotionFrames,
		Triggered:       d.motionFrames >= d.minFrames,
		Zones:           zones,
		LastResults:     slices.Clone(d.lastResults),
		TotalTriggers:   d.totalTriggers,
		FramesProcessed: d.framesProcessed,
		FrameWidth:      d.width,
		FrameHeight:     d.height,
	}
}

func (d *Detector) indexOf(name string) int {
	return slices.IndexFunc(d.zones, func(z *zone) bool { return z.Name == name })
}

func (d *Detector) checkZone(cfg ZoneConfig) error {
	if cfg.Name == "" {
		return validationError("zone name cannot be empty").
			Context("operation", "add_zone").
			Build()
	}
	if !cfg.inBounds(d.width, d.height) {
		return validationError("zone %q (%d,%d %dx%d) exceeds frame bounds %dx%d",
			cfg.Name, cfg.X, cfg.Y, cfg.Width, cfg.Height, d.width, d.height).
			Context("operation", "add_zone").
			Context("zone", cfg.Name).
			Build()
	}
	return nil
}

func checkThreshold(threshold float64) error {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return validationError("threshold %v must be a positive finite number", threshold).
			Context("operation", "set_threshold").
			Build()
	}
	return nil
}

func validationError(format string, args ...any) *errors.ErrorBuilder {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryValidation)
}

func motionZoneNames(results []ZoneResult) []string {
	var names []string
	for _, r := range results {
		if r.Motion {
			names = append(names, r.Name)
		}
	}
	return names
}
