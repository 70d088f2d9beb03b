// Package surveillance wires the motion detector, the recording lifecycle,
// storage retention and the thermal controller around one camera, and runs
// the frame loop that coordinates them.
//
// A System is created once by the run command and passed explicitly to the
// HTTP control surface. Two activities run concurrently: the frame loop,
// which owns recording state, and the thermal sampler, which only issues
// framerate commands to the camera.
package surveillance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/observability/metrics"
	"github.com/tphakala/motioncam/internal/recorder"
	"github.com/tphakala/motioncam/internal/thermal"
)

const componentName = "surveillance"

const (
	defaultCleanupInterval    = 300
	defaultErrorBackoff       = time.Second
	defaultIdleSleep          = 10 * time.Millisecond
	defaultThermalStopTimeout = 5 * time.Second
	defaultCriticalFPS        = 5

	// commandBuffer bounds queued manual start/stop commands.
	commandBuffer = 4
)

// Config holds the loop and thermal reaction parameters.
type Config struct {
	CameraID          string
	Framerate         int // configured capture framerate, restored on normal temperature
	ThrottleReduceFPS int
	CriticalFPS       int
	CleanupInterval   int // processed frames between retention passes

	ErrorBackoff       time.Duration
	IdleSleep          time.Duration
	ThermalStopTimeout time.Duration

	// PersistZones writes the zone set back to the configuration after every
	// zone mutation. Optional.
	PersistZones func([]motion.ZoneConfig) error
}

// Deps are the collaborators a System coordinates. Probe may be nil to
// disable thermal monitoring; Metrics and Events may be nil.
type Deps struct {
	Camera   camera.Camera
	Detector *motion.Detector
	Recorder *recorder.Manager
	Storage  *diskmanager.Enforcer
	Probe    thermal.Probe
	Thermal  thermal.Config
	Metrics  *observability.Metrics
	Events   *events.Bus
}

// System is the surveillance handle.
type System struct {
	cfg Config

	camera   camera.Camera
	detector *motion.Detector
	recorder *recorder.Manager
	storage  *diskmanager.Enforcer
	thermal  *thermal.Controller
	bus      *events.Bus

	motionMetrics   *metrics.MotionMetrics
	recorderMetrics *metrics.RecorderMetrics
	diskMetrics     *metrics.DiskManagerMetrics
	thermalMetrics  *metrics.ThermalMetrics

	commands chan command

	// persistMu orders zone snapshots with their write-back.
	persistMu sync.Mutex

	running   atomic.Bool
	startedAt atomic.Int64 // unix nanoseconds
	fps       atomic.Int64 // framerate currently requested from the camera

	// Frame loop state, touched only by the loop goroutine.
	frames    uint64
	triggered bool
	manual    bool
	errLimit  *rate.Limiter
	errMuted  int

	framesProcessed atomic.Uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool

	log logger.Logger
}

// New validates the configuration and wires the collaborators. The thermal
// controller is created here with the System as its listener.
func New(cfg Config, deps Deps) (*System, error) {
	if deps.Camera == nil || deps.Detector == nil || deps.Recorder == nil || deps.Storage == nil {
		return nil, errors.Newf("camera, detector, recorder and storage are required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Framerate <= 0 {
		return nil, errors.Newf("framerate %d must be positive", cfg.Framerate).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	lowres := deps.Camera.Info().LowresResolution
	if w, h := deps.Detector.FrameSize(); lowres != [2]int{w, h} {
		return nil, errors.Newf("camera low-resolution stream %dx%d does not match detector frame size %dx%d",
			lowres[0], lowres[1], w, h).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	applyDefaults(&cfg)

	s := &System{
		cfg:      cfg,
		camera:   deps.Camera,
		detector: deps.Detector,
		recorder: deps.Recorder,
		storage:  deps.Storage,
		bus:      deps.Events,
		commands: make(chan command, commandBuffer),
		errLimit: rate.NewLimiter(rate.Every(10*time.Second), 3),
		log:      logger.Global().Module(componentName),
	}
	s.fps.Store(int64(cfg.Framerate))

	if m := deps.Metrics; m != nil {
		s.motionMetrics = m.Motion
		s.recorderMetrics = m.Recorder
		s.diskMetrics = m.DiskManager
		s.thermalMetrics = m.Thermal
	}
	s.motionMetrics.SetThreshold(s.detector.Threshold())
	s.thermalMetrics.SetFramerate(cfg.Framerate)

	if deps.Probe != nil {
		tc, err := thermal.NewController(deps.Thermal, deps.Probe, thermalListener{s}, thermal.WithSampleHook(s.onThermalSample))
		if err != nil {
			return nil, err
		}
		s.thermal = tc
	}

	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.ThermalStopTimeout <= 0 {
		cfg.ThermalStopTimeout = defaultThermalStopTimeout
	}
	if cfg.CriticalFPS <= 0 {
		cfg.CriticalFPS = defaultCriticalFPS
	}
	if cfg.ThrottleReduceFPS <= 0 {
		cfg.ThrottleReduceFPS = max(cfg.Framerate*2/3, cfg.CriticalFPS)
	}
}

// Start launches the frame loop and the thermal sampler. The loop stops when
// ctx is cancelled or Shutdown is called.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Newf("system already shut down").
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	if s.loopDone != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.running.Store(true)
	s.startedAt.Store(time.Now().UnixNano())

	if s.thermal != nil {
		s.thermal.Start()
	}

	info := s.camera.Info()
	s.log.Info("Surveillance started",
		logger.String("backend", info.Backend),
		logger.Int("framerate", s.cfg.Framerate),
		logger.Bool("thermal", s.thermal != nil),
		logger.Int("zones", len(s.detector.Zones())))

	go s.loop(loopCtx)
	return nil
}

// Run starts the system and blocks until ctx is cancelled, then shuts down.
func (s *System) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown()
}

// Shutdown stops the frame loop and the thermal sampler and closes the
// camera. The thermal join is bounded; a sampler that does not exit in time
// is reported but does not block shutdown.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	s.running.Store(false)
	if cancel != nil {
		cancel()
	}

	var errs []error
	if s.thermal != nil {
		if err := s.thermal.Stop(s.cfg.ThermalStopTimeout); err != nil {
			s.log.Warn("Thermal monitor did not stop in time", logger.Error(err))
			errs = append(errs, err)
		}
	}

	if loopDone != nil {
		<-loopDone
	}

	if err := s.camera.Close(); err != nil {
		s.log.Warn("Failed to close camera", logger.Error(err))
		errs = append(errs, errors.New(err).
			Component(componentName).
			Category(errors.CategoryCamera).
			Context("operation", "close_camera").
			Build())
	}

	s.logFinalStats()
	return errors.Join(errs...)
}

func (s *System) logFinalStats() {
	rs := s.recorder.Stats()
	ms := s.detector.State()
	fields := []logger.Field{
		logger.Uint64("total_recordings", rs.TotalRecordings),
		logger.Int64("recorded_bytes", rs.TotalBytes),
		logger.Uint64("frames_processed", s.framesProcessed.Load()),
		logger.Uint64("motion_triggers", ms.TotalTriggers),
	}
	if s.thermal != nil {
		fields = append(fields, logger.Float64("average_temp_c", s.thermal.Status().AverageTemp))
	}
	if started := s.startedAt.Load(); started > 0 {
		fields = append(fields, logger.Duration("uptime", time.Since(time.Unix(0, started))))
	}
	s.log.Info("Surveillance stopped", fields...)
}

// Running reports whether the frame loop is active.
func (s *System) Running() bool {
	return s.running.Load()
}

// Framerate returns the framerate currently requested from the camera.
func (s *System) Framerate() int {
	return int(s.fps.Load())
}

// Status is a point-in-time snapshot of the whole system.
type Status struct {
	Running         bool                     `json:"running"`
	StartedAt       time.Time                `json:"startedAt,omitzero"`
	FramesProcessed uint64                   `json:"framesProcessed"`
	Framerate       int                      `json:"framerate"`
	Motion          motion.State             `json:"motion"`
	Recording       recorder.Stats           `json:"recording"`
	Thermal         *thermal.Status          `json:"thermal,omitempty"`
	Camera          camera.Info              `json:"camera"`
	Storage         diskmanager.StorageStats `json:"storage"`
	Events          events.Stats             `json:"events"`
}

// Status returns a snapshot of every component.
func (s *System) Status() Status {
	st := Status{
		Running:         s.Running(),
		FramesProcessed: s.framesProcessed.Load(),
		Framerate:       s.Framerate(),
		Motion:          s.detector.State(),
		Recording:       s.recorder.Stats(),
		Camera:          s.camera.Info(),
		Storage:         s.storage.Stats(),
		Events:          s.bus.Stats(),
	}
	if started := s.startedAt.Load(); started > 0 {
		st.StartedAt = time.Unix(0, started)
	}
	if s.thermal != nil {
		ts := s.thermal.Status()
		st.Thermal = &ts
	}
	return st
}

// publish hands an event to the bus without blocking the caller.
func (s *System) publish(kind events.Kind, dedupeKey string, payload any) {
	s.bus.TryPublish(events.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		CameraID:  s.cfg.CameraID,
		Payload:   payload,
		DedupeKey: dedupeKey,
	})
}
